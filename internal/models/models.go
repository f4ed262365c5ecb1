package models

import "time"

// Category groups send types by the outcome they drive.
type Category string

const (
	CategoryRevenue    Category = "revenue"
	CategoryEngagement Category = "engagement"
	CategoryRetention  Category = "retention"
)

// Categories lists every category in allocation order.
var Categories = []Category{CategoryRevenue, CategoryEngagement, CategoryRetention}

// PageType is the monetization mode of a creator page.
type PageType string

const (
	PagePaid PageType = "paid"
	PageFree PageType = "free"
)

// Persona describes the creator voice used for persona-fit scoring of captions.
type Persona struct {
	Tone     string   `json:"tone"`
	Keywords []string `json:"keywords"`
}

// CreatorContext is loaded once per run and never mutated.
type CreatorContext struct {
	ID                string   `json:"id"`
	PageName          string   `json:"page_name"`
	PageType          PageType `json:"page_type"`
	FanCount          int      `json:"fan_count"`
	Timezone          string   `json:"timezone"`
	ContentMultiplier float64  `json:"content_multiplier"`
	Persona           Persona  `json:"persona"`
}

// Location resolves the creator timezone, falling back to UTC.
func (c CreatorContext) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Horizon is a performance look-back window.
type Horizon string

const (
	Horizon7d  Horizon = "7d"
	Horizon14d Horizon = "14d"
	Horizon30d Horizon = "30d"
)

// Horizons lists look-back windows from shortest to longest.
var Horizons = []Horizon{Horizon7d, Horizon14d, Horizon30d}

type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendFlat TrendDirection = "flat"
	TrendDown TrendDirection = "down"
)

// ContentRank is the historical earnings of one content type.
type ContentRank struct {
	ContentType string  `json:"content_type"`
	Earnings    float64 `json:"earnings"`
}

// PerformanceSnapshot holds precomputed performance signals for one horizon.
type PerformanceSnapshot struct {
	Horizon         Horizon        `json:"horizon"`
	Saturation      float64        `json:"saturation"`
	Opportunity     float64        `json:"opportunity"`
	RevenueTrend    TrendDirection `json:"revenue_trend"`
	MessageCount    int            `json:"message_count"`
	ContentRankings []ContentRank  `json:"content_rankings,omitempty"`
}

// FusedPerformance is the horizon-weighted combination of snapshots.
type FusedPerformance struct {
	Saturation         float64        `json:"saturation"`
	Opportunity        float64        `json:"opportunity"`
	DivergenceDetected bool           `json:"divergence_detected"`
	NoData             bool           `json:"no_data"`
	SampleCount        int            `json:"sample_count"`
	RevenueTrend       TrendDirection `json:"revenue_trend"`
	ContentRankings    []ContentRank  `json:"content_rankings,omitempty"`
	HorizonsUsed       []Horizon      `json:"horizons_used"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// TimingHistory carries historical peak hours and per-weekday engagement.
// DayMultipliers is indexed by time.Weekday and may be empty.
type TimingHistory struct {
	PeakHours      []int     `json:"peak_hours"`
	DayMultipliers []float64 `json:"day_multipliers"`
}

// ElasticitySignal reports the observed marginal return of added volume.
type ElasticitySignal struct {
	Category       Category `json:"category"`
	CurrentWeekly  int      `json:"current_weekly"`
	MarginalReturn float64  `json:"marginal_return"`
}
