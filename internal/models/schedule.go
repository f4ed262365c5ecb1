package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var itemNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sendplan.scheduled_item"))

// ItemID derives a stable item identifier from the creator, week and a key
// unique within the week.
func ItemID(creatorID string, weekStart time.Time, key string) string {
	name := creatorID + "|" + weekStart.Format(time.DateOnly) + "|" + key
	return uuid.NewSHA1(itemNamespace, []byte(name)).String()
}

// DayQuota is the number of items per category for one day.
type DayQuota struct {
	Revenue    int `json:"revenue"`
	Engagement int `json:"engagement"`
	Retention  int `json:"retention"`
}

// Get returns the count for a category.
func (q DayQuota) Get(c Category) int {
	switch c {
	case CategoryRevenue:
		return q.Revenue
	case CategoryEngagement:
		return q.Engagement
	case CategoryRetention:
		return q.Retention
	}
	return 0
}

// Set replaces the count for a category.
func (q *DayQuota) Set(c Category, n int) {
	switch c {
	case CategoryRevenue:
		q.Revenue = n
	case CategoryEngagement:
		q.Engagement = n
	case CategoryRetention:
		q.Retention = n
	}
}

// Total is the number of items across categories.
func (q DayQuota) Total() int {
	return q.Revenue + q.Engagement + q.Retention
}

// VolumeQuota is the Volume Calculator output for one creator week.
type VolumeQuota struct {
	Tier               string            `json:"tier"`
	Days               [7]DayQuota       `json:"days"`
	Confidence         float64           `json:"confidence"`
	AdjustmentsApplied []string          `json:"adjustmentsApplied"`
	Warnings           []string          `json:"warnings,omitempty"`
	ElasticityCapped   map[Category]bool `json:"elasticityCapped,omitempty"`
	ContentAllocation  map[string]int    `json:"contentAllocation,omitempty"`
	ContentPriority    []string          `json:"contentPriority,omitempty"`
}

// Weekly sums a category across the week.
func (v VolumeQuota) Weekly(c Category) int {
	total := 0
	for _, d := range v.Days {
		total += d.Get(c)
	}
	return total
}

// HasAdjustment reports whether a stage tag was recorded.
func (v VolumeQuota) HasAdjustment(tag string) bool {
	for _, a := range v.AdjustmentsApplied {
		if a == tag {
			return true
		}
	}
	return false
}

// AnyElasticityCapped reports whether any category was capped.
func (v VolumeQuota) AnyElasticityCapped() bool {
	for _, capped := range v.ElasticityCapped {
		if capped {
			return true
		}
	}
	return false
}

// AllocationSlot is one send-type assignment within a day.
type AllocationSlot struct {
	Day      int      `json:"day"`
	Index    int      `json:"index"`
	Category Category `json:"category"`
	SendType string   `json:"sendType"`
	Strategy string   `json:"strategy"`
	Priority int      `json:"priority"`
}

// CaptionCandidate is a caption offered by the data provider for a send type.
type CaptionCandidate struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Freshness   float64 `json:"freshness"`
	Performance float64 `json:"performance"`
	ContentType string  `json:"content_type"`
}

// ScheduledItem is one concrete send in the produced schedule. The JSON field
// names are a stable contract for downstream consumers.
type ScheduledItem struct {
	ID           string   `json:"id"`
	Date         string   `json:"date"`
	Time         string   `json:"time"`
	SendType     string   `json:"sendType"`
	Category     Category `json:"category"`
	Channel      string   `json:"channel"`
	Target       string   `json:"target"`
	CaptionID    *string  `json:"captionId"`
	Price        *float64 `json:"price"`
	ExpiresAt    *string  `json:"expiresAt"`
	ParentItemID *string  `json:"parentItemId"`
	IsFollowUp   bool     `json:"isFollowUp"`
	NeedsCaption bool     `json:"needsCaption"`

	Day                int     `json:"-"`
	Minute             int     `json:"-"`
	SlotIndex          int     `json:"-"`
	Priority           int     `json:"-"`
	Strategy           string  `json:"-"`
	ContentType        string  `json:"-"`
	CaptionFreshness   float64 `json:"-"`
	CaptionPerformance float64 `json:"-"`
	CaptionDegraded    bool    `json:"-"`
}

// ClockString renders a minute-of-day as HH:MM:SS.
func ClockString(minute int) string {
	return fmt.Sprintf("%02d:%02d:00", minute/60, minute%60)
}

// Stamp fills Date and Time from Day and Minute relative to weekStart.
func (it *ScheduledItem) Stamp(weekStart time.Time) {
	it.Date = weekStart.AddDate(0, 0, it.Day).Format(time.DateOnly)
	it.Time = ClockString(it.Minute)
}

// At returns the scheduled instant in the location of weekStart.
func (it ScheduledItem) At(weekStart time.Time) time.Time {
	d := weekStart.AddDate(0, 0, it.Day)
	return time.Date(d.Year(), d.Month(), d.Day(), it.Minute/60, it.Minute%60, 0, 0, weekStart.Location())
}

// ReportStatus is the overall verdict of validation.
type ReportStatus string

const (
	StatusApproved    ReportStatus = "approved"
	StatusNeedsReview ReportStatus = "needs_review"
	StatusRejected    ReportStatus = "rejected"
)

// Finding is a single violation or warning raised by a validator.
type Finding struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	ItemID   string `json:"itemId,omitempty"`
}

// ValidationReport is the gatekeeper verdict handed to persistence.
type ValidationReport struct {
	Status     ReportStatus `json:"status"`
	Score      float64      `json:"score"`
	Violations []Finding    `json:"violations"`
	Warnings   []Finding    `json:"warnings"`
}
