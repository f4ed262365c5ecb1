// Package validation is the last gate before a schedule is persisted.
package validation

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/allocation"
	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
)

type Config struct {
	PreferredFreshness     float64        `mapstructure:"preferred_freshness"`
	PreferredPerformance   float64        `mapstructure:"preferred_performance"`
	MinConfidence          float64        `mapstructure:"min_confidence"`
	RevenueShareMin        float64        `mapstructure:"revenue_share_min"`
	RevenueShareMax        float64        `mapstructure:"revenue_share_max"`
	MinDistinctTypes       int            `mapstructure:"min_distinct_types"`
	MinDistinctPerCategory map[string]int `mapstructure:"min_distinct_per_category"`
	// ExactTimeCap is how often one send type may fire at the same time of
	// day within a week.
	ExactTimeCap int `mapstructure:"exact_time_cap"`

	HardPenalty    float64 `mapstructure:"hard_penalty"`
	MediumPenalty  float64 `mapstructure:"medium_penalty"`
	LowPenalty     float64 `mapstructure:"low_penalty"`
	MaxSoftPenalty float64 `mapstructure:"max_soft_penalty"`
	RejectBelow    float64 `mapstructure:"reject_below"`
	ReviewBelow    float64 `mapstructure:"review_below"`
}

func DefaultConfig() Config {
	alloc := allocation.DefaultConfig()
	return Config{
		PreferredFreshness:     30,
		PreferredPerformance:   40,
		MinConfidence:          0.6,
		RevenueShareMin:        0.3,
		RevenueShareMax:        0.6,
		MinDistinctTypes:       alloc.MinDistinctTypes,
		MinDistinctPerCategory: alloc.MinDistinctPerCategory,
		ExactTimeCap:           2,
		HardPenalty:            30,
		MediumPenalty:          2,
		LowPenalty:             1,
		MaxSoftPenalty:         45,
		RejectBelow:            50,
		ReviewBelow:            75,
	}
}

// Plan is everything the gates look at.
type Plan struct {
	Items     []models.ScheduledItem
	Slots     []models.AllocationSlot
	Creator   models.CreatorContext
	Catalog   models.Catalog
	Quota     models.VolumeQuota
	Fused     models.FusedPerformance
	WeekStart time.Time
	// RunWarnings are warnings raised by earlier phases.
	RunWarnings []string
}

// Rule inspects a plan and returns its findings. Rules are independent of
// each other.
type Rule struct {
	Name  string
	Check func(p Plan, cfg Config) []models.Finding
}

type Validator struct {
	cfg    Config
	hard   []Rule
	soft   []Rule
	logger *zap.Logger
}

func NewValidator(cfg Config, logger *zap.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		hard:   HardRules(),
		soft:   SoftRules(),
		logger: logger,
	}
}

// HardRules returns the gates whose violation rejects a schedule.
func HardRules() []Rule {
	return []Rule{
		{Name: "referential_integrity", Check: checkReferences},
		{Name: "page_mode", Check: checkPageMode},
		{Name: "diversity", Check: checkDiversity},
		{Name: "unique_times", Check: checkUniqueTimes},
		{Name: "weekly_caps", Check: checkWeeklyCaps},
		{Name: "slot_adjacency", Check: checkAdjacency},
		{Name: "timeline_adjacency", Check: checkTimelineAdjacency},
		{Name: "exact_time_reuse", Check: checkExactTimes},
		{Name: "date_range", Check: checkDateRange},
	}
}

// SoftRules returns the gates that only lower the score.
func SoftRules() []Rule {
	return []Rule{
		{Name: "caption_quality", Check: checkCaptions},
		{Name: "confidence", Check: checkConfidence},
		{Name: "category_balance", Check: checkBalance},
		{Name: "upstream_warnings", Check: checkUpstream},
	}
}

// Validate runs every gate and derives the verdict from the finding counts.
func (v *Validator) Validate(p Plan) models.ValidationReport {
	report := models.ValidationReport{
		Violations: []models.Finding{},
		Warnings:   []models.Finding{},
	}
	for _, r := range v.hard {
		report.Violations = append(report.Violations, r.Check(p, v.cfg)...)
	}
	for _, r := range v.soft {
		report.Warnings = append(report.Warnings, r.Check(p, v.cfg)...)
	}
	sortFindings(report.Violations)
	sortFindings(report.Warnings)

	report.Score = v.Score(report.Violations, report.Warnings)
	switch {
	case len(report.Violations) > 0 || report.Score < v.cfg.RejectBelow:
		report.Status = models.StatusRejected
	case report.Score < v.cfg.ReviewBelow:
		report.Status = models.StatusNeedsReview
	default:
		report.Status = models.StatusApproved
	}

	v.logger.Info("Schedule validated",
		zap.String("creator_id", p.Creator.ID),
		zap.String("status", string(report.Status)),
		zap.Float64("score", report.Score),
		zap.Int("violations", len(report.Violations)),
		zap.Int("warnings", len(report.Warnings)))
	return report
}

// Score is 100 minus the hard penalties and the capped soft penalties,
// clamped to [0,100].
func (v *Validator) Score(violations, warnings []models.Finding) float64 {
	soft := 0.0
	for _, w := range warnings {
		switch apperr.Severity(w.Severity) {
		case apperr.Medium, apperr.High:
			soft += v.cfg.MediumPenalty
		default:
			soft += v.cfg.LowPenalty
		}
	}
	if v.cfg.MaxSoftPenalty > 0 && soft > v.cfg.MaxSoftPenalty {
		soft = v.cfg.MaxSoftPenalty
	}
	score := 100 - v.cfg.HardPenalty*float64(len(violations)) - soft
	if score < 0 {
		return 0
	}
	return score
}

func sortFindings(fs []models.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Code != fs[j].Code {
			return fs[i].Code < fs[j].Code
		}
		return fs[i].ItemID < fs[j].ItemID
	})
}

func finding(code string, sev apperr.Severity, itemID, msg string) models.Finding {
	return models.Finding{Code: code, Severity: string(sev), Message: msg, ItemID: itemID}
}
