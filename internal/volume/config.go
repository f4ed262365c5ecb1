package volume

import "github.com/xaenox/sendplan/internal/models"

// TierConfig maps a fan-count band to per-day category targets.
type TierConfig struct {
	Name    string          `mapstructure:"name"`
	MinFans int             `mapstructure:"min_fans"`
	Default models.DayQuota `mapstructure:"default"`
	Min     models.DayQuota `mapstructure:"min"`
	Max     models.DayQuota `mapstructure:"max"`
}

// Config holds every tunable of the volume stages.
type Config struct {
	Tiers                    []TierConfig `mapstructure:"tiers"`
	DampeningSampleThreshold int          `mapstructure:"dampening_sample_threshold"`
	NoDampeningConfidence    float64      `mapstructure:"no_dampening_confidence"`
	DampeningPivot           float64      `mapstructure:"dampening_pivot"`
	DivergencePenalty        float64      `mapstructure:"divergence_penalty"`
	MinConfidence            float64      `mapstructure:"min_confidence"`
	// LegacyDayMultipliers is indexed by time.Weekday (Sunday first).
	LegacyDayMultipliers []float64 `mapstructure:"legacy_day_multipliers"`
	ElasticityThreshold  float64   `mapstructure:"elasticity_threshold"`
	CaptionPoolFloor     int       `mapstructure:"caption_pool_floor"`
	ContentTypesTop      int       `mapstructure:"content_types_top"`
}

func DefaultConfig() Config {
	return Config{
		Tiers: []TierConfig{
			{
				Name: "low", MinFans: 0,
				Default: models.DayQuota{Revenue: 3, Engagement: 3, Retention: 1},
				Min:     models.DayQuota{Revenue: 1, Engagement: 1, Retention: 0},
				Max:     models.DayQuota{Revenue: 4, Engagement: 4, Retention: 2},
			},
			{
				Name: "mid", MinFans: 1000,
				Default: models.DayQuota{Revenue: 4, Engagement: 4, Retention: 2},
				Min:     models.DayQuota{Revenue: 2, Engagement: 2, Retention: 1},
				Max:     models.DayQuota{Revenue: 5, Engagement: 5, Retention: 2},
			},
			{
				Name: "high", MinFans: 5000,
				Default: models.DayQuota{Revenue: 5, Engagement: 5, Retention: 2},
				Min:     models.DayQuota{Revenue: 3, Engagement: 3, Retention: 1},
				Max:     models.DayQuota{Revenue: 6, Engagement: 6, Retention: 3},
			},
			{
				Name: "ultra", MinFans: 15000,
				Default: models.DayQuota{Revenue: 6, Engagement: 6, Retention: 3},
				Min:     models.DayQuota{Revenue: 4, Engagement: 4, Retention: 1},
				Max:     models.DayQuota{Revenue: 8, Engagement: 7, Retention: 3},
			},
		},
		DampeningSampleThreshold: 30,
		NoDampeningConfidence:    0.8,
		DampeningPivot:           0.6,
		DivergencePenalty:        0.15,
		MinConfidence:            0.1,
		LegacyDayMultipliers:     []float64{1.10, 0.90, 0.95, 1.00, 1.00, 1.15, 1.10},
		ElasticityThreshold:      0.05,
		CaptionPoolFloor:         3,
		ContentTypesTop:          5,
	}
}
