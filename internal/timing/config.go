package timing

import "github.com/xaenox/sendplan/internal/models"

type Config struct {
	// DefaultPeakHours apply when the creator has no timing history.
	DefaultPeakHours []int `mapstructure:"default_peak_hours"`
	// RotationOffsets shift the prime hours per day, cycling by day index.
	RotationOffsets []int `mapstructure:"rotation_offsets"`
	// WindowOffsets are candidate minutes tried inside one prime hour window.
	WindowOffsets   []int `mapstructure:"window_offsets"`
	MaxDayShift     int   `mapstructure:"max_day_shift_minutes"`
	MaxJitter       int   `mapstructure:"max_jitter_minutes"`
	MinGapMinutes   int   `mapstructure:"min_gap_minutes"`
	RollingWindow   int   `mapstructure:"rolling_window_minutes"`
	MaxPerWindow    int   `mapstructure:"max_per_window"`
	AvoidHours      []int `mapstructure:"avoid_hours"`
	ScanStepMinutes int   `mapstructure:"scan_step_minutes"`
	// RelaxFactors scale MinGapMinutes on successive relaxation passes.
	RelaxFactors   []float64      `mapstructure:"relax_factors"`
	ExactTimeCap   int            `mapstructure:"exact_time_cap"`
	NudgeMin       int            `mapstructure:"nudge_min_minutes"`
	NudgeMax       int            `mapstructure:"nudge_max_minutes"`
	CategoryWeight map[string]int `mapstructure:"category_weight"`
}

func DefaultConfig() Config {
	return Config{
		DefaultPeakHours: []int{10, 14, 19, 21},
		RotationOffsets:  []int{-1, 0, 1},
		WindowOffsets:    []int{0, 20, 40, -20},
		MaxDayShift:      20,
		MaxJitter:        7,
		MinGapMinutes:    45,
		RollingWindow:    240,
		MaxPerWindow:     3,
		AvoidHours:       []int{0, 1, 2, 3, 4, 5, 6},
		ScanStepMinutes:  5,
		RelaxFactors:     []float64{0.75, 0.5, 0.25},
		ExactTimeCap:     2,
		NudgeMin:         10,
		NudgeMax:         15,
		CategoryWeight: map[string]int{
			string(models.CategoryRevenue):    3,
			string(models.CategoryEngagement): 2,
			string(models.CategoryRetention):  1,
		},
	}
}
