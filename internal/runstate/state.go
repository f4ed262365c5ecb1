// Package runstate holds the mutable counters owned by a single schedule run.
package runstate

import (
	"math/rand/v2"
	"time"

	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/sampler"
)

// RunState is created per run and passed by pointer through every phase.
// Nothing in it is shared with another run.
type RunState struct {
	RunID     string
	CreatorID string
	WeekStart time.Time
	Seed      uint64
	Creator   models.CreatorContext
	Catalog   models.Catalog
	Fused     models.FusedPerformance
	Quota     models.VolumeQuota
	Timing    models.TimingHistory

	// WeeklyUsage counts allocated items per send type across the week.
	WeeklyUsage map[string]int
	// DailyUsage counts allocated items per send type per day index.
	DailyUsage [7]map[string]int
	// Strategies records the strategy chosen for each day.
	Strategies [7]string

	UsedCaptions     map[string]bool
	ContentTypeUsage map[string]int
	CaptionCache     map[string][]models.CaptionCandidate

	Warnings []string

	rngs map[string]*rand.Rand
}

func New(runID string, creator models.CreatorContext, weekStart time.Time, seed uint64, catalog models.Catalog) *RunState {
	s := &RunState{
		RunID:            runID,
		CreatorID:        creator.ID,
		WeekStart:        weekStart,
		Seed:             seed,
		Creator:          creator,
		Catalog:          catalog,
		WeeklyUsage:      map[string]int{},
		UsedCaptions:     map[string]bool{},
		ContentTypeUsage: map[string]int{},
		CaptionCache:     map[string][]models.CaptionCandidate{},
		rngs:             map[string]*rand.Rand{},
	}
	s.ResetUsage()
	return s
}

// Rand returns the deterministic stream for a phase, creating it on first use.
func (s *RunState) Rand(phase string) *rand.Rand {
	if r, ok := s.rngs[phase]; ok {
		return r
	}
	r := sampler.Derive(s.Seed, phase)
	s.rngs[phase] = r
	return r
}

// ResetUsage clears allocation counters before an allocation attempt.
func (s *RunState) ResetUsage() {
	s.WeeklyUsage = map[string]int{}
	for d := range s.DailyUsage {
		s.DailyUsage[d] = map[string]int{}
	}
	s.Strategies = [7]string{}
}

// RecordUse counts one allocated item of a send type on a day.
func (s *RunState) RecordUse(day int, sendType string) {
	s.WeeklyUsage[sendType]++
	s.DailyUsage[day][sendType]++
}

// Warn appends a run-level warning.
func (s *RunState) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}
