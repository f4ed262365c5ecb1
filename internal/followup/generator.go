// Package followup derives re-targeting sends from eligible primary items.
package followup

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/runstate"
)

const rngPhase = "followup"

type Config struct {
	MinDelayMinutes int `mapstructure:"min_delay_minutes"`
	MaxDelayMinutes int `mapstructure:"max_delay_minutes"`
	MaxPerDay       int `mapstructure:"max_per_day"`
	// CutoffMinute is the latest minute of day a follow-up may fire.
	CutoffMinute int `mapstructure:"cutoff_minute"`
	// MorningMinute is where follow-ups past the cutoff land the next day.
	MorningMinute int `mapstructure:"morning_minute"`
	// ExactTimeCap limits how often follow-ups share one time of day per week.
	ExactTimeCap int `mapstructure:"exact_time_cap"`
}

func DefaultConfig() Config {
	return Config{
		MinDelayMinutes: 15,
		MaxDelayMinutes: 30,
		MaxPerDay:       4,
		CutoffMinute:    23*60 + 30,
		MorningMinute:   8 * 60,
		ExactTimeCap:    2,
	}
}

type Generator struct {
	cfg    Config
	logger *zap.Logger
}

func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	if cfg.MaxDelayMinutes < cfg.MinDelayMinutes {
		cfg.MaxDelayMinutes = cfg.MinDelayMinutes
	}
	return &Generator{cfg: cfg, logger: logger}
}

// Generate returns one follow-up per eligible primary item, at most
// MaxPerDay per day. Items must already carry IDs. The delay stays inside
// [MinDelayMinutes, MaxDelayMinutes]; a follow-up with no free minute in that
// window before the cutoff, or whose sampled time is past the cutoff, moves
// to the next morning, which may be the day after the week.
func (g *Generator) Generate(items []models.ScheduledItem, state *runstate.RunState) []models.ScheduledItem {
	rng := state.Rand(rngPhase)
	tmpl, ok := state.Catalog[models.FollowUpSendType]
	if !ok {
		g.logger.Warn("Follow-up send type missing from catalog")
		return nil
	}

	sl := &slots{
		cfg:   g.cfg,
		taken: make(map[[2]int]bool, len(items)),
		exact: map[int]int{},
	}
	byDay := map[int][]models.ScheduledItem{}
	for _, it := range items {
		sl.taken[[2]int{it.Day, it.Minute}] = true
		if it.SendType == tmpl.Key {
			sl.exact[it.Minute]++
		}
		if it.IsFollowUp || !state.Catalog[it.SendType].FollowUpEligible {
			continue
		}
		byDay[it.Day] = append(byDay[it.Day], it)
	}

	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)

	var out []models.ScheduledItem
	for _, day := range days {
		parents := byDay[day]
		sort.SliceStable(parents, func(i, j int) bool {
			a, b := parents[i], parents[j]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if pa, pb := price(a), price(b); pa != pb {
				return pa > pb
			}
			return a.Minute < b.Minute
		})
		if g.cfg.MaxPerDay >= 0 && len(parents) > g.cfg.MaxPerDay {
			for _, dropped := range parents[g.cfg.MaxPerDay:] {
				g.logger.Info("Follow-up dropped, daily cap reached",
					zap.String("run_id", state.RunID),
					zap.String("parent_id", dropped.ID),
					zap.String("send_type", dropped.SendType),
					zap.Int("day", day))
			}
			parents = parents[:g.cfg.MaxPerDay]
		}

		for _, p := range parents {
			delay := g.cfg.MinDelayMinutes + rng.IntN(g.cfg.MaxDelayMinutes-g.cfg.MinDelayMinutes+1)
			var fDay, fMinute int
			ok := false
			if p.Minute+delay <= g.cfg.CutoffMinute {
				fDay, fMinute, ok = sl.within(p, delay)
			}
			if !ok {
				fDay, fMinute, ok = sl.morning(p.Day + 1)
			}
			if !ok {
				g.logger.Warn("Follow-up dropped, no free time",
					zap.String("run_id", state.RunID),
					zap.String("parent_id", p.ID),
					zap.Int("day", p.Day))
				continue
			}
			sl.take(fDay, fMinute)

			parentID := p.ID
			f := models.ScheduledItem{
				ID:           models.ItemID(state.CreatorID, state.WeekStart, "followup-"+p.ID),
				SendType:     tmpl.Key,
				Category:     tmpl.Category,
				Channel:      tmpl.Channel,
				Target:       tmpl.Target,
				ParentItemID: &parentID,
				IsFollowUp:   true,
				Day:          fDay,
				Minute:       fMinute,
				SlotIndex:    -1,
				Priority:     p.Priority,
				Strategy:     p.Strategy,
			}
			if p.Price != nil {
				v := *p.Price
				f.Price = &v
			}
			f.Stamp(state.WeekStart)
			out = append(out, f)
		}
	}
	return out
}

// slots tracks the times already used by the week's items.
type slots struct {
	cfg   Config
	taken map[[2]int]bool
	// exact counts follow-ups per minute of day across the week.
	exact map[int]int
}

func (s *slots) free(day, minute int) bool {
	if s.taken[[2]int{day, minute}] {
		return false
	}
	return s.cfg.ExactTimeCap <= 0 || s.exact[minute] < s.cfg.ExactTimeCap
}

func (s *slots) take(day, minute int) {
	s.taken[[2]int{day, minute}] = true
	s.exact[minute]++
}

// within looks for a free minute at parent+delay, then at the remaining
// delays of the window in increasing order, wrapping to the minimum. It
// never goes past the cutoff.
func (s *slots) within(p models.ScheduledItem, delay int) (int, int, bool) {
	lo, hi := s.cfg.MinDelayMinutes, s.cfg.MaxDelayMinutes
	for i := 0; i <= hi-lo; i++ {
		d := lo + (delay-lo+i)%(hi-lo+1)
		m := p.Minute + d
		if m > s.cfg.CutoffMinute {
			continue
		}
		if s.free(p.Day, m) {
			return p.Day, m, true
		}
	}
	return 0, 0, false
}

// morning returns the first free minute from MorningMinute on the given day.
func (s *slots) morning(day int) (int, int, bool) {
	for m := s.cfg.MorningMinute; m <= s.cfg.CutoffMinute; m++ {
		if s.free(day, m) {
			return day, m, true
		}
	}
	return 0, 0, false
}

func price(it models.ScheduledItem) float64 {
	if it.Price == nil {
		return 0
	}
	return *it.Price
}
