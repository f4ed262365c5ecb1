// Package allocation assigns concrete send types to each day's category quota.
package allocation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/runstate"
	"github.com/xaenox/sendplan/internal/sampler"
)

const (
	rngPhase = "allocation"

	WarningQuotaUnfilled = "quota_unfilled"
)

// Config holds the allocation rules.
type Config struct {
	MinDistinctTypes       int            `mapstructure:"min_distinct_types"`
	MinDistinctPerCategory map[string]int `mapstructure:"min_distinct_per_category"`
	MaxRetries             int            `mapstructure:"max_retries"`
	InterleavePattern      []string       `mapstructure:"interleave_pattern"`
	HighSaturation         float64        `mapstructure:"high_saturation"`
	LowSaturation          float64        `mapstructure:"low_saturation"`
	HighOpportunity        float64        `mapstructure:"high_opportunity"`
	NoveltyBoost           float64        `mapstructure:"novelty_boost"`
}

func DefaultConfig() Config {
	return Config{
		MinDistinctTypes: 10,
		MinDistinctPerCategory: map[string]int{
			string(models.CategoryRevenue):    4,
			string(models.CategoryEngagement): 4,
			string(models.CategoryRetention):  2,
		},
		MaxRetries: 3,
		InterleavePattern: []string{
			string(models.CategoryRevenue), string(models.CategoryRevenue),
			string(models.CategoryEngagement), string(models.CategoryEngagement),
			string(models.CategoryRetention),
		},
		HighSaturation:  60,
		LowSaturation:   30,
		HighOpportunity: 60,
		NoveltyBoost:    2,
	}
}

// Plan is the allocation result for a week.
type Plan struct {
	Slots    []models.AllocationSlot
	Warnings []string
	Attempts int
}

// Allocator fills quotas with send types.
type Allocator struct {
	cfg        Config
	strategies []Strategy
	logger     *zap.Logger
}

func NewAllocator(cfg Config, logger *zap.Logger) *Allocator {
	if len(cfg.InterleavePattern) == 0 {
		cfg.InterleavePattern = DefaultConfig().InterleavePattern
	}
	return &Allocator{cfg: cfg, strategies: defaultStrategies(), logger: logger}
}

// Allocate fills the run's quota. When the diversity minimums are not met
// it retries with a weaker strategy bias and stronger novelty pressure; after
// MaxRetries it returns a High diversity_insufficient error.
func (a *Allocator) Allocate(state *runstate.RunState) (Plan, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		bias := 1.0
		if a.cfg.MaxRetries > 0 {
			bias = 1 - float64(attempt)/float64(a.cfg.MaxRetries)
		}
		novelty := a.cfg.NoveltyBoost * float64(1+attempt)

		state.ResetUsage()
		plan := a.allocateWeek(state, bias, novelty)
		plan.Attempts = attempt + 1

		err := a.checkDiversity(state, plan.Slots)
		if err == nil {
			a.logger.Info("Allocation complete",
				zap.String("creator_id", state.CreatorID),
				zap.Int("slots", len(plan.Slots)),
				zap.Int("attempts", plan.Attempts),
				zap.Int("distinct_types", len(state.WeeklyUsage)))
			return plan, nil
		}
		lastErr = err
		a.logger.Warn("Allocation diversity unmet, retrying with relaxed bias",
			zap.String("creator_id", state.CreatorID),
			zap.Int("attempt", attempt+1),
			zap.Float64("bias", bias),
			zap.Error(err))
	}
	return Plan{}, lastErr
}

func (a *Allocator) allocateWeek(state *runstate.RunState, bias, novelty float64) Plan {
	var plan Plan
	weights := strategyWeights(a.strategies, state.Fused, a.cfg)
	names := make([]string, len(a.strategies))
	byName := make(map[string]Strategy, len(a.strategies))
	for i, s := range a.strategies {
		names[i] = s.Name
		byName[s.Name] = s
	}

	prev := ""
	for day := 0; day < 7; day++ {
		name, ok := sampler.Pick(names, weights, map[string]bool{prev: true}, state.Rand(rngPhase))
		if !ok {
			name = StrategyBalanced
		}
		state.Strategies[day] = name
		prev = name
		strategy := byName[name]

		picks := make(map[models.Category][]string, len(models.Categories))
		for _, cat := range models.Categories {
			want := state.Quota.Days[day].Get(cat)
			got := a.fillCategory(state, day, cat, want, strategy, bias, novelty)
			picks[cat] = got
			if short := want - len(got); short > 0 {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("%s: day %d %s short by %d", WarningQuotaUnfilled, day, cat, short))
			}
		}
		plan.Slots = append(plan.Slots, a.interleave(day, name, picks)...)
	}
	return plan
}

// fillCategory samples want send types for one category of one day. A type
// equal to the previous pick is excluded so consecutive slots never repeat.
func (a *Allocator) fillCategory(state *runstate.RunState, day int, cat models.Category, want int, s Strategy, bias, novelty float64) []string {
	keys := state.Catalog.Allocatable(cat, state.Creator.PageType)
	var out []string
	last := ""
	for i := 0; i < want; i++ {
		weights := make([]float64, len(keys))
		for j, k := range keys {
			t := state.Catalog[k]
			if t.WeeklyCap > 0 && state.WeeklyUsage[k] >= t.WeeklyCap {
				continue
			}
			if t.DailyCap > 0 && state.DailyUsage[day][k] >= t.DailyCap {
				continue
			}
			weights[j] = typeWeight(t, s, bias, novelty, state.WeeklyUsage[k])
		}
		pick, ok := sampler.Pick(keys, weights, map[string]bool{last: true}, state.Rand(rngPhase))
		if !ok {
			break
		}
		state.RecordUse(day, pick)
		out = append(out, pick)
		last = pick
	}
	return out
}

// interleave merges category picks in the configured round-robin pattern.
func (a *Allocator) interleave(day int, strategy string, picks map[models.Category][]string) []models.AllocationSlot {
	next := make(map[models.Category]int, len(picks))
	remaining := 0
	for _, p := range picks {
		remaining += len(p)
	}
	var out []models.AllocationSlot
	for remaining > 0 {
		for _, c := range a.cfg.InterleavePattern {
			cat := models.Category(c)
			i := next[cat]
			if i >= len(picks[cat]) {
				continue
			}
			out = append(out, models.AllocationSlot{
				Day:      day,
				Index:    len(out),
				Category: cat,
				SendType: picks[cat][i],
				Strategy: strategy,
				Priority: i + 1,
			})
			next[cat]++
			remaining--
		}
	}
	return out
}

// EffectiveMinimums caps configured diversity minimums by what the page and
// the quota can possibly reach.
func EffectiveMinimums(cfg Config, catalog models.Catalog, page models.PageType, quota models.VolumeQuota) (int, map[models.Category]int) {
	perCat := make(map[models.Category]int, len(models.Categories))
	eligible, slots := 0, 0
	for _, cat := range models.Categories {
		keys := catalog.Allocatable(cat, page)
		eligible += len(keys)
		weekly := quota.Weekly(cat)
		slots += weekly
		perCat[cat] = min(cfg.MinDistinctPerCategory[string(cat)], len(keys), weekly)
	}
	return min(cfg.MinDistinctTypes, eligible, slots), perCat
}

func (a *Allocator) checkDiversity(state *runstate.RunState, slots []models.AllocationSlot) error {
	global, perCat := EffectiveMinimums(a.cfg, state.Catalog, state.Creator.PageType, state.Quota)

	distinct := map[string]bool{}
	byCat := map[models.Category]map[string]bool{}
	for _, s := range slots {
		distinct[s.SendType] = true
		if byCat[s.Category] == nil {
			byCat[s.Category] = map[string]bool{}
		}
		byCat[s.Category][s.SendType] = true
	}
	if len(distinct) < global {
		return apperr.New(apperr.CodeDiversityInsufficient, apperr.High,
			"%d distinct send types, need %d", len(distinct), global)
	}
	for _, cat := range models.Categories {
		if n := len(byCat[cat]); n < perCat[cat] {
			return apperr.New(apperr.CodeDiversityInsufficient, apperr.High,
				"%s has %d distinct send types, need %d", cat, n, perCat[cat])
		}
	}
	return nil
}
