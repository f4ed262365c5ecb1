// Package timing assigns a concrete time of day to every allocated slot.
package timing

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/runstate"
)

const (
	rngPhase = "timing"

	WarningMovedNextDay        = "timing_moved_next_day"
	WarningUnplaceable         = "timing_unplaceable"
	WarningSpacingRelaxed      = "timing_spacing_relaxed"
	WarningExactTimeUnresolved = "exact_time_cap_unresolved"

	minutesPerDay = 24 * 60
)

type Optimizer struct {
	cfg    Config
	avoid  [24]bool
	logger *zap.Logger
}

func NewOptimizer(cfg Config, logger *zap.Logger) *Optimizer {
	o := &Optimizer{cfg: cfg, logger: logger}
	for _, h := range cfg.AvoidHours {
		if h >= 0 && h < 24 {
			o.avoid[h] = true
		}
	}
	return o
}

// dayPlan is the per-day search context.
type dayPlan struct {
	day    int
	hours  []int
	shift  int
	jitter int
	placed []models.ScheduledItem
	// exact counts (send type, minute) pairs across the whole week and is
	// shared by every day of a run.
	exact map[string]int
}

func (dp *dayPlan) place(it models.ScheduledItem) {
	dp.placed = append(dp.placed, it)
	dp.exact[exactKey(it.SendType, it.Minute)]++
}

// anchor is where the fallback scan starts: the prime hour next in rotation,
// moved by the day's shift and jitter.
func (dp *dayPlan) anchor() int {
	base := 12 * 60
	if len(dp.hours) > 0 {
		base = dp.hours[len(dp.placed)%len(dp.hours)] * 60
	}
	return base + dp.shift + dp.jitter
}

func (o *Optimizer) newDayPlan(day int, peaks []int, exact map[string]int, rng *rand.Rand) *dayPlan {
	return &dayPlan{
		day:    day,
		hours:  o.primeHours(peaks, day),
		shift:  symmetric(rng, o.cfg.MaxDayShift),
		jitter: symmetric(rng, o.cfg.MaxJitter),
		exact:  exact,
	}
}

// Place schedules every slot. Items that cannot be placed on their day move
// to the next one; items that fit nowhere are dropped with a warning.
// The returned items are ordered chronologically and carry IDs.
func (o *Optimizer) Place(slots []models.AllocationSlot, state *runstate.RunState) []models.ScheduledItem {
	rng := state.Rand(rngPhase)
	peaks := o.peaks(state)

	queues := make([][]models.ScheduledItem, 7)
	for i, s := range slots {
		if s.Day < 0 || s.Day > 6 {
			continue
		}
		queues[s.Day] = append(queues[s.Day], o.newItem(i, s, state.Catalog))
	}

	exact := map[string]int{}
	var out []models.ScheduledItem
	for day := 0; day < 7; day++ {
		dp := o.newDayPlan(day, peaks, exact, rng)
		queue := queues[day]
		o.sortByPriority(queue)

		for _, it := range queue {
			minute, relaxed, ok := o.find(dp, it, state.Catalog)
			if !ok {
				if day < 6 {
					it.Day = day + 1
					queues[day+1] = append(queues[day+1], it)
					state.Warn(fmt.Sprintf("%s:%s day=%d", WarningMovedNextDay, it.SendType, day))
					o.logger.Info("Slot moved to next day",
						zap.String("send_type", it.SendType),
						zap.Int("day", day))
					continue
				}
				state.Warn(fmt.Sprintf("%s:%s day=%d", WarningUnplaceable, it.SendType, day))
				o.logger.Warn("Slot dropped, no valid time",
					zap.String("send_type", it.SendType),
					zap.Int("day", day))
				continue
			}
			if relaxed {
				state.Warn(fmt.Sprintf("%s:%s day=%d", WarningSpacingRelaxed, it.SendType, day))
			}
			it.Minute = minute
			dp.place(it)
		}
		out = append(out, dp.placed...)
	}

	out = o.EnforceExactTimeCap(out, state)
	Finalize(out, state)
	return out
}

func (o *Optimizer) peaks(state *runstate.RunState) []int {
	if len(state.Timing.PeakHours) > 0 {
		return state.Timing.PeakHours
	}
	return o.cfg.DefaultPeakHours
}

func (o *Optimizer) newItem(ordinal int, s models.AllocationSlot, catalog models.Catalog) models.ScheduledItem {
	t := catalog[s.SendType]
	it := models.ScheduledItem{
		SendType:  s.SendType,
		Category:  s.Category,
		Channel:   t.Channel,
		Target:    t.Target,
		Day:       s.Day,
		SlotIndex: ordinal,
		Priority:  s.Priority,
		Strategy:  s.Strategy,
	}
	if t.BasePrice > 0 {
		price := t.BasePrice
		it.Price = &price
	}
	return it
}

// sortByPriority orders by category weight, then rank within category, then
// price descending. Ties keep allocation order.
func (o *Optimizer) sortByPriority(items []models.ScheduledItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		wa, wb := o.cfg.CategoryWeight[string(a.Category)], o.cfg.CategoryWeight[string(b.Category)]
		if wa != wb {
			return wa > wb
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return price(a) > price(b)
	})
}

func price(it models.ScheduledItem) float64 {
	if it.Price == nil {
		return 0
	}
	return *it.Price
}

// primeHours rotates the peak hours by the day's offset and drops hours that
// fall inside the avoid window.
func (o *Optimizer) primeHours(peaks []int, day int) []int {
	offset := 0
	if n := len(o.cfg.RotationOffsets); n > 0 {
		offset = o.cfg.RotationOffsets[day%n]
	}
	var out []int
	for _, h := range peaks {
		h = ((h+offset)%24 + 24) % 24
		if !o.avoid[h] {
			out = append(out, h)
		}
	}
	return out
}

// find tries the preferred windows, then scans the day with every rule,
// then without the rolling window limit, then with progressively smaller
// gaps. relaxed reports whether a reduced gap was used.
func (o *Optimizer) find(dp *dayPlan, it models.ScheduledItem, catalog models.Catalog) (int, bool, bool) {
	if len(dp.hours) > 0 {
		start := len(dp.placed) % len(dp.hours)
		for i := range dp.hours {
			h := dp.hours[(start+i)%len(dp.hours)]
			for _, off := range o.cfg.WindowOffsets {
				m := h*60 + dp.shift + dp.jitter + off
				if o.valid(dp, it, m, 1, true, catalog) {
					return m, false, true
				}
			}
		}
	}

	if m, ok := o.scan(dp, it, 1, true, catalog); ok {
		return m, false, true
	}
	if m, ok := o.scan(dp, it, 1, false, catalog); ok {
		return m, false, true
	}
	for _, f := range o.cfg.RelaxFactors {
		if m, ok := o.scan(dp, it, f, false, catalog); ok {
			return m, true, true
		}
	}
	return 0, false, false
}

// scan walks outward from the day's anchor in ScanStepMinutes steps.
func (o *Optimizer) scan(dp *dayPlan, it models.ScheduledItem, gapScale float64, full bool, catalog models.Catalog) (int, bool) {
	step := max(o.cfg.ScanStepMinutes, 1)
	anchor := dp.anchor()
	for d := 0; d < minutesPerDay; d += step {
		if o.valid(dp, it, anchor+d, gapScale, full, catalog) {
			return anchor + d, true
		}
		if d > 0 && o.valid(dp, it, anchor-d, gapScale, full, catalog) {
			return anchor - d, true
		}
	}
	return 0, false
}

// valid checks a candidate minute against the day's placed items. The
// general and type gaps apply scaled by gapScale. The weekly exact-time cap
// and the rule that chronological neighbors differ in send type always
// apply; full adds the rolling window limit.
func (o *Optimizer) valid(dp *dayPlan, it models.ScheduledItem, m int, gapScale float64, full bool, catalog models.Catalog) bool {
	if m < 0 || m >= minutesPerDay || o.avoid[m/60] {
		return false
	}
	if o.cfg.ExactTimeCap > 0 && dp.exact[exactKey(it.SendType, m)] >= o.cfg.ExactTimeCap {
		return false
	}
	gap := int(float64(o.cfg.MinGapMinutes) * gapScale)
	typeGap := int(float64(catalog[it.SendType].MinGapMinutes) * gapScale)
	prev, next := -1, minutesPerDay
	var prevType, nextType string
	times := make([]int, 0, len(dp.placed)+1)
	for _, p := range dp.placed {
		d := abs(p.Minute - m)
		if d == 0 || d < gap {
			return false
		}
		if p.SendType == it.SendType && d < typeGap {
			return false
		}
		if p.Minute < m && p.Minute > prev {
			prev, prevType = p.Minute, p.SendType
		}
		if p.Minute > m && p.Minute < next {
			next, nextType = p.Minute, p.SendType
		}
		times = append(times, p.Minute)
	}
	if prevType == it.SendType || nextType == it.SendType {
		return false
	}
	if full && !o.windowOK(times, m) {
		return false
	}
	return true
}

// windowOK reports whether adding m keeps every rolling window at or below
// MaxPerWindow items.
func (o *Optimizer) windowOK(times []int, m int) bool {
	if o.cfg.MaxPerWindow <= 0 || o.cfg.RollingWindow <= 0 {
		return true
	}
	all := append(append([]int(nil), times...), m)
	sort.Ints(all)
	for i := range all {
		if all[i] > m || all[i]+o.cfg.RollingWindow <= m {
			continue
		}
		n := 0
		for j := i; j < len(all) && all[j]-all[i] < o.cfg.RollingWindow; j++ {
			n++
		}
		if n > o.cfg.MaxPerWindow {
			return false
		}
	}
	return true
}

// EnforceExactTimeCap nudges every occurrence of a (send type, time) pair
// beyond ExactTimeCap per week by NudgeMin..NudgeMax minutes, re-validating
// spacing on the item's day. An item no nudge can fix is re-placed on its
// day away from the over-used minutes, and dropped if no time is left.
func (o *Optimizer) EnforceExactTimeCap(items []models.ScheduledItem, state *runstate.RunState) []models.ScheduledItem {
	if o.cfg.ExactTimeCap <= 0 {
		return items
	}
	rng := state.Rand(rngPhase + ".nudge")
	peaks := o.peaks(state)
	sortChronological(items)

	seen := map[string]int{}
	dropped := map[int]bool{}
	for i := range items {
		it := items[i]
		key := exactKey(it.SendType, it.Minute)
		if seen[key] < o.cfg.ExactTimeCap {
			seen[key]++
			continue
		}

		dp := o.newDayPlan(it.Day, peaks, seen, rng)
		for j, p := range items {
			if j != i && !dropped[j] && p.Day == it.Day {
				dp.placed = append(dp.placed, p)
			}
		}

		m, ok := o.nudge(dp, it, state.Catalog, rng)
		if !ok {
			var relaxed bool
			m, relaxed, ok = o.find(dp, it, state.Catalog)
			if ok && relaxed {
				state.Warn(fmt.Sprintf("%s:%s day=%d", WarningSpacingRelaxed, it.SendType, it.Day))
			}
		}
		if !ok {
			dropped[i] = true
			state.Warn(fmt.Sprintf("%s:%s %s", WarningExactTimeUnresolved, it.SendType, models.ClockString(it.Minute)))
			o.logger.Warn("Slot dropped, exact time cap",
				zap.String("send_type", it.SendType),
				zap.Int("day", it.Day),
				zap.Int("minute", it.Minute))
			continue
		}
		o.logger.Debug("Exact time moved",
			zap.String("send_type", it.SendType),
			zap.Int("day", it.Day),
			zap.Int("from", it.Minute),
			zap.Int("to", m))
		items[i].Minute = m
		seen[exactKey(it.SendType, m)]++
	}

	out := items[:0]
	for i, it := range items {
		if !dropped[i] {
			out = append(out, it)
		}
	}
	sortChronological(out)
	return out
}

func (o *Optimizer) nudge(dp *dayPlan, it models.ScheduledItem, catalog models.Catalog, rng *rand.Rand) (int, bool) {
	for _, delta := range o.nudges(rng) {
		if m := it.Minute + delta; o.valid(dp, it, m, 1, true, catalog) {
			return m, true
		}
	}
	return 0, false
}

// nudges lists candidate offsets, starting with a sampled magnitude and sign
// and then every other magnitude in the range with both signs.
func (o *Optimizer) nudges(rng *rand.Rand) []int {
	lo, hi := o.cfg.NudgeMin, max(o.cfg.NudgeMax, o.cfg.NudgeMin)
	first := lo + rng.IntN(hi-lo+1)
	sign := 1
	if rng.IntN(2) == 0 {
		sign = -1
	}
	out := []int{sign * first, -sign * first}
	for d := lo; d <= hi; d++ {
		if d != first {
			out = append(out, sign*d, -sign*d)
		}
	}
	return out
}

func exactKey(sendType string, minute int) string {
	return fmt.Sprintf("%s@%d", sendType, minute)
}

func sortChronological(items []models.ScheduledItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Day != items[j].Day {
			return items[i].Day < items[j].Day
		}
		return items[i].Minute < items[j].Minute
	})
}

// Finalize orders items chronologically and fills ID, date, time and
// expiry. Follow-ups take their ID from the parent.
func Finalize(items []models.ScheduledItem, state *runstate.RunState) {
	sortChronological(items)
	ordinal := 0
	for i := range items {
		it := &items[i]
		it.Stamp(state.WeekStart)
		if it.ID == "" {
			it.ID = models.ItemID(state.CreatorID, state.WeekStart, fmt.Sprintf("item-%d", ordinal))
			ordinal++
		}
		it.ExpiresAt = nil
		if exp := state.Catalog[it.SendType].ExpiresAfter; exp > 0 {
			s := it.At(state.WeekStart).Add(exp).Format(time.RFC3339)
			it.ExpiresAt = &s
		}
	}
}

func symmetric(rng *rand.Rand, n int) int {
	if n <= 0 {
		return 0
	}
	return rng.IntN(2*n+1) - n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
