package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/sendplan/internal/allocation"
	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
)

// Finding codes.
const (
	CodeUnknownSendType   = "unknown_send_type"
	CodeUnknownChannel    = "unknown_channel"
	CodeUnknownTarget     = "unknown_target"
	CodeCategoryMismatch  = "category_mismatch"
	CodeOrphanFollowUp    = "orphan_follow_up"
	CodeDerivedAllocated  = "derived_type_allocated"
	CodePageMode          = "page_mode_violation"
	CodeDiversity         = "diversity_insufficient"
	CodeDuplicateTime     = "duplicate_time"
	CodeWeeklyCap         = "weekly_cap_exceeded"
	CodeAdjacentRepeat    = "adjacent_repeat"
	CodeExactTimeReuse    = "exact_time_reuse"
	CodeOutOfRange        = "date_out_of_range"
	CodeCaptionBelowFloor = "caption_below_floor"
	CodeNeedsCaption      = "needs_caption"
	CodeLowConfidence     = "low_confidence"
	CodeCategoryBalance   = "category_balance"
	CodeVolumeWarning     = "volume_warning"
	CodeScoreDivergence   = "score_divergence"
	CodeRunWarning        = "run_warning"
)

func primaries(items []models.ScheduledItem) []models.ScheduledItem {
	out := make([]models.ScheduledItem, 0, len(items))
	for _, it := range items {
		if !it.IsFollowUp {
			out = append(out, it)
		}
	}
	return out
}

func checkReferences(p Plan, _ Config) []models.Finding {
	var out []models.Finding
	ids := make(map[string]bool, len(p.Items))
	for _, it := range p.Items {
		if !it.IsFollowUp {
			ids[it.ID] = true
		}
	}
	for _, it := range p.Items {
		t, ok := p.Catalog[it.SendType]
		if !ok {
			out = append(out, finding(CodeUnknownSendType, apperr.High, it.ID, "unknown send type "+it.SendType))
			continue
		}
		if !models.KnownChannels[it.Channel] {
			out = append(out, finding(CodeUnknownChannel, apperr.High, it.ID, "unknown channel "+it.Channel))
		}
		if !models.KnownTargets[it.Target] {
			out = append(out, finding(CodeUnknownTarget, apperr.High, it.ID, "unknown target "+it.Target))
		}
		if t.Category != it.Category {
			out = append(out, finding(CodeCategoryMismatch, apperr.High, it.ID,
				fmt.Sprintf("%s is %s, item says %s", it.SendType, t.Category, it.Category)))
		}
		if it.IsFollowUp {
			if it.ParentItemID == nil || !ids[*it.ParentItemID] {
				out = append(out, finding(CodeOrphanFollowUp, apperr.High, it.ID, "follow-up without a primary parent"))
			}
		} else if t.DerivedOnly {
			out = append(out, finding(CodeDerivedAllocated, apperr.High, it.ID, it.SendType+" is derived only"))
		}
	}
	return out
}

func checkPageMode(p Plan, _ Config) []models.Finding {
	var out []models.Finding
	for _, it := range p.Items {
		t, ok := p.Catalog[it.SendType]
		if ok && !t.EligibleFor(p.Creator.PageType) {
			out = append(out, finding(CodePageMode, apperr.High, it.ID,
				fmt.Sprintf("%s not allowed on %s page", it.SendType, p.Creator.PageType)))
		}
	}
	return out
}

func checkDiversity(p Plan, cfg Config) []models.Finding {
	global, perCat := allocation.EffectiveMinimums(allocation.Config{
		MinDistinctTypes:       cfg.MinDistinctTypes,
		MinDistinctPerCategory: cfg.MinDistinctPerCategory,
	}, p.Catalog, p.Creator.PageType, p.Quota)

	distinct := map[string]bool{}
	byCat := map[models.Category]map[string]bool{}
	for _, it := range primaries(p.Items) {
		distinct[it.SendType] = true
		if byCat[it.Category] == nil {
			byCat[it.Category] = map[string]bool{}
		}
		byCat[it.Category][it.SendType] = true
	}

	var out []models.Finding
	if len(distinct) < global {
		out = append(out, finding(CodeDiversity, apperr.High, "",
			fmt.Sprintf("%d distinct send types, need %d", len(distinct), global)))
	}
	for _, cat := range models.Categories {
		if n := len(byCat[cat]); n < perCat[cat] {
			out = append(out, finding(CodeDiversity, apperr.High, "",
				fmt.Sprintf("%s has %d distinct send types, need %d", cat, n, perCat[cat])))
		}
	}
	return out
}

func checkUniqueTimes(p Plan, _ Config) []models.Finding {
	var out []models.Finding
	seen := make(map[string]string, len(p.Items))
	for _, it := range p.Items {
		key := it.Date + "T" + it.Time
		if first, dup := seen[key]; dup {
			out = append(out, finding(CodeDuplicateTime, apperr.High, it.ID,
				fmt.Sprintf("%s shares %s with %s", it.SendType, key, first)))
			continue
		}
		seen[key] = it.ID
	}
	return out
}

func checkWeeklyCaps(p Plan, _ Config) []models.Finding {
	counts := map[string]int{}
	for _, it := range p.Items {
		counts[it.SendType]++
	}
	var out []models.Finding
	for _, key := range sortedKeys(counts) {
		t := p.Catalog[key]
		if t.WeeklyCap > 0 && counts[key] > t.WeeklyCap {
			out = append(out, finding(CodeWeeklyCap, apperr.High, "",
				fmt.Sprintf("%s used %d times, cap %d", key, counts[key], t.WeeklyCap)))
		}
	}
	return out
}

// checkAdjacency looks at allocation order within each day.
func checkAdjacency(p Plan, _ Config) []models.Finding {
	var out []models.Finding
	var prev *models.AllocationSlot
	for i := range p.Slots {
		s := &p.Slots[i]
		if prev != nil && prev.Day == s.Day && prev.SendType == s.SendType {
			out = append(out, finding(CodeAdjacentRepeat, apperr.High, "",
				fmt.Sprintf("day %d slots %d and %d are both %s", s.Day, prev.Index, s.Index, s.SendType)))
		}
		prev = s
	}
	return out
}

// checkTimelineAdjacency looks at each day's primaries in time order, the
// order recipients see them.
func checkTimelineAdjacency(p Plan, _ Config) []models.Finding {
	byDate := map[string][]models.ScheduledItem{}
	for _, it := range primaries(p.Items) {
		byDate[it.Date] = append(byDate[it.Date], it)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var out []models.Finding
	for _, d := range dates {
		day := byDate[d]
		sort.SliceStable(day, func(i, j int) bool { return day[i].Time < day[j].Time })
		for i := 1; i < len(day); i++ {
			if day[i].SendType == day[i-1].SendType {
				out = append(out, finding(CodeAdjacentRepeat, apperr.High, day[i].ID,
					fmt.Sprintf("%s at %s and %s on %s back to back", day[i].SendType, day[i-1].Time, day[i].Time, d)))
			}
		}
	}
	return out
}

// checkExactTimes caps how often a send type repeats the same time of day.
func checkExactTimes(p Plan, cfg Config) []models.Finding {
	if cfg.ExactTimeCap <= 0 {
		return nil
	}
	counts := map[string]int{}
	for _, it := range p.Items {
		counts[it.SendType+" at "+it.Time]++
	}
	var out []models.Finding
	for _, key := range sortedKeys(counts) {
		if n := counts[key]; n > cfg.ExactTimeCap {
			out = append(out, finding(CodeExactTimeReuse, apperr.High, "",
				fmt.Sprintf("%s used %d times in the week, cap %d", key, n, cfg.ExactTimeCap)))
		}
	}
	return out
}

// checkDateRange requires primaries inside the week. Follow-ups may spill
// into the morning after it.
func checkDateRange(p Plan, _ Config) []models.Finding {
	var out []models.Finding
	for _, it := range p.Items {
		d, err := time.ParseInLocation(time.DateOnly, it.Date, p.WeekStart.Location())
		if err != nil {
			out = append(out, finding(CodeOutOfRange, apperr.High, it.ID, "unparseable date "+it.Date))
			continue
		}
		day := int(d.Sub(p.WeekStart).Round(time.Hour).Hours() / 24)
		last := 6
		if it.IsFollowUp {
			last = 7
		}
		if day < 0 || day > last {
			out = append(out, finding(CodeOutOfRange, apperr.High, it.ID,
				fmt.Sprintf("%s is outside the week starting %s", it.Date, p.WeekStart.Format(time.DateOnly))))
		}
	}
	return out
}

func checkCaptions(p Plan, cfg Config) []models.Finding {
	var out []models.Finding
	for _, it := range p.Items {
		switch {
		case it.NeedsCaption:
			out = append(out, finding(CodeNeedsCaption, apperr.Medium, it.ID,
				"manual caption required for "+it.SendType))
		case it.CaptionID != nil && (it.CaptionFreshness < cfg.PreferredFreshness || it.CaptionPerformance < cfg.PreferredPerformance):
			out = append(out, finding(CodeCaptionBelowFloor, apperr.Medium, it.ID,
				fmt.Sprintf("caption %s freshness=%.0f performance=%.0f", *it.CaptionID, it.CaptionFreshness, it.CaptionPerformance)))
		}
	}
	return out
}

func checkConfidence(p Plan, cfg Config) []models.Finding {
	if p.Quota.Confidence >= cfg.MinConfidence {
		return nil
	}
	return []models.Finding{finding(CodeLowConfidence, apperr.Medium, "",
		fmt.Sprintf("volume confidence %.2f below %.2f", p.Quota.Confidence, cfg.MinConfidence))}
}

func checkBalance(p Plan, cfg Config) []models.Finding {
	list := primaries(p.Items)
	if len(list) == 0 {
		return nil
	}
	revenue := 0
	for _, it := range list {
		if it.Category == models.CategoryRevenue {
			revenue++
		}
	}
	share := float64(revenue) / float64(len(list))
	if share >= cfg.RevenueShareMin && share <= cfg.RevenueShareMax {
		return nil
	}
	return []models.Finding{finding(CodeCategoryBalance, apperr.Low, "",
		fmt.Sprintf("revenue share %.2f outside [%.2f, %.2f]", share, cfg.RevenueShareMin, cfg.RevenueShareMax))}
}

func checkUpstream(p Plan, _ Config) []models.Finding {
	var out []models.Finding
	for _, w := range p.Quota.Warnings {
		out = append(out, finding(CodeVolumeWarning, apperr.Low, "", w))
	}
	if p.Fused.DivergenceDetected {
		out = append(out, finding(CodeScoreDivergence, apperr.Low, "", "horizon scores diverge"))
	}
	for _, w := range p.RunWarnings {
		// caption shortfalls are already reported per item
		if strings.HasPrefix(w, apperr.CodeCaptionUnavailable) {
			continue
		}
		out = append(out, finding(CodeRunWarning, apperr.Low, "", w))
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
