// Package volume decides how many items per category each day of a week gets.
package volume

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
)

// Audit trail tags. Fallback tags mark a stage that ran on a default.
const (
	TagTier                = "tier_lookup"
	TagContentMultiplier   = "content_multiplier"
	TagDampening           = "confidence_dampening"
	TagDOW                 = "dow_redistribution"
	TagDOWLegacy           = "dow_legacy_fallback"
	TagElasticityCap       = "elasticity_cap"
	TagElasticityMissing   = "elasticity_unavailable"
	TagContentWeighting    = "content_weighting"
	TagRankingsMissing     = "content_rankings_unavailable"
	TagCaptionFeasibility  = "caption_feasibility"
	TagCaptionPoolMissing  = "caption_pool_unavailable"
	WarningCaptionPoolLow  = "caption_pool_low"
	WarningLegacyDOW       = "dow_multipliers_missing"
	WarningCaptionPoolNone = "caption_pool_summary_missing"
)

// Input is everything the calculator reads for one creator week.
type Input struct {
	Creator   models.CreatorContext
	Fused     models.FusedPerformance
	WeekStart time.Time
	// DayMultipliers is indexed by time.Weekday; nil selects the legacy table.
	DayMultipliers []float64
	// Elasticity is nil when the signal could not be loaded.
	Elasticity []models.ElasticitySignal
	// CaptionPool is nil when the summary could not be loaded.
	CaptionPool map[string]int
	Catalog     models.Catalog
}

type Calculator struct {
	cfg    Config
	logger *zap.Logger
}

func NewCalculator(cfg Config, logger *zap.Logger) *Calculator {
	tiers := append([]TierConfig(nil), cfg.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinFans < tiers[j].MinFans })
	cfg.Tiers = tiers
	return &Calculator{cfg: cfg, logger: logger}
}

// weekly holds fractional-free weekly totals per category while stages run.
type weekly map[models.Category]int

// Calculate runs the five stages in order and returns the quota with its
// audit trail. Only missing tier data is fatal.
func (c *Calculator) Calculate(in Input) (models.VolumeQuota, error) {
	q := models.VolumeQuota{ElasticityCapped: map[models.Category]bool{}}

	tier, err := c.lookupTier(in.Creator.FanCount)
	if err != nil {
		return q, err
	}
	q.Tier = tier.Name
	q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagTier+":"+tier.Name)

	perDay := c.tierTargets(tier, in.Creator.ContentMultiplier, &q)
	q.Confidence = c.confidence(in.Fused)
	totals := c.dampen(tier, perDay, q.Confidence, in.Fused.SampleCount, &q)

	multipliers := c.dayMultipliers(in.WeekStart, in.DayMultipliers, &q)
	c.distribute(&q, totals, multipliers)

	c.capElasticity(&q, totals, multipliers, in.Elasticity)
	c.weightContent(&q, in.Fused.ContentRankings)
	c.checkCaptionFeasibility(&q, in)

	c.logger.Info("Volume calculated",
		zap.String("creator_id", in.Creator.ID),
		zap.String("tier", q.Tier),
		zap.Float64("confidence", q.Confidence),
		zap.Int("revenue", q.Weekly(models.CategoryRevenue)),
		zap.Int("engagement", q.Weekly(models.CategoryEngagement)),
		zap.Int("retention", q.Weekly(models.CategoryRetention)),
		zap.Strings("adjustments", q.AdjustmentsApplied))
	return q, nil
}

// Bounds returns the weekly min and max of a category for a fan count.
func (c *Calculator) Bounds(fanCount int, cat models.Category) (int, int, error) {
	tier, err := c.lookupTier(fanCount)
	if err != nil {
		return 0, 0, err
	}
	return tier.Min.Get(cat) * 7, tier.Max.Get(cat) * 7, nil
}

func (c *Calculator) lookupTier(fanCount int) (TierConfig, error) {
	if len(c.cfg.Tiers) == 0 {
		return TierConfig{}, apperr.New(apperr.CodeTierDataMissing, apperr.Fatal, "no volume tiers configured")
	}
	tier := c.cfg.Tiers[0]
	for _, t := range c.cfg.Tiers {
		if fanCount >= t.MinFans {
			tier = t
		}
	}
	return tier, nil
}

// tierTargets scales the tier defaults by the content multiplier and clamps
// the result into the tier band.
func (c *Calculator) tierTargets(tier TierConfig, multiplier float64, q *models.VolumeQuota) map[models.Category]float64 {
	out := make(map[models.Category]float64, len(models.Categories))
	apply := multiplier > 0 && multiplier != 1
	for _, cat := range models.Categories {
		v := float64(tier.Default.Get(cat))
		if apply {
			v *= multiplier
		}
		out[cat] = math.Max(float64(tier.Min.Get(cat)), math.Min(float64(tier.Max.Get(cat)), v))
	}
	if apply {
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, fmt.Sprintf("%s:%.2f", TagContentMultiplier, multiplier))
	}
	return out
}

// confidence derives a [0,1] score from the sample count, reduced when the
// horizons disagree.
func (c *Calculator) confidence(fused models.FusedPerformance) float64 {
	conf := 1.0
	if c.cfg.DampeningSampleThreshold > 0 {
		conf = math.Min(1, float64(fused.SampleCount)/float64(c.cfg.DampeningSampleThreshold))
	}
	if fused.DivergenceDetected {
		conf -= c.cfg.DivergencePenalty
	}
	conf = math.Max(c.cfg.MinConfidence, math.Min(1, conf))
	return math.Round(conf*1000) / 1000
}

// dampen pulls per-day targets toward the tier minimum when the sample is
// small and returns weekly totals.
func (c *Calculator) dampen(tier TierConfig, perDay map[models.Category]float64, conf float64, samples int, q *models.VolumeQuota) weekly {
	factor := 1.0
	if samples < c.cfg.DampeningSampleThreshold && conf < c.cfg.NoDampeningConfidence {
		factor = math.Min(1, conf/c.cfg.DampeningPivot)
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, fmt.Sprintf("%s:%.2f", TagDampening, factor))
	}

	totals := make(weekly, len(models.Categories))
	for _, cat := range models.Categories {
		lo := float64(tier.Min.Get(cat))
		v := lo + (perDay[cat]-lo)*factor
		totals[cat] = int(math.Round(v * 7))
	}
	return totals
}

// dayMultipliers returns seven multipliers aligned to day indexes of the week.
func (c *Calculator) dayMultipliers(weekStart time.Time, history []float64, q *models.VolumeQuota) [7]float64 {
	table := history
	if !validMultipliers(table) {
		table = c.cfg.LegacyDayMultipliers
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagDOWLegacy)
		q.Warnings = append(q.Warnings, WarningLegacyDOW+": using legacy day-of-week table")
	}
	if !validMultipliers(table) {
		table = []float64{1, 1, 1, 1, 1, 1, 1}
	}
	var out [7]float64
	start := int(weekStart.Weekday())
	for d := 0; d < 7; d++ {
		out[d] = table[(start+d)%7]
	}
	q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagDOW)
	return out
}

func validMultipliers(m []float64) bool {
	if len(m) != 7 {
		return false
	}
	for _, v := range m {
		if v <= 0 {
			return false
		}
	}
	return true
}

func (c *Calculator) distribute(q *models.VolumeQuota, totals weekly, multipliers [7]float64) {
	for _, cat := range models.Categories {
		spread := Spread(totals[cat], multipliers)
		for d := 0; d < 7; d++ {
			q.Days[d].Set(cat, spread[d])
		}
	}
}

// Spread splits a weekly total over seven days proportional to the
// multipliers using largest remainders, so the parts always sum to total.
func Spread(total int, multipliers [7]float64) [7]int {
	var out [7]int
	if total <= 0 {
		return out
	}
	sum := 0.0
	for _, m := range multipliers {
		sum += m
	}
	type rem struct {
		day  int
		frac float64
	}
	rems := make([]rem, 0, 7)
	assigned := 0
	for d, m := range multipliers {
		share := float64(total) * m / sum
		out[d] = int(math.Floor(share))
		assigned += out[d]
		rems = append(rems, rem{day: d, frac: share - math.Floor(share)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < total; i++ {
		out[rems[i%7].day]++
		assigned++
	}
	return out
}

// capElasticity stops growth for categories whose marginal return has
// flattened, holding them at the currently observed weekly volume.
func (c *Calculator) capElasticity(q *models.VolumeQuota, totals weekly, multipliers [7]float64, signals []models.ElasticitySignal) {
	if signals == nil {
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagElasticityMissing)
		return
	}
	for _, s := range signals {
		if s.MarginalReturn >= c.cfg.ElasticityThreshold || s.CurrentWeekly < 0 {
			continue
		}
		if totals[s.Category] <= s.CurrentWeekly {
			continue
		}
		totals[s.Category] = s.CurrentWeekly
		spread := Spread(s.CurrentWeekly, multipliers)
		for d := 0; d < 7; d++ {
			q.Days[d].Set(s.Category, spread[d])
		}
		q.ElasticityCapped[s.Category] = true
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagElasticityCap+":"+string(s.Category))
	}
}

// weightContent splits weekly revenue volume across content types by
// historical earnings rank.
func (c *Calculator) weightContent(q *models.VolumeQuota, rankings []models.ContentRank) {
	var ranked []models.ContentRank
	for _, r := range rankings {
		if r.Earnings > 0 && r.ContentType != "" {
			ranked = append(ranked, r)
		}
		if c.cfg.ContentTypesTop > 0 && len(ranked) == c.cfg.ContentTypesTop {
			break
		}
	}
	if len(ranked) == 0 {
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagRankingsMissing)
		return
	}

	total := q.Weekly(models.CategoryRevenue)
	earnings := 0.0
	for _, r := range ranked {
		earnings += r.Earnings
	}
	q.ContentAllocation = make(map[string]int, len(ranked))
	assigned := 0
	type rem struct {
		contentType string
		frac        float64
	}
	rems := make([]rem, 0, len(ranked))
	for _, r := range ranked {
		share := float64(total) * r.Earnings / earnings
		n := int(math.Floor(share))
		q.ContentAllocation[r.ContentType] = n
		q.ContentPriority = append(q.ContentPriority, r.ContentType)
		assigned += n
		rems = append(rems, rem{contentType: r.ContentType, frac: share - float64(n)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < total; i++ {
		q.ContentAllocation[rems[i%len(rems)].contentType]++
		assigned++
	}
	q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagContentWeighting)
}

// checkCaptionFeasibility warns for every send type the week may use whose
// caption pool is below the floor. Volume is never reduced here.
func (c *Calculator) checkCaptionFeasibility(q *models.VolumeQuota, in Input) {
	if in.CaptionPool == nil {
		q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagCaptionPoolMissing)
		q.Warnings = append(q.Warnings, WarningCaptionPoolNone+": caption feasibility not checked")
		return
	}
	for _, cat := range models.Categories {
		if q.Weekly(cat) == 0 {
			continue
		}
		for _, key := range in.Catalog.Allocatable(cat, in.Creator.PageType) {
			if n := in.CaptionPool[key]; n < c.cfg.CaptionPoolFloor {
				q.Warnings = append(q.Warnings, fmt.Sprintf("%s:%s available=%d floor=%d", WarningCaptionPoolLow, key, n, c.cfg.CaptionPoolFloor))
			}
		}
	}
	q.AdjustmentsApplied = append(q.AdjustmentsApplied, TagCaptionFeasibility)
}
