package allocation

import "github.com/xaenox/sendplan/internal/models"

// Strategy names.
const (
	StrategyRevenueFocus    = "revenue_focus"
	StrategyEngagementFocus = "engagement_focus"
	StrategyBalanced        = "balanced"
	StrategyMaxDiversity    = "max_diversity"
	StrategyNarrative       = "narrative"
)

// Strategy biases send-type sampling for one day.
type Strategy struct {
	Name       string
	BaseWeight float64
	Boost      map[string]float64
	// Diversify divides a type's weight by its usage so far this week.
	Diversify bool
}

func defaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyRevenueFocus, BaseWeight: 1, Boost: map[string]float64{
			"ppv_unlock": 1.6, "bundle": 1.4, "flash_bundle": 1.4, "snapchat_bundle": 1.2,
		}},
		{Name: StrategyEngagementFocus, BaseWeight: 1, Boost: map[string]float64{
			"link_drop": 1.5, "bump_normal": 1.5, "bump_descriptive": 1.3, "dm_farm": 1.3, "like_farm": 1.3,
		}},
		{Name: StrategyBalanced, BaseWeight: 1.2},
		{Name: StrategyMaxDiversity, BaseWeight: 1, Diversify: true},
		{Name: StrategyNarrative, BaseWeight: 1, Boost: map[string]float64{
			"bump_descriptive": 1.6, "game_post": 1.4, "first_to_tip": 1.3, "dm_farm": 1.4, "fan_checkin": 1.3,
		}},
	}
}

// strategyWeights shifts strategy odds by the fused scores. A saturated
// audience favors engagement and diversity; open opportunity favors revenue.
func strategyWeights(strategies []Strategy, fused models.FusedPerformance, cfg Config) []float64 {
	w := make([]float64, len(strategies))
	for i, s := range strategies {
		w[i] = s.BaseWeight
		switch {
		case fused.Saturation > cfg.HighSaturation:
			switch s.Name {
			case StrategyEngagementFocus:
				w[i] *= 1.6
			case StrategyMaxDiversity:
				w[i] *= 1.3
			case StrategyRevenueFocus:
				w[i] *= 0.5
			}
		case fused.Saturation < cfg.LowSaturation:
			if s.Name == StrategyRevenueFocus {
				w[i] *= 1.2
			}
		}
		if fused.Opportunity > cfg.HighOpportunity {
			switch s.Name {
			case StrategyRevenueFocus:
				w[i] *= 1.6
			case StrategyNarrative:
				w[i] *= 1.2
			}
		}
	}
	return w
}

// typeWeight is the sampling weight of a send type under a strategy. bias
// in [0,1] scales how strongly the strategy boost applies; novelty
// multiplies types not yet used this week.
func typeWeight(t models.SendType, s Strategy, bias, novelty float64, weeklyUses int) float64 {
	w := t.Weight
	if b, ok := s.Boost[t.Key]; ok {
		w *= 1 + (b-1)*bias
	}
	if s.Diversify {
		w /= float64(1 + weeklyUses)
	}
	if weeklyUses == 0 {
		w *= novelty
	}
	return w
}
