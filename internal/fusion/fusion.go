// Package fusion combines per-horizon performance snapshots into one signal.
package fusion

import (
	"fmt"
	"sort"

	"github.com/xaenox/sendplan/internal/models"
)

const (
	neutralScore = 50.0

	WarningNoData     = "no_performance_data"
	WarningDivergence = "horizon_divergence"
	WarningLowSample  = "short_horizon_low_sample"
)

// Config holds the fusion weights and thresholds.
type Config struct {
	Weights             map[string]float64 `mapstructure:"weights"`
	DivergenceThreshold float64            `mapstructure:"divergence_threshold"`
	LowSampleThreshold  int                `mapstructure:"low_sample_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			string(models.Horizon7d):  0.5,
			string(models.Horizon14d): 0.3,
			string(models.Horizon30d): 0.2,
		},
		DivergenceThreshold: 25,
		LowSampleThreshold:  10,
	}
}

// Fuse combines up to one snapshot per horizon. Missing horizons are
// dropped and the remaining weights renormalized; with no snapshots at all
// the neutral 50/50 default is returned with NoData set.
func Fuse(snapshots []models.PerformanceSnapshot, cfg Config) models.FusedPerformance {
	byHorizon := make(map[models.Horizon]models.PerformanceSnapshot, len(snapshots))
	for _, s := range snapshots {
		if _, known := cfg.Weights[string(s.Horizon)]; !known {
			continue
		}
		if _, dup := byHorizon[s.Horizon]; dup {
			continue
		}
		byHorizon[s.Horizon] = s
	}

	if len(byHorizon) == 0 {
		return models.FusedPerformance{
			Saturation:   neutralScore,
			Opportunity:  neutralScore,
			NoData:       true,
			RevenueTrend: models.TrendFlat,
			Warnings:     []string{WarningNoData},
		}
	}

	var present []models.Horizon
	for _, h := range models.Horizons {
		if _, ok := byHorizon[h]; ok {
			present = append(present, h)
		}
	}

	out := models.FusedPerformance{HorizonsUsed: present}
	weights := horizonWeights(byHorizon, present, cfg, &out)

	minSat, maxSat := 101.0, -1.0
	minOpp, maxOpp := 101.0, -1.0
	for _, h := range present {
		s := byHorizon[h]
		sat, opp := clamp(s.Saturation), clamp(s.Opportunity)
		out.Saturation += sat * weights[h]
		out.Opportunity += opp * weights[h]
		minSat, maxSat = min(minSat, sat), max(maxSat, sat)
		minOpp, maxOpp = min(minOpp, opp), max(maxOpp, opp)
	}
	out.Saturation = round2(out.Saturation)
	out.Opportunity = round2(out.Opportunity)

	if maxSat-minSat > cfg.DivergenceThreshold || maxOpp-minOpp > cfg.DivergenceThreshold {
		out.DivergenceDetected = true
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: saturation range %.1f, opportunity range %.1f",
			WarningDivergence, maxSat-minSat, maxOpp-minOpp))
	}

	shortest := byHorizon[present[0]]
	out.SampleCount = shortest.MessageCount
	out.RevenueTrend = shortest.RevenueTrend
	if out.RevenueTrend == "" {
		out.RevenueTrend = models.TrendFlat
	}
	out.ContentRankings = rankings(byHorizon, present)
	return out
}

// horizonWeights normalizes configured weights over present horizons. When
// the 7d window has too few messages its weight shrinks in proportion and
// the difference moves to the longer windows.
func horizonWeights(byHorizon map[models.Horizon]models.PerformanceSnapshot, present []models.Horizon, cfg Config, out *models.FusedPerformance) map[models.Horizon]float64 {
	w := make(map[models.Horizon]float64, len(present))
	for _, h := range present {
		w[h] = cfg.Weights[string(h)]
	}

	short, ok := byHorizon[models.Horizon7d]
	if ok && len(present) > 1 && cfg.LowSampleThreshold > 0 && short.MessageCount < cfg.LowSampleThreshold {
		scale := float64(short.MessageCount) / float64(cfg.LowSampleThreshold)
		moved := w[models.Horizon7d] * (1 - scale)
		w[models.Horizon7d] -= moved

		longer := 0.0
		for _, h := range present[1:] {
			longer += w[h]
		}
		for _, h := range present[1:] {
			if longer > 0 {
				w[h] += moved * w[h] / longer
			} else {
				w[h] += moved / float64(len(present)-1)
			}
		}
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %d messages", WarningLowSample, short.MessageCount))
	}

	total := 0.0
	for _, v := range w {
		total += v
	}
	for h := range w {
		if total > 0 {
			w[h] /= total
		} else {
			w[h] = 1 / float64(len(present))
		}
	}
	return w
}

// rankings prefers the longest horizon that reports content earnings.
func rankings(byHorizon map[models.Horizon]models.PerformanceSnapshot, present []models.Horizon) []models.ContentRank {
	for i := len(present) - 1; i >= 0; i-- {
		r := byHorizon[present[i]].ContentRankings
		if len(r) == 0 {
			continue
		}
		out := append([]models.ContentRank(nil), r...)
		sort.SliceStable(out, func(a, b int) bool {
			if out[a].Earnings != out[b].Earnings {
				return out[a].Earnings > out[b].Earnings
			}
			return out[a].ContentType < out[b].ContentType
		})
		return out
	}
	return nil
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
