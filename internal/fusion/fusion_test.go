package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/sendplan/internal/models"
)

func snap(h models.Horizon, sat, opp float64, msgs int) models.PerformanceSnapshot {
	return models.PerformanceSnapshot{Horizon: h, Saturation: sat, Opportunity: opp, MessageCount: msgs, RevenueTrend: models.TrendUp}
}

func TestFuseNoSnapshotsIsNeutral(t *testing.T) {
	got := Fuse(nil, DefaultConfig())

	assert.True(t, got.NoData)
	assert.Equal(t, 50.0, got.Saturation)
	assert.Equal(t, 50.0, got.Opportunity)
	assert.Contains(t, got.Warnings, WarningNoData)
}

func TestFuseFixedWeights(t *testing.T) {
	got := Fuse([]models.PerformanceSnapshot{
		snap(models.Horizon7d, 60, 40, 100),
		snap(models.Horizon14d, 50, 50, 200),
		snap(models.Horizon30d, 40, 60, 400),
	}, DefaultConfig())

	assert.InDelta(t, 0.5*60+0.3*50+0.2*40, got.Saturation, 0.01)
	assert.InDelta(t, 0.5*40+0.3*50+0.2*60, got.Opportunity, 0.01)
	assert.False(t, got.DivergenceDetected)
	assert.Equal(t, 100, got.SampleCount)
	assert.Equal(t, models.TrendUp, got.RevenueTrend)
}

func TestFuseRenormalizesMissingHorizon(t *testing.T) {
	got := Fuse([]models.PerformanceSnapshot{
		snap(models.Horizon14d, 30, 70, 50),
		snap(models.Horizon30d, 40, 60, 90),
	}, DefaultConfig())

	assert.InDelta(t, (0.3*30+0.2*40)/0.5, got.Saturation, 0.01)
	assert.Equal(t, []models.Horizon{models.Horizon14d, models.Horizon30d}, got.HorizonsUsed)
	assert.Equal(t, 50, got.SampleCount)
}

func TestFuseFlagsDivergenceAsWarning(t *testing.T) {
	got := Fuse([]models.PerformanceSnapshot{
		snap(models.Horizon7d, 80, 50, 100),
		snap(models.Horizon30d, 40, 50, 100),
	}, DefaultConfig())

	assert.True(t, got.DivergenceDetected)
	require.NotEmpty(t, got.Warnings)
	assert.Contains(t, got.Warnings[len(got.Warnings)-1], WarningDivergence)
}

func TestFuseLowShortSampleShiftsWeightToLongerHorizons(t *testing.T) {
	snaps := []models.PerformanceSnapshot{
		snap(models.Horizon7d, 100, 0, 2),
		snap(models.Horizon14d, 0, 0, 100),
		snap(models.Horizon30d, 0, 0, 100),
	}
	got := Fuse(snaps, DefaultConfig())

	// 7d weight 0.5 scaled to 0.1, so fused saturation is 10
	assert.InDelta(t, 10, got.Saturation, 0.01)
	assert.Equal(t, 2, got.SampleCount)
}

func TestFuseIgnoresDuplicateAndUnknownHorizons(t *testing.T) {
	got := Fuse([]models.PerformanceSnapshot{
		snap(models.Horizon7d, 20, 20, 40),
		snap(models.Horizon7d, 90, 90, 40),
		{Horizon: "90d", Saturation: 100, Opportunity: 100},
	}, DefaultConfig())

	assert.InDelta(t, 20, got.Saturation, 0.01)
}

func TestFuseSortsRankingsFromLongestHorizon(t *testing.T) {
	long := snap(models.Horizon30d, 50, 50, 100)
	long.ContentRankings = []models.ContentRank{{ContentType: "solo", Earnings: 10}, {ContentType: "bg", Earnings: 90}}
	short := snap(models.Horizon7d, 50, 50, 100)
	short.ContentRankings = []models.ContentRank{{ContentType: "feet", Earnings: 500}}

	got := Fuse([]models.PerformanceSnapshot{short, long}, DefaultConfig())
	require.Len(t, got.ContentRankings, 2)
	assert.Equal(t, "bg", got.ContentRankings[0].ContentType)
}
