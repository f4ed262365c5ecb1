package followup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/runstate"
)

var weekStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newState() *runstate.RunState {
	creator := models.CreatorContext{ID: "c1", PageType: models.PagePaid}
	return runstate.New("run", creator, weekStart, 11, models.DefaultCatalog())
}

func primary(id, sendType string, day, minute, priority int) models.ScheduledItem {
	it := models.ScheduledItem{
		ID: id, SendType: sendType, Category: models.CategoryRevenue,
		Day: day, Minute: minute, Priority: priority,
	}
	it.Stamp(weekStart)
	return it
}

func TestGenerateOnlyForEligibleItems(t *testing.T) {
	g := NewGenerator(DefaultConfig(), zap.NewNop())
	price := 15.0
	unlock := primary("p1", "ppv_unlock", 0, 12*60, 1)
	unlock.Price = &price
	items := []models.ScheduledItem{
		unlock,
		primary("p2", "link_drop", 0, 14*60, 1),
		primary("p3", "bundle", 1, 18*60, 1),
	}

	out := g.Generate(items, newState())
	require.Len(t, out, 2)

	parents := map[string]models.ScheduledItem{"p1": items[0], "p3": items[2]}
	for _, f := range out {
		require.NotNil(t, f.ParentItemID)
		p, ok := parents[*f.ParentItemID]
		require.True(t, ok)
		assert.True(t, f.IsFollowUp)
		assert.Equal(t, models.FollowUpSendType, f.SendType)
		assert.Equal(t, models.TargetNonPurchasers, f.Target)
		assert.Equal(t, p.Day, f.Day)
		delay := f.Minute - p.Minute
		assert.GreaterOrEqual(t, delay, 15)
		assert.LessOrEqual(t, delay, 30)
		assert.NotEmpty(t, f.ID)
		assert.NotEqual(t, p.ID, f.ID)
		assert.Equal(t, p.Date, f.Date)
	}
	require.NotNil(t, out[0].Price)
	assert.Equal(t, 15.0, *out[0].Price)
}

func TestGenerateCapsPerDayByPriority(t *testing.T) {
	g := NewGenerator(DefaultConfig(), zap.NewNop())
	var items []models.ScheduledItem
	for i := 0; i < 6; i++ {
		items = append(items, primary(string(rune('a'+i)), "ppv_unlock", 2, (9+2*i)*60, 6-i))
	}

	out := g.Generate(items, newState())
	require.Len(t, out, 4)

	kept := map[string]bool{}
	for _, f := range out {
		kept[*f.ParentItemID] = true
	}
	// priorities 1..4 belong to items f, e, d, c
	assert.Equal(t, map[string]bool{"c": true, "d": true, "e": true, "f": true}, kept)
}

func TestGenerateDefersPastCutoff(t *testing.T) {
	g := NewGenerator(DefaultConfig(), zap.NewNop())
	items := []models.ScheduledItem{
		primary("late-1", "ppv_unlock", 0, 23*60+20, 1),
		primary("late-2", "bundle", 0, 23*60+25, 2),
		primary("sunday", "ppv_unlock", 6, 23*60+25, 1),
	}

	out := g.Generate(items, newState())
	require.Len(t, out, 3)

	byParent := map[string]models.ScheduledItem{}
	for _, f := range out {
		byParent[*f.ParentItemID] = f
	}
	assert.Equal(t, 1, byParent["late-1"].Day)
	assert.Equal(t, "08:00:00", byParent["late-1"].Time)
	assert.Equal(t, 1, byParent["late-2"].Day)
	assert.Equal(t, "08:01:00", byParent["late-2"].Time)
	assert.Equal(t, 7, byParent["sunday"].Day)
	assert.Equal(t, "2026-03-09", byParent["sunday"].Date)
}

func TestGenerateKeepsDelayInsideWindowWhenTaken(t *testing.T) {
	g := NewGenerator(DefaultConfig(), zap.NewNop())
	noon := 12 * 60
	items := []models.ScheduledItem{primary("p", "ppv_unlock", 0, noon, 1)}
	for m := noon + 15; m <= noon+28; m++ {
		items = append(items, primary(fmt.Sprintf("blocker-%d", m), "link_drop", 0, m, 2))
	}

	out := g.Generate(items, newState())
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Day)
	assert.Contains(t, []int{noon + 29, noon + 30}, out[0].Minute)
}

func TestGenerateDefersWhenWindowIsFull(t *testing.T) {
	g := NewGenerator(DefaultConfig(), zap.NewNop())
	noon := 12 * 60
	items := []models.ScheduledItem{primary("p", "ppv_unlock", 0, noon, 1)}
	for m := noon + 15; m <= noon+31; m++ {
		items = append(items, primary(fmt.Sprintf("blocker-%d", m), "link_drop", 0, m, 2))
	}

	out := g.Generate(items, newState())
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Day)
	assert.Equal(t, "08:00:00", out[0].Time)
}

func TestGenerateCapsExactTimeReuse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDelayMinutes, cfg.MaxDelayMinutes = 20, 20
	g := NewGenerator(cfg, zap.NewNop())
	items := []models.ScheduledItem{
		primary("mon", "ppv_unlock", 0, 10*60, 1),
		primary("tue", "ppv_unlock", 1, 10*60, 1),
		primary("wed", "ppv_unlock", 2, 10*60, 1),
	}

	out := g.Generate(items, newState())
	require.Len(t, out, 3)

	byParent := map[string]models.ScheduledItem{}
	for _, f := range out {
		byParent[*f.ParentItemID] = f
	}
	assert.Equal(t, "10:20:00", byParent["mon"].Time)
	assert.Equal(t, "10:20:00", byParent["tue"].Time)
	assert.Equal(t, 3, byParent["wed"].Day)
	assert.Equal(t, "08:00:00", byParent["wed"].Time)
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := NewGenerator(DefaultConfig(), zap.NewNop())
	items := []models.ScheduledItem{
		primary("p1", "ppv_unlock", 0, 11*60, 1),
		primary("p2", "flash_bundle", 3, 20*60, 1),
	}

	a := g.Generate(items, newState())
	b := g.Generate(items, newState())
	assert.Equal(t, a, b)
}
