package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/classifier"
	"github.com/xaenox/sendplan/internal/inflight"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/notify"
	"github.com/xaenox/sendplan/internal/storage"
	"github.com/xaenox/sendplan/internal/validation"
)

var weekStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	reviews []notify.Review
}

func (n *recordingNotifier) NotifyReview(_ context.Context, r notify.Review) error {
	n.reviews = append(n.reviews, r)
	return nil
}

// cancellingProvider cancels the run on the first caption request.
type cancellingProvider struct {
	*storage.MemoryStorage
	cancel context.CancelFunc
}

func (p *cancellingProvider) GetCaptionCandidates(ctx context.Context, sendType string, f storage.CaptionFilter) ([]models.CaptionCandidate, error) {
	p.cancel()
	return p.MemoryStorage.GetCaptionCandidates(ctx, sendType, f)
}

func seededStorage(skip ...string) *storage.MemoryStorage {
	mem := storage.NewMemoryStorage()
	mem.PutCreator(models.CreatorContext{
		ID: "c1", PageName: "luna", PageType: models.PagePaid, FanCount: 2500,
		Timezone: "UTC", ContentMultiplier: 1,
		Persona: models.Persona{Tone: "playful", Keywords: []string{"game", "surprise"}},
	})
	mem.PutSnapshots("c1",
		models.PerformanceSnapshot{Horizon: models.Horizon7d, Saturation: 45, Opportunity: 55, MessageCount: 60,
			ContentRankings: []models.ContentRank{{ContentType: "video", Earnings: 900}, {ContentType: "photo", Earnings: 400}}},
		models.PerformanceSnapshot{Horizon: models.Horizon14d, Saturation: 48, Opportunity: 52, MessageCount: 120},
		models.PerformanceSnapshot{Horizon: models.Horizon30d, Saturation: 50, Opportunity: 50, MessageCount: 240},
	)
	mem.PutTimingHistory("c1", models.TimingHistory{PeakHours: []int{11, 15, 19, 22}})

	skipped := map[string]bool{}
	for _, s := range skip {
		skipped[s] = true
	}
	contentTypes := []string{"video", "photo", "text"}
	for key := range models.DefaultCatalog() {
		if skipped[key] {
			continue
		}
		var caps []models.CaptionCandidate
		for i := 0; i < 40; i++ {
			caps = append(caps, models.CaptionCandidate{
				ID:          fmt.Sprintf("%s-%02d", key, i),
				Text:        fmt.Sprintf("%s caption %d, want a game?", key, i),
				Freshness:   float64(50 + i),
				Performance: float64(90 - i),
				ContentType: contentTypes[i%len(contentTypes)],
			})
		}
		mem.PutCaptions("c1", key, caps...)
	}
	return mem
}

func newEngine(mem storage.CreatorDataProvider, sink storage.ScheduleSink, deps Deps) *Engine {
	deps.Provider = mem
	deps.Sink = sink
	deps.Logger = zap.NewNop()
	if deps.Classifier == nil {
		deps.Classifier = classifier.NewKeywordClassifier()
	}
	return New(DefaultConfig(), deps)
}

func TestGeneratePersistsValidSchedule(t *testing.T) {
	mem := seededStorage()
	notifier := &recordingNotifier{}
	metrics := NewMetrics(prometheus.NewRegistry())
	e := newEngine(mem, mem, Deps{Notifier: notifier, Metrics: metrics})

	res, err := e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: 7})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Persisted)
	assert.NotEqual(t, models.StatusRejected, res.Report.Status)
	assert.Empty(t, res.Report.Violations)

	stored, ok := mem.Schedule("c1", weekStart)
	require.True(t, ok)
	assert.Equal(t, res.ScheduleID, stored.ID)
	assert.Len(t, stored.Items, len(res.Items))

	primaries := map[string]bool{}
	times := map[string]bool{}
	captions := map[string]bool{}
	distinct := map[string]bool{}
	for _, it := range res.Items {
		key := it.Date + "T" + it.Time
		assert.False(t, times[key], "duplicate time %s", key)
		times[key] = true
		if it.CaptionID != nil {
			assert.False(t, captions[*it.CaptionID], "caption %s reused", *it.CaptionID)
			captions[*it.CaptionID] = true
		}
		if !it.IsFollowUp {
			primaries[it.ID] = true
			distinct[it.SendType] = true
		}
	}
	assert.GreaterOrEqual(t, len(distinct), 10)

	followUps := 0
	for _, it := range res.Items {
		if !it.IsFollowUp {
			continue
		}
		followUps++
		require.NotNil(t, it.ParentItemID)
		assert.True(t, primaries[*it.ParentItemID])
	}
	assert.Positive(t, followUps)

	status := string(res.Report.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(status)))
	if res.Report.Status == models.StatusApproved {
		assert.Empty(t, notifier.reviews)
	} else {
		assert.Len(t, notifier.reviews, 1)
	}
}

func TestGenerateTimelineAcrossSeeds(t *testing.T) {
	for seed := uint64(1); seed <= 30; seed++ {
		mem := seededStorage()
		e := newEngine(mem, mem, Deps{})

		res, err := e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: seed})
		require.NoError(t, err, "seed %d", seed)
		assert.Empty(t, res.Report.Violations, "seed %d", seed)

		exact := map[string]int{}
		byID := map[string]models.ScheduledItem{}
		var prev *models.ScheduledItem
		for i := range res.Items {
			it := res.Items[i]
			exact[it.SendType+" "+it.Time]++
			if it.IsFollowUp {
				continue
			}
			byID[it.ID] = it
			if prev != nil && prev.Date == it.Date {
				assert.NotEqual(t, prev.SendType, it.SendType, "seed %d: %s %s and %s back to back", seed, it.Date, prev.Time, it.Time)
			}
			prev = &res.Items[i]
		}
		for key, n := range exact {
			assert.LessOrEqual(t, n, 2, "seed %d: %s occurs %d times", seed, key, n)
		}

		for _, it := range res.Items {
			if !it.IsFollowUp {
				continue
			}
			parent, ok := byID[*it.ParentItemID]
			require.True(t, ok)
			if it.Day == parent.Day {
				delay := it.Minute - parent.Minute
				assert.GreaterOrEqual(t, delay, 15, "seed %d", seed)
				assert.LessOrEqual(t, delay, 30, "seed %d", seed)
				continue
			}
			assert.Equal(t, parent.Day+1, it.Day, "seed %d", seed)
			assert.GreaterOrEqual(t, it.Minute, 8*60, "seed %d", seed)
		}
	}
}

func TestGenerateIsIdempotentForSeed(t *testing.T) {
	run := func() []byte {
		mem := seededStorage()
		res, err := newEngine(mem, mem, Deps{}).Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: 2024})
		require.NoError(t, err)
		out, err := json.Marshal(res.Items)
		require.NoError(t, err)
		return out
	}

	first, second := run(), run()
	assert.Empty(t, cmp.Diff(string(first), string(second)))
}

func TestGenerateEmptyCaptionPool(t *testing.T) {
	mem := seededStorage("ppv_unlock")
	e := newEngine(mem, mem, Deps{})

	res, err := e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: 3})
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusRejected, res.Report.Status)

	unlocks := 0
	for _, it := range res.Items {
		if it.SendType != "ppv_unlock" {
			continue
		}
		unlocks++
		assert.True(t, it.NeedsCaption)
		assert.Nil(t, it.CaptionID)
	}
	require.Positive(t, unlocks, "seed should allocate ppv_unlock")

	needsCaption := 0
	for _, w := range res.Report.Warnings {
		if w.Code == validation.CodeNeedsCaption {
			needsCaption++
			assert.Equal(t, string(apperr.Medium), w.Severity)
		}
	}
	assert.Equal(t, unlocks, needsCaption)

	raw, err := json.Marshal(res.Items)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"captionId":null`)
}

func TestGenerateCancelledBeforeStart(t *testing.T) {
	mem := seededStorage()
	e := newEngine(mem, mem, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Generate(ctx, Request{CreatorID: "c1", WeekStart: weekStart})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, apperr.CodeGenerationCancelled, apperr.CodeOf(err))
	_, ok := mem.Schedule("c1", weekStart)
	assert.False(t, ok)
}

func TestGenerateCancelledBetweenPhases(t *testing.T) {
	mem := seededStorage()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	metrics := NewMetrics(prometheus.NewRegistry())
	e := newEngine(&cancellingProvider{MemoryStorage: mem, cancel: cancel}, mem, Deps{Metrics: metrics})

	res, err := e.Generate(ctx, Request{CreatorID: "c1", WeekStart: weekStart})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, apperr.CodeGenerationCancelled, apperr.CodeOf(err))
	assert.True(t, apperr.IsFatal(err))
	_, ok := mem.Schedule("c1", weekStart)
	assert.False(t, ok, "no partial schedule is persisted")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(OutcomeCancelled)))
}

func TestGenerateAbortsWhenInFlight(t *testing.T) {
	mem := seededStorage()
	guard := inflight.NewMemoryGuard(time.Minute)
	e := newEngine(mem, mem, Deps{Guard: guard})

	_, err := e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, InFlight: true})
	assert.Equal(t, apperr.CodeRunInFlight, apperr.CodeOf(err))

	ok, err := guard.Acquire(context.Background(), "c1", weekStart, "other-run")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart})
	assert.Equal(t, apperr.CodeRunInFlight, apperr.CodeOf(err))
	_, stored := mem.Schedule("c1", weekStart)
	assert.False(t, stored)

	require.NoError(t, guard.Release(context.Background(), "c1", weekStart, "other-run"))
	_, err = e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart})
	require.NoError(t, err)

	ok, err = guard.Acquire(context.Background(), "c1", weekStart, "later-run")
	require.NoError(t, err)
	assert.True(t, ok, "key is released after the run")
}

func TestGenerateRejectedIsNotPersisted(t *testing.T) {
	mem := seededStorage()
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.Validation.RejectBelow = 101
	e := New(cfg, Deps{Provider: mem, Sink: mem, Notifier: notifier, Logger: zap.NewNop()})

	res, err := e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: 1})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeScheduleRejected, apperr.CodeOf(err))
	require.NotNil(t, res)
	assert.Equal(t, models.StatusRejected, res.Report.Status)
	assert.False(t, res.Persisted)

	_, ok := mem.Schedule("c1", weekStart)
	assert.False(t, ok)
	require.Len(t, notifier.reviews, 1)
	assert.Equal(t, models.StatusRejected, notifier.reviews[0].Report.Status)
}

func TestGenerateRespectsApprovedWeek(t *testing.T) {
	mem := seededStorage()
	_, err := mem.Persist(context.Background(), "c1", weekStart, nil,
		models.ValidationReport{Status: models.StatusApproved, Score: 100}, storage.PersistOptions{})
	require.NoError(t, err)
	e := newEngine(mem, mem, Deps{})

	_, err = e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: 1})
	require.Error(t, err)
	assert.Equal(t, apperr.CodePersistFailed, apperr.CodeOf(err))

	res, err := e.Generate(context.Background(), Request{CreatorID: "c1", WeekStart: weekStart, Seed: 1, Overwrite: true})
	require.NoError(t, err)
	assert.True(t, res.Persisted)
}

func TestGenerateUnknownCreator(t *testing.T) {
	mem := seededStorage()
	e := newEngine(mem, mem, Deps{})

	_, err := e.Generate(context.Background(), Request{CreatorID: "nobody", WeekStart: weekStart})
	assert.Equal(t, apperr.CodeCreatorNotFound, apperr.CodeOf(err))
	assert.True(t, apperr.IsFatal(err))
}

func TestGenerateInvalidRequest(t *testing.T) {
	mem := seededStorage()
	e := newEngine(mem, mem, Deps{})

	_, err := e.Generate(context.Background(), Request{CreatorID: "c1"})
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}
