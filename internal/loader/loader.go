// Package loader fetches every signal a run needs from the data provider.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/storage"
)

// Fallback tags recorded when an optional signal is unavailable.
const (
	FallbackSnapshots   = "snapshots_unavailable"
	FallbackTiming      = "timing_history_default"
	FallbackCaptionPool = "caption_pool_unavailable"
	FallbackElasticity  = "elasticity_unavailable"
)

// Signals is the joined result of the fan-out.
type Signals struct {
	Creator   models.CreatorContext
	Snapshots []models.PerformanceSnapshot
	Timing    models.TimingHistory
	// CaptionPool is nil when the summary could not be loaded.
	CaptionPool map[string]int
	// Elasticity is nil when the signal could not be loaded.
	Elasticity []models.ElasticitySignal
	Fallbacks  []string
}

type Loader struct {
	provider storage.CreatorDataProvider
	workers  int
	logger   *zap.Logger
}

func New(provider storage.CreatorDataProvider, workers int, logger *zap.Logger) *Loader {
	if workers <= 0 {
		workers = 4
	}
	return &Loader{provider: provider, workers: workers, logger: logger}
}

// Load queries the creator profile and the optional signals in parallel
// and joins them. Only a missing or unreachable creator profile and
// cancellation fail the load; the other signals fall back to defaults.
func (l *Loader) Load(ctx context.Context, creatorID string) (*Signals, error) {
	out := &Signals{}
	var mu sync.Mutex
	fallback := func(tag string, err error) {
		mu.Lock()
		out.Fallbacks = append(out.Fallbacks, tag)
		mu.Unlock()
		l.logger.Info("Optional signal unavailable, using default",
			zap.String("creator_id", creatorID),
			zap.String("fallback", tag),
			zap.Error(err))
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(l.workers)

	eg.Go(func() error {
		c, err := l.provider.GetCreatorContext(egCtx, creatorID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(err, apperr.CodeCreatorNotFound, apperr.Fatal, "creator %s", creatorID)
		}
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Wrap(err, apperr.CodeServiceDegraded, apperr.Fatal, "creator profile for %s", creatorID)
		}
		out.Creator = c
		return nil
	})

	eg.Go(func() error {
		snaps, err := l.provider.GetPerformanceSnapshots(egCtx, creatorID, models.Horizons)
		if err != nil {
			fallback(FallbackSnapshots, err)
			return nil
		}
		out.Snapshots = snaps
		return nil
	})

	eg.Go(func() error {
		h, err := l.provider.GetTimingHistory(egCtx, creatorID)
		if err != nil {
			fallback(FallbackTiming, err)
			return nil
		}
		out.Timing = h
		return nil
	})

	eg.Go(func() error {
		pool, err := l.provider.GetCaptionPoolSummary(egCtx, creatorID)
		if err != nil {
			fallback(FallbackCaptionPool, err)
			return nil
		}
		if pool == nil {
			pool = map[string]int{}
		}
		out.CaptionPool = pool
		return nil
	})

	eg.Go(func() error {
		signals, err := l.provider.GetVolumeElasticity(egCtx, creatorID)
		if err != nil {
			fallback(FallbackElasticity, err)
			return nil
		}
		if signals == nil {
			signals = []models.ElasticitySignal{}
		}
		out.Elasticity = signals
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeGenerationCancelled, apperr.Fatal, "signal load cancelled")
	}
	if len(out.Timing.PeakHours) == 0 && !contains(out.Fallbacks, FallbackTiming) {
		out.Fallbacks = append(out.Fallbacks, FallbackTiming)
	}
	sort.Strings(out.Fallbacks)

	l.logger.Info("Signals loaded",
		zap.String("creator_id", creatorID),
		zap.Int("snapshots", len(out.Snapshots)),
		zap.Int("peak_hours", len(out.Timing.PeakHours)),
		zap.Strings("fallbacks", out.Fallbacks))
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// String summarizes the load for logs.
func (s *Signals) String() string {
	return fmt.Sprintf("creator=%s snapshots=%d fallbacks=%v", s.Creator.ID, len(s.Snapshots), s.Fallbacks)
}
