package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/sendplan/internal/models"
)

var (
	// ErrNotFound is returned when a creator does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyApproved is returned when an approved week would be overwritten.
	ErrAlreadyApproved = errors.New("schedule already approved for week")
)

// CaptionFilter narrows caption candidates for a send type.
type CaptionFilter struct {
	CreatorID      string
	MinFreshness   float64
	MinPerformance float64
	Limit          int
}

// CreatorDataProvider is the read side: profiles, performance signals and
// caption inventory. Signals are precomputed elsewhere.
type CreatorDataProvider interface {
	GetCreatorContext(ctx context.Context, creatorID string) (models.CreatorContext, error)
	// GetPerformanceSnapshots may return fewer horizons than requested.
	GetPerformanceSnapshots(ctx context.Context, creatorID string, horizons []models.Horizon) ([]models.PerformanceSnapshot, error)
	// GetCaptionCandidates may return an empty list.
	GetCaptionCandidates(ctx context.Context, sendType string, filter CaptionFilter) ([]models.CaptionCandidate, error)
	// GetTimingHistory may return an empty history.
	GetTimingHistory(ctx context.Context, creatorID string) (models.TimingHistory, error)
	GetCaptionPoolSummary(ctx context.Context, creatorID string) (map[string]int, error)
	GetVolumeElasticity(ctx context.Context, creatorID string) ([]models.ElasticitySignal, error)
}

// PersistOptions controls overwrite behavior of a persist call.
type PersistOptions struct {
	Overwrite bool
}

// ScheduleSink stores final schedules, idempotent per (creator, week start).
type ScheduleSink interface {
	Persist(ctx context.Context, creatorID string, weekStart time.Time, items []models.ScheduledItem, report models.ValidationReport, opts PersistOptions) (string, error)
}

// Storage is a backend that serves both sides.
type Storage interface {
	CreatorDataProvider
	ScheduleSink
	Close() error
}

// WeekKey is the idempotency key of a creator week.
func WeekKey(creatorID string, weekStart time.Time) string {
	return creatorID + ":" + weekStart.Format(time.DateOnly)
}
