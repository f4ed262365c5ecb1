package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xaenox/sendplan/internal/models"
)

// StoredSchedule is a persisted week.
type StoredSchedule struct {
	ID        string
	CreatorID string
	WeekStart time.Time
	Items     []models.ScheduledItem
	Report    models.ValidationReport
	UpdatedAt time.Time
}

type MemoryStorage struct {
	mu          sync.RWMutex
	creators    map[string]models.CreatorContext
	snapshots   map[string][]models.PerformanceSnapshot
	captions    map[string]map[string][]models.CaptionCandidate // creator -> send type -> captions
	timing      map[string]models.TimingHistory
	poolSummary map[string]map[string]int
	elasticity  map[string][]models.ElasticitySignal
	schedules   map[string]*StoredSchedule
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		creators:    make(map[string]models.CreatorContext),
		snapshots:   make(map[string][]models.PerformanceSnapshot),
		captions:    make(map[string]map[string][]models.CaptionCandidate),
		timing:      make(map[string]models.TimingHistory),
		poolSummary: make(map[string]map[string]int),
		elasticity:  make(map[string][]models.ElasticitySignal),
		schedules:   make(map[string]*StoredSchedule),
	}
}

// Seeding methods

func (s *MemoryStorage) PutCreator(c models.CreatorContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creators[c.ID] = c
}

func (s *MemoryStorage) PutSnapshots(creatorID string, snaps ...models.PerformanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[creatorID] = append([]models.PerformanceSnapshot(nil), snaps...)
}

func (s *MemoryStorage) PutCaptions(creatorID, sendType string, captions ...models.CaptionCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captions[creatorID] == nil {
		s.captions[creatorID] = make(map[string][]models.CaptionCandidate)
	}
	s.captions[creatorID][sendType] = append(s.captions[creatorID][sendType], captions...)
}

func (s *MemoryStorage) PutTimingHistory(creatorID string, h models.TimingHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing[creatorID] = h
}

func (s *MemoryStorage) PutPoolSummary(creatorID string, summary map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poolSummary[creatorID] = summary
}

func (s *MemoryStorage) PutElasticity(creatorID string, signals ...models.ElasticitySignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elasticity[creatorID] = signals
}

// Schedule returns a persisted week, if any.
func (s *MemoryStorage) Schedule(creatorID string, weekStart time.Time) (*StoredSchedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[WeekKey(creatorID, weekStart)]
	return sch, ok
}

// CreatorDataProvider

func (s *MemoryStorage) GetCreatorContext(ctx context.Context, creatorID string) (models.CreatorContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, exists := s.creators[creatorID]; exists {
		return c, nil
	}
	return models.CreatorContext{}, fmt.Errorf("creator %s: %w", creatorID, ErrNotFound)
}

func (s *MemoryStorage) GetPerformanceSnapshots(ctx context.Context, creatorID string, horizons []models.Horizon) ([]models.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[models.Horizon]bool, len(horizons))
	for _, h := range horizons {
		want[h] = true
	}
	var out []models.PerformanceSnapshot
	for _, snap := range s.snapshots[creatorID] {
		if want[snap.Horizon] {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *MemoryStorage) GetCaptionCandidates(ctx context.Context, sendType string, filter CaptionFilter) ([]models.CaptionCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CaptionCandidate
	for _, c := range s.captions[filter.CreatorID][sendType] {
		if c.Freshness < filter.MinFreshness || c.Performance < filter.MinPerformance {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStorage) GetTimingHistory(ctx context.Context, creatorID string) (models.TimingHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timing[creatorID], nil
}

// GetCaptionPoolSummary returns the seeded summary, or counts the seeded
// captions per send type when none was set.
func (s *MemoryStorage) GetCaptionPoolSummary(ctx context.Context, creatorID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	if summary, ok := s.poolSummary[creatorID]; ok {
		for k, v := range summary {
			out[k] = v
		}
		return out, nil
	}
	for sendType, caps := range s.captions[creatorID] {
		out[sendType] = len(caps)
	}
	return out, nil
}

func (s *MemoryStorage) GetVolumeElasticity(ctx context.Context, creatorID string) ([]models.ElasticitySignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ElasticitySignal{}, s.elasticity[creatorID]...), nil
}

// ScheduleSink

func (s *MemoryStorage) Persist(ctx context.Context, creatorID string, weekStart time.Time, items []models.ScheduledItem, report models.ValidationReport, opts PersistOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := WeekKey(creatorID, weekStart)
	id := uuid.NewString()
	if existing, exists := s.schedules[key]; exists {
		if existing.Report.Status == models.StatusApproved && !opts.Overwrite {
			return "", fmt.Errorf("%s: %w", key, ErrAlreadyApproved)
		}
		id = existing.ID
	}

	s.schedules[key] = &StoredSchedule{
		ID:        id,
		CreatorID: creatorID,
		WeekStart: weekStart,
		Items:     append([]models.ScheduledItem(nil), items...),
		Report:    report,
		UpdatedAt: time.Now(),
	}
	return id, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
