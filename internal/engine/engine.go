// Package engine runs the schedule pipeline for one creator week.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xaenox/sendplan/internal/allocation"
	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/caption"
	"github.com/xaenox/sendplan/internal/classifier"
	"github.com/xaenox/sendplan/internal/followup"
	"github.com/xaenox/sendplan/internal/fusion"
	"github.com/xaenox/sendplan/internal/inflight"
	"github.com/xaenox/sendplan/internal/loader"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/notify"
	"github.com/xaenox/sendplan/internal/runstate"
	"github.com/xaenox/sendplan/internal/storage"
	"github.com/xaenox/sendplan/internal/timing"
	"github.com/xaenox/sendplan/internal/validation"
	"github.com/xaenox/sendplan/internal/volume"
)

// Phase names used in logs, metrics and cancellation errors.
const (
	PhaseLoad       = "load"
	PhaseFusion     = "fusion"
	PhaseVolume     = "volume"
	PhaseAllocation = "allocation"
	PhaseCaption    = "caption"
	PhaseTiming     = "timing"
	PhaseFollowUp   = "followup"
	PhaseValidation = "validation"
	PhasePersist    = "persist"
)

// Run outcomes recorded in metrics.
const (
	OutcomeCancelled = "cancelled"
	OutcomeInFlight  = "in_flight"
	OutcomeFailed    = "failed"
)

// Config composes the phase configurations.
type Config struct {
	LoaderWorkers int               `mapstructure:"loader_workers"`
	NotifyTimeout time.Duration     `mapstructure:"notify_timeout"`
	Fusion        fusion.Config     `mapstructure:"fusion"`
	Volume        volume.Config     `mapstructure:"volume"`
	Allocation    allocation.Config `mapstructure:"allocation"`
	Caption       caption.Config    `mapstructure:"caption"`
	Timing        timing.Config     `mapstructure:"timing"`
	FollowUp      followup.Config   `mapstructure:"followup"`
	Validation    validation.Config `mapstructure:"validation"`
}

// Deps are the collaborators of the engine. Guard, Notifier and Classifier
// are optional.
type Deps struct {
	Provider   storage.CreatorDataProvider
	Sink       storage.ScheduleSink
	Guard      inflight.Guard
	Notifier   notify.Notifier
	Classifier classifier.Classifier
	Catalog    models.Catalog
	Metrics    *Metrics
	Logger     *zap.Logger
}

// Request asks for one creator week.
type Request struct {
	CreatorID string
	// WeekStart is interpreted as a calendar date in the creator's timezone.
	WeekStart time.Time
	Seed      uint64
	// Overwrite replaces an already approved week.
	Overwrite bool
	// InFlight is a caller hint that the (creator, week) key is already
	// being generated elsewhere; the run aborts immediately.
	InFlight bool
}

// Result is the outcome of a run.
type Result struct {
	RunID      string                  `json:"runId"`
	ScheduleID string                  `json:"scheduleId,omitempty"`
	CreatorID  string                  `json:"creatorId"`
	WeekStart  string                  `json:"weekStart"`
	Items      []models.ScheduledItem  `json:"items"`
	Report     models.ValidationReport `json:"report"`
	Quota      models.VolumeQuota      `json:"quota"`
	Fused      models.FusedPerformance `json:"fused"`
	Warnings   []string                `json:"warnings,omitempty"`
	Persisted  bool                    `json:"persisted"`
}

func DefaultConfig() Config {
	return Config{
		LoaderWorkers: 4,
		NotifyTimeout: 10 * time.Second,
		Fusion:        fusion.DefaultConfig(),
		Volume:        volume.DefaultConfig(),
		Allocation:    allocation.DefaultConfig(),
		Caption:       caption.DefaultConfig(),
		Timing:        timing.DefaultConfig(),
		FollowUp:      followup.DefaultConfig(),
		Validation:    validation.DefaultConfig(),
	}
}

type Engine struct {
	cfg        Config
	deps       Deps
	loader     *loader.Loader
	calculator *volume.Calculator
	allocator  *allocation.Allocator
	selector   *caption.Selector
	optimizer  *timing.Optimizer
	followups  *followup.Generator
	validator  *validation.Validator
	logger     *zap.Logger
}

func New(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Catalog == nil {
		deps.Catalog = models.DefaultCatalog()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	logger := deps.Logger
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		loader:     loader.New(deps.Provider, cfg.LoaderWorkers, logger.Named("loader")),
		calculator: volume.NewCalculator(cfg.Volume, logger.Named("volume")),
		allocator:  allocation.NewAllocator(cfg.Allocation, logger.Named("allocation")),
		selector:   caption.NewSelector(cfg.Caption, deps.Provider, deps.Classifier, logger.Named("caption")),
		optimizer:  timing.NewOptimizer(cfg.Timing, logger.Named("timing")),
		followups:  followup.NewGenerator(cfg.FollowUp, logger.Named("followup")),
		validator:  validation.NewValidator(cfg.Validation, logger.Named("validation")),
		logger:     logger,
	}
}

// Generate runs every phase for one creator week. Cancellation is checked
// between phases; a cancelled or failed run persists nothing. A rejected
// schedule is returned together with a schedule_rejected error.
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.CreatorID == "" || req.WeekStart.IsZero() {
		return nil, apperr.New(apperr.CodeInvalidRequest, apperr.Fatal, "creator id and week start are required")
	}
	if req.InFlight {
		e.deps.Metrics.recordRun(OutcomeInFlight)
		return nil, apperr.New(apperr.CodeRunInFlight, apperr.Fatal, "creator %s week %s already in flight",
			req.CreatorID, req.WeekStart.Format(time.DateOnly))
	}

	runID := uuid.NewString()
	logger := e.logger.With(
		zap.String("run_id", runID),
		zap.String("creator_id", req.CreatorID),
		zap.String("week_start", req.WeekStart.Format(time.DateOnly)))

	if e.deps.Guard != nil {
		ok, err := e.deps.Guard.Acquire(ctx, req.CreatorID, req.WeekStart, runID)
		if err != nil {
			e.deps.Metrics.recordRun(OutcomeFailed)
			return nil, apperr.Wrap(err, apperr.CodeServiceDegraded, apperr.Fatal, "in-flight guard unavailable")
		}
		if !ok {
			e.deps.Metrics.recordRun(OutcomeInFlight)
			return nil, apperr.New(apperr.CodeRunInFlight, apperr.Fatal, "creator %s week %s already in flight",
				req.CreatorID, req.WeekStart.Format(time.DateOnly))
		}
		defer func() {
			if err := e.deps.Guard.Release(context.WithoutCancel(ctx), req.CreatorID, req.WeekStart, runID); err != nil {
				logger.Warn("Failed to release in-flight key", zap.Error(err))
			}
		}()
	}

	res, err := e.run(ctx, runID, req, logger)
	switch {
	case err == nil:
		e.deps.Metrics.recordRun(string(res.Report.Status))
	case apperr.CodeOf(err) == apperr.CodeGenerationCancelled:
		e.deps.Metrics.recordRun(OutcomeCancelled)
	case apperr.CodeOf(err) == apperr.CodeScheduleRejected:
		e.deps.Metrics.recordRun(string(models.StatusRejected))
	default:
		e.deps.Metrics.recordRun(OutcomeFailed)
	}
	if err != nil {
		logger.Log(level(err), "Schedule generation ended", zap.Error(err))
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, runID string, req Request, logger *zap.Logger) (*Result, error) {
	started := time.Now()
	signals, err := e.loader.Load(ctx, req.CreatorID)
	e.deps.Metrics.observePhase(PhaseLoad, started)
	if err != nil {
		return nil, err
	}

	creator := signals.Creator
	weekStart := calendarDay(req.WeekStart, creator.Location())
	state := runstate.New(runID, creator, weekStart, req.Seed, e.deps.Catalog)
	state.Timing = signals.Timing
	for _, f := range signals.Fallbacks {
		state.Warn(f)
	}

	if err := checkpoint(ctx, PhaseFusion); err != nil {
		return nil, err
	}
	started = time.Now()
	state.Fused = fusion.Fuse(signals.Snapshots, e.cfg.Fusion)
	e.deps.Metrics.observePhase(PhaseFusion, started)

	if err := checkpoint(ctx, PhaseVolume); err != nil {
		return nil, err
	}
	started = time.Now()
	quota, err := e.calculator.Calculate(volume.Input{
		Creator:        creator,
		Fused:          state.Fused,
		WeekStart:      weekStart,
		DayMultipliers: signals.Timing.DayMultipliers,
		Elasticity:     signals.Elasticity,
		CaptionPool:    signals.CaptionPool,
		Catalog:        state.Catalog,
	})
	e.deps.Metrics.observePhase(PhaseVolume, started)
	if err != nil {
		return nil, err
	}
	state.Quota = quota

	if err := checkpoint(ctx, PhaseAllocation); err != nil {
		return nil, err
	}
	started = time.Now()
	plan, err := e.allocator.Allocate(state)
	e.deps.Metrics.observePhase(PhaseAllocation, started)
	if err != nil {
		return nil, apperr.Escalate(err)
	}
	for _, w := range plan.Warnings {
		state.Warn(w)
	}

	if err := checkpoint(ctx, PhaseCaption); err != nil {
		return nil, err
	}
	started = time.Now()
	selections := make([]caption.Selection, len(plan.Slots))
	for i, slot := range plan.Slots {
		sel, err := e.selector.Select(ctx, slot.SendType, state)
		if err != nil {
			return nil, err
		}
		selections[i] = sel
	}
	e.deps.Metrics.observePhase(PhaseCaption, started)

	if err := checkpoint(ctx, PhaseTiming); err != nil {
		return nil, err
	}
	started = time.Now()
	items := e.optimizer.Place(plan.Slots, state)
	for i := range items {
		caption.Apply(&items[i], selections[items[i].SlotIndex])
	}
	e.deps.Metrics.observePhase(PhaseTiming, started)

	if err := checkpoint(ctx, PhaseFollowUp); err != nil {
		return nil, err
	}
	started = time.Now()
	derived := e.followups.Generate(items, state)
	for i := range derived {
		sel, err := e.selector.Select(ctx, derived[i].SendType, state)
		if err != nil {
			return nil, err
		}
		caption.Apply(&derived[i], sel)
	}
	items = append(items, derived...)
	timing.Finalize(items, state)
	e.deps.Metrics.observePhase(PhaseFollowUp, started)

	if err := checkpoint(ctx, PhaseValidation); err != nil {
		return nil, err
	}
	started = time.Now()
	report := e.validator.Validate(validation.Plan{
		Items:       items,
		Slots:       plan.Slots,
		Creator:     creator,
		Catalog:     state.Catalog,
		Quota:       state.Quota,
		Fused:       state.Fused,
		WeekStart:   weekStart,
		RunWarnings: state.Warnings,
	})
	e.deps.Metrics.observePhase(PhaseValidation, started)

	res := &Result{
		RunID:     runID,
		CreatorID: creator.ID,
		WeekStart: weekStart.Format(time.DateOnly),
		Items:     items,
		Report:    report,
		Quota:     state.Quota,
		Fused:     state.Fused,
		Warnings:  state.Warnings,
	}

	if report.Status == models.StatusRejected {
		e.notify(ctx, res, weekStart, logger)
		return res, apperr.New(apperr.CodeScheduleRejected, apperr.High,
			"schedule scored %.0f with %d violations", report.Score, len(report.Violations))
	}

	if err := checkpoint(ctx, PhasePersist); err != nil {
		return nil, err
	}
	started = time.Now()
	id, err := e.deps.Sink.Persist(ctx, creator.ID, weekStart, items, report, storage.PersistOptions{Overwrite: req.Overwrite})
	e.deps.Metrics.observePhase(PhasePersist, started)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, apperr.Wrap(err, apperr.CodeGenerationCancelled, apperr.Fatal, "cancelled during %s", PhasePersist)
		}
		return nil, apperr.Wrap(err, apperr.CodePersistFailed, apperr.Fatal, "persist %s", storage.WeekKey(creator.ID, weekStart))
	}
	res.ScheduleID = id
	res.Persisted = true

	logger.Info("Schedule generated",
		zap.String("schedule_id", id),
		zap.String("status", string(report.Status)),
		zap.Float64("score", report.Score),
		zap.Int("items", len(items)),
		zap.Int("warnings", len(state.Warnings)))

	e.notify(ctx, res, weekStart, logger)
	return res, nil
}

func (e *Engine) notify(ctx context.Context, res *Result, weekStart time.Time, logger *zap.Logger) {
	if res.Report.Status == models.StatusApproved {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()
	err := e.deps.Notifier.NotifyReview(nctx, notify.Review{
		RunID:      res.RunID,
		CreatorID:  res.CreatorID,
		WeekStart:  weekStart,
		ScheduleID: res.ScheduleID,
		Report:     res.Report,
	})
	if err != nil {
		logger.Warn("Review notification failed", zap.Error(err))
	}
}

// checkpoint converts a cancelled context into generation_cancelled.
func checkpoint(ctx context.Context, phase string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeGenerationCancelled, apperr.Fatal, "cancelled before %s", phase)
	}
	return nil
}

// calendarDay is midnight of t's calendar date in loc.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func level(err error) zapcore.Level {
	switch apperr.SeverityOf(err) {
	case apperr.Fatal:
		return zapcore.ErrorLevel
	case apperr.High:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

func (r *Result) String() string {
	return fmt.Sprintf("run=%s creator=%s week=%s status=%s items=%d", r.RunID, r.CreatorID, r.WeekStart, r.Report.Status, len(r.Items))
}
