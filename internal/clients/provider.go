// Package clients wraps collaborators with timeouts, retries, rate limits
// and a circuit breaker per endpoint.
package clients

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/storage"
)

// Endpoint names, one breaker each.
const (
	EndpointCreator     = "creator_context"
	EndpointSnapshots   = "performance_snapshots"
	EndpointCaptions    = "caption_candidates"
	EndpointTiming      = "timing_history"
	EndpointCaptionPool = "caption_pool"
	EndpointElasticity  = "elasticity"
)

var endpoints = []string{EndpointCreator, EndpointSnapshots, EndpointCaptions, EndpointTiming, EndpointCaptionPool, EndpointElasticity}

// Config controls every collaborator call.
type Config struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	JitterFactor    float32       `mapstructure:"jitter_factor"`
	BreakerFailures uint          `mapstructure:"breaker_failures"`
	BreakerWindow   uint          `mapstructure:"breaker_window"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		JitterFactor:    0.1,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerCooldown: 15 * time.Second,
		RatePerSecond:   50,
		Burst:           10,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.BreakerWindow == 0 {
		cfg.BreakerWindow = def.BreakerWindow
	}
	if cfg.BreakerFailures == 0 || cfg.BreakerFailures > cfg.BreakerWindow {
		cfg.BreakerFailures = cfg.BreakerWindow
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	return cfg
}

type endpoint struct {
	name     string
	breaker  circuitbreaker.CircuitBreaker[any]
	executor failsafe.Executor[any]
	limiter  *rate.Limiter
}

// ResilientProvider is a storage.CreatorDataProvider that guards each call.
// It is process-wide: breaker state outlives individual runs.
type ResilientProvider struct {
	inner     storage.CreatorDataProvider
	cfg       Config
	endpoints map[string]*endpoint
	metrics   *Metrics
	logger    *zap.Logger
}

func NewResilientProvider(inner storage.CreatorDataProvider, cfg Config, metrics *Metrics, logger *zap.Logger) *ResilientProvider {
	cfg = normalizeConfig(cfg)
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	p := &ResilientProvider{
		inner:     inner,
		cfg:       cfg,
		endpoints: make(map[string]*endpoint, len(endpoints)),
		metrics:   metrics,
		logger:    logger,
	}
	for _, name := range endpoints {
		breaker := newBreaker(name, cfg, isFailure, metrics, logger)
		retry := retrypolicy.NewBuilder[any]().
			HandleIf(func(_ any, err error) bool { return isFailure(err) }).
			WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
			WithMaxRetries(cfg.MaxRetries).
			WithJitterFactor(cfg.JitterFactor).
			Build()

		limit := rate.Inf
		if cfg.RatePerSecond > 0 {
			limit = rate.Limit(cfg.RatePerSecond)
		}
		p.endpoints[name] = &endpoint{
			name:     name,
			breaker:  breaker,
			executor: failsafe.With[any](retry, breaker),
			limiter:  rate.NewLimiter(limit, max(1, cfg.Burst)),
		}
	}
	return p
}

// isFailure decides what counts against an endpoint. Not-found answers,
// cancellation and an already open breaker are not retried.
func isFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	return true
}

// BreakerState reports the breaker state of an endpoint.
func (p *ResilientProvider) BreakerState(name string) BreakerState {
	ep, ok := p.endpoints[name]
	if !ok {
		return StateClosed
	}
	return convertState(ep.breaker.State())
}

func call[T any](ctx context.Context, p *ResilientProvider, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ep := p.endpoints[name]

	res, err := ep.executor.WithContext(ctx).Get(func() (any, error) {
		if err := ep.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
		return fn(attemptCtx)
	})

	switch {
	case err == nil:
		p.metrics.recordCall(name, "ok")
		out, _ := res.(T)
		return out, nil
	case errors.Is(err, storage.ErrNotFound):
		p.metrics.recordCall(name, "not_found")
		return zero, err
	case ctx.Err() != nil:
		p.metrics.recordCall(name, "cancelled")
		return zero, apperr.Wrap(ctx.Err(), apperr.CodeGenerationCancelled, apperr.Fatal, "%s call cancelled", name)
	case errors.Is(err, circuitbreaker.ErrOpen):
		p.metrics.recordCall(name, "short_circuit")
		return zero, apperr.Wrap(err, apperr.CodeServiceDegraded, apperr.Fatal, "%s circuit open", name)
	default:
		p.metrics.recordCall(name, "error")
		p.logger.Warn("Collaborator call failed after retries",
			zap.String("endpoint", name),
			zap.Int("max_retries", p.cfg.MaxRetries),
			zap.Error(err))
		return zero, apperr.Wrap(err, apperr.CodeServiceDegraded, apperr.Fatal, "%s unreachable after retries", name)
	}
}

func (p *ResilientProvider) GetCreatorContext(ctx context.Context, creatorID string) (models.CreatorContext, error) {
	return call(ctx, p, EndpointCreator, func(ctx context.Context) (models.CreatorContext, error) {
		return p.inner.GetCreatorContext(ctx, creatorID)
	})
}

func (p *ResilientProvider) GetPerformanceSnapshots(ctx context.Context, creatorID string, horizons []models.Horizon) ([]models.PerformanceSnapshot, error) {
	return call(ctx, p, EndpointSnapshots, func(ctx context.Context) ([]models.PerformanceSnapshot, error) {
		return p.inner.GetPerformanceSnapshots(ctx, creatorID, horizons)
	})
}

func (p *ResilientProvider) GetCaptionCandidates(ctx context.Context, sendType string, filter storage.CaptionFilter) ([]models.CaptionCandidate, error) {
	return call(ctx, p, EndpointCaptions, func(ctx context.Context) ([]models.CaptionCandidate, error) {
		return p.inner.GetCaptionCandidates(ctx, sendType, filter)
	})
}

func (p *ResilientProvider) GetTimingHistory(ctx context.Context, creatorID string) (models.TimingHistory, error) {
	return call(ctx, p, EndpointTiming, func(ctx context.Context) (models.TimingHistory, error) {
		return p.inner.GetTimingHistory(ctx, creatorID)
	})
}

func (p *ResilientProvider) GetCaptionPoolSummary(ctx context.Context, creatorID string) (map[string]int, error) {
	return call(ctx, p, EndpointCaptionPool, func(ctx context.Context) (map[string]int, error) {
		return p.inner.GetCaptionPoolSummary(ctx, creatorID)
	})
}

func (p *ResilientProvider) GetVolumeElasticity(ctx context.Context, creatorID string) ([]models.ElasticitySignal, error) {
	return call(ctx, p, EndpointElasticity, func(ctx context.Context) ([]models.ElasticitySignal, error) {
		return p.inner.GetVolumeElasticity(ctx, creatorID)
	})
}
