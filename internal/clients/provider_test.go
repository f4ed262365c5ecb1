package clients

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/apperr"
	"github.com/xaenox/sendplan/internal/models"
	"github.com/xaenox/sendplan/internal/storage"
)

// flakyProvider fails the first failures calls of GetCreatorContext.
type flakyProvider struct {
	*storage.MemoryStorage
	failures int32
	calls    atomic.Int32
	block    bool
}

func (f *flakyProvider) GetCreatorContext(ctx context.Context, id string) (models.CreatorContext, error) {
	n := f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return models.CreatorContext{}, ctx.Err()
	}
	if n <= f.failures {
		return models.CreatorContext{}, errors.New("connection reset by peer")
	}
	return f.MemoryStorage.GetCreatorContext(ctx, id)
}

func testConfig() Config {
	return Config{
		Timeout:         50 * time.Millisecond,
		MaxRetries:      2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		BreakerFailures: 3,
		BreakerWindow:   3,
		BreakerCooldown: 50 * time.Millisecond,
	}
}

func newFlaky(failures int32) *flakyProvider {
	mem := storage.NewMemoryStorage()
	mem.PutCreator(models.CreatorContext{ID: "c-1", PageType: models.PagePaid})
	return &flakyProvider{MemoryStorage: mem, failures: failures}
}

func TestRetriesTransientFailures(t *testing.T) {
	inner := newFlaky(2)
	p := NewResilientProvider(inner, testConfig(), nil, zap.NewNop())

	c, err := p.GetCreatorContext(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	inner := newFlaky(0)
	p := NewResilientProvider(inner, testConfig(), nil, zap.NewNop())

	_, err := p.GetCreatorContext(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, StateClosed, p.BreakerState(EndpointCreator))
}

func TestExhaustedRetriesAreServiceDegraded(t *testing.T) {
	inner := newFlaky(100)
	cfg := testConfig()
	cfg.BreakerFailures, cfg.BreakerWindow = 10, 10
	p := NewResilientProvider(inner, cfg, nil, zap.NewNop())

	_, err := p.GetCreatorContext(context.Background(), "c-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeServiceDegraded, apperr.CodeOf(err))
	assert.True(t, apperr.IsFatal(err))
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestBreakerOpensThenRecovers(t *testing.T) {
	inner := newFlaky(3)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p := NewResilientProvider(inner, testConfig(), metrics, zap.NewNop())

	_, err := p.GetCreatorContext(context.Background(), "c-1")
	require.Error(t, err)
	assert.Equal(t, StateOpen, p.BreakerState(EndpointCreator))

	// short-circuited: inner is not called while open
	_, err = p.GetCreatorContext(context.Background(), "c-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeServiceDegraded, apperr.CodeOf(err))
	assert.Equal(t, int32(3), inner.calls.Load())

	time.Sleep(70 * time.Millisecond)

	c, err := p.GetCreatorContext(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, StateClosed, p.BreakerState(EndpointCreator))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues(EndpointCreator, "closed", "open")))
}

func TestAttemptTimeoutIsRetried(t *testing.T) {
	inner := newFlaky(0)
	inner.block = true
	cfg := testConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.BreakerFailures, cfg.BreakerWindow = 10, 10
	p := NewResilientProvider(inner, cfg, nil, zap.NewNop())

	_, err := p.GetCreatorContext(context.Background(), "c-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeServiceDegraded, apperr.CodeOf(err))
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCancelledContext(t *testing.T) {
	inner := newFlaky(0)
	p := NewResilientProvider(inner, testConfig(), nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.GetCreatorContext(ctx, "c-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeGenerationCancelled, apperr.CodeOf(err))
}

func TestEndpointsHaveIndependentBreakers(t *testing.T) {
	inner := newFlaky(100)
	p := NewResilientProvider(inner, testConfig(), nil, zap.NewNop())

	_, _ = p.GetCreatorContext(context.Background(), "c-1")
	require.Equal(t, StateOpen, p.BreakerState(EndpointCreator))

	_, err := p.GetTimingHistory(context.Background(), "c-1")
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, p.BreakerState(EndpointTiming))
}
