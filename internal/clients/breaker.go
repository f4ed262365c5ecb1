package clients

import (
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"
)

// BreakerState is the state of an endpoint's circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func convertState(state circuitbreaker.State) BreakerState {
	switch state {
	case circuitbreaker.ClosedState:
		return StateClosed
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}

// newBreaker builds the per-endpoint breaker. Only failures that isFailure
// accepts count toward tripping it; a not-found answer is a healthy reply.
func newBreaker(endpoint string, cfg Config, isFailure func(error) bool, metrics *Metrics, logger *zap.Logger) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return isFailure(err) }).
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
		WithDelay(cfg.BreakerCooldown).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			from, to := convertState(event.OldState), convertState(event.NewState)
			logger.Warn("Circuit breaker state change",
				zap.String("endpoint", endpoint),
				zap.String("from_state", from.String()),
				zap.String("to_state", to.String()))
			metrics.recordTransition(endpoint, from, to)
		}).
		Build()
}
