package transport

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakingSender wraps a Transport's Broadcast with a single
// circuit breaker (other Transport methods pass through unguarded), so a mesh-wide outage (everyone
// failing) stops hammering the transport instead of retrying every
// call. Per-peer breaking belongs to kernel/filter.Chain; this one
// guards the aggregate send path a KB calls directly.
type CircuitBreakingSender struct {
	Transport
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakingSender wraps t with a breaker that trips after 5
// consecutive broadcast failures and probes again after 10 seconds.
func NewCircuitBreakingSender(t Transport) *CircuitBreakingSender {
	return &CircuitBreakingSender{
		Transport: t,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "transport-broadcast",
			Timeout:  10 * time.Second,
			Interval: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Broadcast runs the wrapped Transport's Broadcast through the breaker,
// refusing immediately with gobreaker.ErrOpenState while it is open.
func (s *CircuitBreakingSender) Broadcast(ctx context.Context, data []byte) ([]string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		failed, err := s.Transport.Broadcast(ctx, data)
		return failed, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}
