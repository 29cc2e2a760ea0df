package filter

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// peerBreakers lazily creates one circuit breaker per destination peer,
// tripping after a run of send failures so a chain stops hammering a
// peer that is down, the same role kernel/core/mesh's breaker plays
// around outbound RPCs.
type peerBreakers struct {
	mu   sync.Mutex
	byID map[string]*gobreaker.CircuitBreaker
}

func newPeerBreakers() *peerBreakers {
	return &peerBreakers{byID: make(map[string]*gobreaker.CircuitBreaker)}
}

func (p *peerBreakers) get(peerID string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.byID[peerID]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "send:" + peerID,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		p.byID[peerID] = b
	}
	return b
}

// Guard runs send under peerID's breaker, returning gobreaker.ErrOpenState
// without calling send at all while the breaker is open.
func (p *peerBreakers) Guard(peerID string, send func() error) error {
	_, err := p.get(peerID).Execute(func() (interface{}, error) {
		return nil, send()
	})
	return err
}
