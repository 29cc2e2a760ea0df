package filter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bandwidthLimiters tracks one token-bucket limiter per peer plus an
// optional shared total limiter, mirroring kernel/core/mesh.GossipManager's
// per-peer rateLimiters map — but built on golang.org/x/time/rate
// instead of a hand-rolled token bucket, since it is already part of
// this module's transitive dependency graph and covers the same
// burst+steady-rate shape.
type bandwidthLimiters struct {
	mu       sync.Mutex
	perPeer  map[string]*rate.Limiter
	total    *rate.Limiter
	qos      QoSSettings
}

func newBandwidthLimiters(qos QoSSettings) *bandwidthLimiters {
	bl := &bandwidthLimiters{
		perPeer: make(map[string]*rate.Limiter),
		qos:     qos,
	}
	if qos.TotalBandwidthLimit > 0 {
		bl.total = rate.NewLimiter(rate.Limit(qos.TotalBandwidthLimit), int(qos.TotalBandwidthLimit))
	}
	return bl
}

func (bl *bandwidthLimiters) limiterFor(peerID string) *rate.Limiter {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	l, ok := bl.perPeer[peerID]
	if !ok {
		limit := bl.qos.SendBandwidthLimit
		if limit <= 0 {
			return nil
		}
		l = rate.NewLimiter(rate.Limit(limit), int(limit))
		bl.perPeer[peerID] = l
	}
	return l
}

// Allow reports whether nBytes may be sent to peerID right now, under
// both that peer's limiter and the shared total limiter.
func (bl *bandwidthLimiters) Allow(peerID string, nBytes int) bool {
	now := time.Now()
	if l := bl.limiterFor(peerID); l != nil && !l.AllowN(now, nBytes) {
		return false
	}
	if bl.total != nil && !bl.total.AllowN(now, nBytes) {
		return false
	}
	return true
}
