package filter

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
)

var (
	errPeerNotAllowed    = errors.New("filter: peer is banned or not trusted")
	errBandwidthExceeded = errors.New("filter: bandwidth limit exceeded")
)

// Direction distinguishes the three chains a Chain may run (§4.4): a
// send chain runs before a local update goes out to peers, a receive
// chain runs on an inbound update before it reaches the Context, and a
// rebroadcast chain runs before an already-applied remote update is
// forwarded on.
type Direction int

const (
	Send Direction = iota
	Receive
	Rebroadcast
)

func (d Direction) String() string {
	switch d {
	case Send:
		return "send"
	case Receive:
		return "receive"
	case Rebroadcast:
		return "rebroadcast"
	default:
		return "unknown"
	}
}

// Chain is an ordered set of record, aggregate, and buffer filters plus
// the QoS policy and supporting machinery (dedupe, rate limiting,
// circuit breaking) that guards a Context's traffic with its peers.
type Chain struct {
	qos        QoSSettings
	record     map[Direction][]recordFilterEntry
	aggregate  map[Direction][]AggregateFilter
	buffer     map[Direction][]BufferFilter
	dedupe     *dedupeCache
	bandwidth  *bandwidthLimiters
	breakers   *peerBreakers
	metrics    *metrics
}

// New builds a Chain under the given QoS policy, registering its
// Prometheus collectors against reg (pass prometheus.DefaultRegisterer
// for the global registry, or a fresh prometheus.NewRegistry() in tests).
func New(qos QoSSettings, reg prometheus.Registerer) *Chain {
	return &Chain{
		qos:       qos,
		record:    make(map[Direction][]recordFilterEntry),
		aggregate: make(map[Direction][]AggregateFilter),
		buffer:    make(map[Direction][]BufferFilter),
		dedupe:    newDedupeCache(10000, 0.01, 5*time.Minute),
		bandwidth: newBandwidthLimiters(qos),
		breakers:  newPeerBreakers(),
		metrics:   newMetrics(reg),
	}
}

// AddRecordFilter registers f to run on direction d against records
// whose kind matches mask (record.NewEmpty().Kind() is not a valid mask
// input; use MaskAll to match every kind).
func (c *Chain) AddRecordFilter(d Direction, mask TypeMask, f RecordFilter) {
	c.record[d] = append(c.record[d], recordFilterEntry{mask: mask, filter: f})
}

// AddAggregateFilter registers f to run on direction d over a whole batch.
func (c *Chain) AddAggregateFilter(d Direction, f AggregateFilter) {
	c.aggregate[d] = append(c.aggregate[d], f)
}

// AddBufferFilter registers f to run on direction d over the wire buffer.
func (c *Chain) AddBufferFilter(d Direction, f BufferFilter) {
	c.buffer[d] = append(c.buffer[d], f)
}

// RunRecords applies every registered record filter for d to batch,
// then every registered aggregate filter, dropping any record an
// earlier filter zeroed to record.NewEmpty(). The returned map is a
// fresh copy; batch is left untouched.
func (c *Chain) RunRecords(d Direction, batch map[string]record.Record, args Args) map[string]record.Record {
	start := time.Now()
	defer func() {
		c.metrics.chainLatencySecs.WithLabelValues(d.String()).Observe(time.Since(start).Seconds())
	}()

	out := make(map[string]record.Record, len(batch))
	for name, rec := range batch {
		mask := maskFor(rec.Kind())
		for _, entry := range c.record[d] {
			if entry.mask != MaskAll && entry.mask&mask == 0 {
				continue
			}
			rec = entry.filter(name, rec, args)
			if rec.IsUncreated() {
				break
			}
		}
		if rec.IsUncreated() {
			c.metrics.recordsDropped.WithLabelValues("record_filter").Inc()
			continue
		}
		out[name] = rec
	}

	for _, agg := range c.aggregate[d] {
		agg(out, args)
	}
	return out
}

// RunBuffer applies every registered buffer filter for d in registration
// order, threading each filter's output into the next.
func (c *Chain) RunBuffer(d Direction, buf []byte, args Args) ([]byte, error) {
	var err error
	for _, f := range c.buffer[d] {
		buf, err = f(buf, args)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// AllowSend reports whether a batch of nBytes may go out to peerID right
// now: the peer must not be banned, must be trusted (or no allowlist is
// configured), must clear the bandwidth limiter, and the peer's circuit
// breaker must be closed or half-open. send is only invoked if all
// checks pass, and its error (if any) is fed back into the breaker.
func (c *Chain) AllowSend(peerID string, nBytes int, send func() error) error {
	if c.qos.IsBanned(peerID) || !c.qos.IsTrusted(peerID) {
		c.metrics.recordsDropped.WithLabelValues("policy").Inc()
		return errPeerNotAllowed
	}
	if !c.bandwidth.Allow(peerID, nBytes) {
		c.metrics.recordsDropped.WithLabelValues("bandwidth").Inc()
		return errBandwidthExceeded
	}
	err := c.breakers.Guard(peerID, send)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.breakerRejects.WithLabelValues(peerID).Inc()
		}
		return err
	}
	c.metrics.recordsSent.WithLabelValues(peerID).Inc()
	c.metrics.bytesSent.WithLabelValues(peerID).Add(float64(nBytes))
	return nil
}

// ShouldRebroadcast reports whether messageID has already been seen
// recently (and should therefore be suppressed) or is fresh and should
// propagate, per the dedupe cache shared across all rebroadcast traffic.
func (c *Chain) ShouldRebroadcast(messageID string, now time.Time) bool {
	if c.dedupe.SeenRecently(messageID, now) {
		c.metrics.dedupeHits.Inc()
		return false
	}
	return true
}

// NewArgs is a small convenience constructor for the common case of
// running a chain against a single known Context.
func NewArgs(originator string, ctx *knowledgecontext.Context, now time.Time) Args {
	return Args{Originator: originator, Now: now, Context: ctx}
}
