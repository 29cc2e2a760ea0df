// Package filter implements the send/receive/rebroadcast filter chain
// and QoS enforcement that sits between the Thread-Safe Context and the
// transport layer (§4.4).
package filter

import (
	"time"

	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
)

// Args is passed to every filter invocation: originator, operation
// code, bandwidth budget, TTL, current time, and the local Context a
// filter may consult (e.g. to drop an update that a local policy
// variable has vetoed).
type Args struct {
	Originator     string
	OperationCode  uint32
	SendBandwidth  int64
	TTL            int
	Now            time.Time
	Context        *knowledgecontext.Context
}

// RecordFilter transforms or vetoes a single record. Returning an Empty
// record drops it from the batch.
type RecordFilter func(name string, rec record.Record, args Args) record.Record

// AggregateFilter observes/mutates an entire update batch at once, e.g.
// to enforce a combined size budget across records.
type AggregateFilter func(batch map[string]record.Record, args Args)

// BufferFilter runs on the raw wire bytes, pre-serialize on send or
// post-deserialize on receive (compression, encryption). It returns the
// transformed buffer.
type BufferFilter func(buf []byte, args Args) ([]byte, error)

// TypeMask selects which Kind values a RecordFilter applies to; the
// zero value MaskAll matches everything.
type TypeMask uint16

const (
	MaskInteger TypeMask = 1 << iota
	MaskDouble
	MaskString
	MaskIntegerArray
	MaskDoubleArray
	MaskBinary
	MaskAny
	MaskAll TypeMask = 0
)

func maskFor(k record.Kind) TypeMask {
	switch k {
	case record.KindInteger:
		return MaskInteger
	case record.KindDouble:
		return MaskDouble
	case record.KindString:
		return MaskString
	case record.KindIntegerArray:
		return MaskIntegerArray
	case record.KindDoubleArray:
		return MaskDoubleArray
	case record.KindBinary:
		return MaskBinary
	case record.KindAny:
		return MaskAny
	default:
		return MaskAll
	}
}

type recordFilterEntry struct {
	mask   TypeMask
	filter RecordFilter
}
