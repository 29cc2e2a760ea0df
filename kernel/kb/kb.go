// Package kb implements the thin, reference-counted Knowledge Base
// handle of §2 that composes a Context, an Interpreter, a filter Chain,
// and a transport Transport, mirroring
// include/madara/knowledge/KnowledgeBase.h's copy-shares-state facade
// over the engine internals the rest of this module provides.
package kb

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ssabatier/madara/kernel/checkpoint"
	"github.com/ssabatier/madara/kernel/filter"
	"github.com/ssabatier/madara/kernel/karl"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
	"github.com/ssabatier/madara/kernel/transport"
	"github.com/ssabatier/madara/kernel/utils"
)

// shared is the reference-counted state every KB clone points at, so
// that Clone()/Close() follow Knowledge_Base's copy-constructor
// semantics: copies share one Context/Interpreter/Chain/Transport until
// the last handle closes.
type shared struct {
	refs      atomic.Int64
	ctx       *knowledgecontext.Context
	interp    *karl.Interpreter
	chain     *filter.Chain
	transport transport.Transport
	unsub     func()
	closeOnce sync.Once
}

// KB is a handle onto a shared Knowledge Base. The zero value is not
// usable; construct with New.
type KB struct {
	s *shared
}

// Option configures New.
type Option func(*shared)

// WithTransport attaches a Transport; Send/receive-loop wiring is a
// no-op without one.
func WithTransport(t transport.Transport) Option {
	return func(s *shared) { s.transport = t }
}

// WithFilterChain overrides the default permissive filter chain.
func WithFilterChain(c *filter.Chain) Option {
	return func(s *shared) { s.chain = c }
}

// WithLogger attaches a logger to both the Context and the Interpreter.
func WithLogger(l *utils.Logger) Option {
	return func(s *shared) {
		s.ctx.SetLogger(l)
		s.interp.SetLogger(l)
	}
}

// New builds a fresh KB with its own Context and Interpreter.
func New(originatorID string, opts ...Option) *KB {
	ctx := knowledgecontext.New(originatorID)
	interp := karl.NewInterpreter(knowledgecontext.DefaultEvalSettings())
	ctx.SetEvaluator(interp)

	s := &shared{
		ctx:    ctx,
		interp: interp,
		chain:  filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry()),
	}
	s.refs.Store(1)
	for _, opt := range opts {
		opt(s)
	}
	if s.transport != nil {
		s.unsub = s.transport.Subscribe(func(peerID string, data []byte) {
			_ = s.applyInbound(peerID, data)
		})
	}
	return &KB{s: s}
}

// Clone returns a new handle sharing this KB's underlying state,
// incrementing the refcount. Close must be called once per Clone (and
// once for the original New) to release it.
func (k *KB) Clone() *KB {
	k.s.refs.Add(1)
	return &KB{s: k.s}
}

// Close releases this handle; the underlying Context/Interpreter/
// Transport are torn down only when the last handle closes.
func (k *KB) Close() error {
	if k.s.refs.Add(-1) > 0 {
		return nil
	}
	var err error
	k.s.closeOnce.Do(func() {
		if k.s.unsub != nil {
			k.s.unsub()
		}
		k.s.ctx.Shutdown()
		if k.s.transport != nil {
			err = k.s.transport.Close()
		}
	})
	return err
}

// Context exposes the underlying Thread-Safe Context for callers that
// need the lower-level API directly.
func (k *KB) Context() *knowledgecontext.Context { return k.s.ctx }

// Get returns the current value of name.
func (k *KB) Get(name string) record.Record { return k.s.ctx.Get(name) }

// Set writes value under name, returning the §6 status code.
func (k *KB) Set(name string, value record.Record, settings knowledgecontext.KnowledgeUpdateSettings) int {
	return k.s.ctx.Set(name, value, settings)
}

// Evaluate compiles and runs expr: KB → compile → prune → evaluate →
// mutate Context, per §2's control-flow summary.
func (k *KB) Evaluate(expr string, settings knowledgecontext.EvalSettings) (record.Record, error) {
	if settings.ExpandVariables {
		expanded, err := k.s.ctx.ExpandStatement(expr)
		if err != nil {
			return record.Record{}, err
		}
		expr = expanded
	}
	return k.s.interp.Evaluate(expr, k.s.ctx)
}

// Wait blocks re-evaluating expr until it is true or settings.MaxWaitSeconds elapses.
func (k *KB) Wait(expr string, settings knowledgecontext.WaitSettings) (record.Record, error) {
	return k.s.interp.Wait(expr, k.s.ctx, settings)
}

// WaitForChange blocks until any key changes.
func (k *KB) WaitForChange() { k.s.ctx.WaitForChange() }

// Send runs every locally modified key through the send filter chain
// and broadcasts the surviving batch over the attached transport,
// completing the control flow of §2: "...Context appends to
// modification log → filter chain → transport". Returns the number of
// records sent. A KB with no transport attached still clears the
// modification log and returns the number of records that passed the
// send filters, with a nil error.
func (k *KB) Send(ctx context.Context) (int, error) {
	refs := k.s.ctx.SaveModifieds()
	if len(refs) == 0 {
		return 0, nil
	}
	batch := make(map[string]record.Record, len(refs))
	for _, ref := range refs {
		batch[ref.Name()] = k.s.ctx.GetByRef(ref)
	}
	k.s.ctx.ClearModifieds()

	args := filter.Args{Originator: k.s.ctx.OriginatorID(), Context: k.s.ctx}
	filtered := k.s.chain.RunRecords(filter.Send, batch, args)
	if len(filtered) == 0 {
		return 0, nil
	}

	if k.s.transport == nil {
		return len(filtered), nil
	}

	var buf bytes.Buffer
	if _, err := checkpoint.WriteState(&buf, filtered); err != nil {
		return 0, err
	}
	wire, err := k.s.chain.RunBuffer(filter.Send, buf.Bytes(), args)
	if err != nil {
		return 0, err
	}
	if _, err := k.s.transport.Broadcast(ctx, wire); err != nil {
		return 0, err
	}
	return len(filtered), nil
}

// applyInbound decodes a transport message from peerID, runs it
// through the receive filter chain, and reconciles it into the
// Context, completing §2's reverse control flow.
func (k *KB) applyInbound(peerID string, data []byte) error {
	args := filter.Args{Originator: peerID, Context: k.s.ctx}
	raw, err := k.s.chain.RunBuffer(filter.Receive, data, args)
	if err != nil {
		return err
	}
	records, err := checkpoint.ReadState(bytes.NewReader(raw), false)
	if err != nil {
		return err
	}
	batch := k.s.chain.RunRecords(filter.Receive, records, args)

	settings := knowledgecontext.DefaultUpdateSettings()
	for name, rec := range batch {
		k.s.ctx.ApplyRemote(name, rec, peerID, settings)
	}
	return nil
}
