// Package knowledgecontext implements the Thread-Safe Context (TSC): the
// concurrent variable store that enforces MADARA's Lamport/quality
// reconciliation protocol, records modifications for dissemination, and
// supports cooperative wait/notify (§4.2).
package knowledgecontext

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"github.com/ssabatier/madara/kernel/record"
	"github.com/ssabatier/madara/kernel/utils"
)

// Context is the concurrent variable store. The zero value is not
// usable; construct with New.
//
// Locking discipline: mu is a sync.RWMutex, not a recursive mutex. Pure
// reads (Peek, GetByRef) take a read lock; Get and GetRef may create the
// entry and, like every mutation, take the write lock. The base spec calls for a single *recursive* mutex so that
// Acquire()/Release() can let a caller hold the lock across several
// Get/Set calls without deadlocking; Go's sync.Mutex/RWMutex are
// intentionally non-reentrant, so instead of faking reentrancy (e.g. by
// fingerprinting the calling goroutine — fragile and explicitly
// discouraged by the Go runtime authors), Acquire returns a *View
// exposing lock-free core operations meant to be called only while
// held. Normal Context methods take the lock and call the identical
// core. See DESIGN.md for the full rationale.
type Context struct {
	mu sync.RWMutex

	records map[string]*entry

	nameIDs  map[string]uint
	idNames  []string
	modBits  *bitset.BitSet
	localMod *bitset.BitSet

	clock        uint64
	functions    map[string]Function
	originatorID string

	change *changeSignal

	streamSink func(name string, rec record.Record)
	evaluator  ExpressionEvaluator

	logger *utils.Logger
}

// New constructs an empty Context. If originatorID is empty, a random
// uuid is generated — mirroring how inos_v1 mints a node identity at
// startup (internal/core.NewIdentity) rather than requiring the caller
// to supply one.
func New(originatorID string) *Context {
	if originatorID == "" {
		originatorID = uuid.NewString()
	}
	return &Context{
		records:      make(map[string]*entry),
		nameIDs:      make(map[string]uint),
		modBits:      bitset.New(0),
		localMod:     bitset.New(0),
		functions:    make(map[string]Function),
		originatorID: originatorID,
		change:       newChangeSignal(),
		logger:       utils.DefaultLogger("knowledge"),
	}
}

// OriginatorID reports this Context's identity, used as the tie-break
// field for locally produced updates and as the default checkpoint
// originator.
func (c *Context) OriginatorID() string { return c.originatorID }

// SetLogger overrides the default logger.
func (c *Context) SetLogger(l *utils.Logger) { c.logger = l }

// SetStreamSink installs the sink mirrored to when an update's settings
// request StreamChanges.
func (c *Context) SetStreamSink(sink func(name string, rec record.Record)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamSink = sink
}

// IsLocal reports whether name is a local variable (leading '.').
func IsLocal(name string) bool { return strings.HasPrefix(name, ".") }

// ensureID returns the stable bit index for name, assigning the next
// free one on first sight. bitset.BitSet.Set grows its backing words
// on demand, so no pre-sizing is needed here.
func (c *Context) ensureID(name string) uint {
	if id, ok := c.nameIDs[name]; ok {
		return id
	}
	id := uint(len(c.idNames))
	c.nameIDs[name] = id
	c.idNames = append(c.idNames, name)
	return id
}

func (c *Context) getOrCreateLocked(name string) *entry {
	e, ok := c.records[name]
	if !ok {
		e = &entry{rec: record.NewEmpty()}
		c.records[name] = e
		c.ensureID(name)
	}
	return e
}

// Get returns a copy of the named record, lazily creating an Uncreated
// Empty entry on first access (§3.2 Lifecycles).
func (c *Context) Get(name string) record.Record {
	c.mu.Lock() // Get may auto-vivify the entry, so it takes the write lock.
	defer c.mu.Unlock()
	return c.getOrCreateLocked(name).rec.Clone()
}

// Peek returns a copy of the named record without creating it; missing
// names return an Uncreated Empty record.
func (c *Context) Peek(name string) record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.records[name]; ok {
		return e.rec.Clone()
	}
	return record.NewEmpty()
}

// GetRef resolves a stable VariableReference, auto-vivifying the entry.
func (c *Context) GetRef(name string) VariableReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return VariableReference{name: name, cell: c.getOrCreateLocked(name)}
}

// GetByRef reads through a VariableReference, skipping the name lookup.
func (c *Context) GetByRef(ref VariableReference) record.Record {
	if ref.cell == nil {
		return record.NewEmpty()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ref.cell.rec.Clone()
}

// Set codes, matching §6's enumerated return values.
const (
	SetOK             = 0
	SetErrNullKey     = -1
	SetErrQualityLow  = -2
)

// Set writes value under name, running it through the same
// Lamport/quality reconciliation as a remote update (§4.2): the written
// record is stamped with clock = context.clock + settings.ClockIncrement,
// toi = now, quality = settings.Quality, and this Context's own
// originator id, then reconciled against the current entry.
func (c *Context) Set(name string, value record.Record, settings KnowledgeUpdateSettings) int {
	if name == "" {
		return SetErrNullKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	incoming := value.Clone()
	incoming.Clock = c.clock + uint64max(settings.ClockIncrement)
	incoming.TOI = uint64(time.Now().UnixNano())
	incoming.Quality = settings.Quality
	incoming.Status = record.Modified

	accepted := c.reconcileLocked(name, incoming, c.originatorID, settings)
	if !accepted {
		return SetErrQualityLow
	}
	return SetOK
}

func uint64max(ci int64) uint64 {
	if ci <= 0 {
		return 1
	}
	return uint64(ci)
}

// SetByRef is Set addressed through a pre-resolved VariableReference.
func (c *Context) SetByRef(ref VariableReference, value record.Record, settings KnowledgeUpdateSettings) int {
	return c.Set(ref.name, value, settings)
}

// ApplyRemote reconciles an update received from a peer (post filter
// chain) against the local store. Unlike Set, the caller supplies the
// full record (clock/toi/quality already stamped by the origin) and the
// originating peer id for the tie-break. Returns whether the update was
// accepted.
func (c *Context) ApplyRemote(name string, incoming record.Record, originator string, settings KnowledgeUpdateSettings) bool {
	if name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcileLocked(name, incoming, originator, settings)
}

// reconcileLocked implements §4.2's acceptance rule. Caller holds mu.
func (c *Context) reconcileLocked(name string, incoming record.Record, originator string, settings KnowledgeUpdateSettings) bool {
	cur, exists := c.records[name]

	if !settings.AlwaysOverwrite {
		var curQuality uint32
		var curClock, curTOI uint64
		var curOriginator string
		if exists {
			curQuality = cur.rec.Quality
			curClock = cur.rec.Clock
			curTOI = cur.rec.TOI
			curOriginator = cur.originator
		}
		if incoming.Quality < curQuality {
			return false
		}
		accept := !exists || incoming.Clock > curClock ||
			(incoming.Clock == curClock &&
				(incoming.TOI > curTOI || (incoming.TOI == curTOI && originator > curOriginator)))
		if !accept {
			return false
		}
	}

	if exists {
		// Update the existing cell in place so VariableReferences stay valid.
		cur.rec = incoming
		cur.originator = originator
	} else {
		c.records[name] = &entry{rec: incoming, originator: originator}
	}
	id := c.ensureID(name)

	if incoming.Clock > c.clock {
		c.clock = incoming.Clock
	}
	c.clock++

	isGlobal := !IsLocal(name)
	switch {
	case isGlobal && !settings.TreatGlobalsAsLocals:
		c.modBits.Set(id)
	case !isGlobal && settings.TreatLocalsAsGlobals:
		c.modBits.Set(id)
	}
	if settings.TrackLocalChanges {
		c.localMod.Set(id)
	}

	if settings.StreamChanges && c.streamSink != nil {
		c.streamSink(name, incoming.Clone())
	}
	if settings.SignalChanges {
		c.change.broadcast()
	}
	return true
}

// MarkModified forces ref's name into the modification set without
// changing its value.
func (c *Context) MarkModified(ref VariableReference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modBits.Set(c.ensureID(ref.name))
}

// ApplyModified marks every global record modified.
func (c *Context) ApplyModified() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.records {
		if !IsLocal(name) {
			c.modBits.Set(c.ensureID(name))
		}
	}
}

// ClearModifieds empties the modification set without touching values.
func (c *Context) ClearModifieds() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modBits = bitset.New(c.modBits.Len())
}

// SaveModifieds captures the current modification set as a list of
// references, for later restoration with AddModifieds on a failed send.
func (c *Context) SaveModifieds() []VariableReference {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []VariableReference
	for i, ok := c.modBits.NextSet(0); ok; i, ok = c.modBits.NextSet(i + 1) {
		name := c.idNames[i]
		out = append(out, VariableReference{name: name, cell: c.records[name]})
	}
	return out
}

// AddModifieds restores a previously saved modification list, e.g. after
// a failed dissemination attempt so the caller can retry.
func (c *Context) AddModifieds(refs []VariableReference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ref := range refs {
		c.modBits.Set(c.ensureID(ref.name))
	}
}

// ModifiedNames returns a lexicographically sorted snapshot of the
// current global modification set's names.
func (c *Context) ModifiedNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for i, ok := c.modBits.NextSet(0); ok; i, ok = c.modBits.NextSet(i + 1) {
		out = append(out, c.idNames[i])
	}
	sort.Strings(out)
	return out
}

// LocalModifiedNames is ModifiedNames for the local-checkpoint tracking set.
func (c *Context) LocalModifiedNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for i, ok := c.localMod.NextSet(0); ok; i, ok = c.localMod.NextSet(i + 1) {
		out = append(out, c.idNames[i])
	}
	sort.Strings(out)
	return out
}

// ClearLocalModifieds empties the local-checkpoint tracking set; called
// after a successful save_checkpoint to advance the reset_checkpoint
// watermark (§4.5).
func (c *Context) ClearLocalModifieds() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localMod = bitset.New(c.localMod.Len())
}

// Clock returns the current Lamport clock.
func (c *Context) Clock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}

// Clear sets name to Uncreated/Empty and removes it from both
// modification sets (§3.2 Lifecycles).
func (c *Context) Clear(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.records[name]
	if !ok {
		e = &entry{}
		c.records[name] = e
	}
	e.rec = record.NewEmpty()
	e.originator = ""
	if id, ok := c.nameIDs[name]; ok {
		c.modBits.Clear(id)
		c.localMod.Clear(id)
	}
}

// Erase removes name entirely; any VariableReference to it is now
// invalidated (observes a detached entry, never the live store again).
func (c *Context) Erase(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, name)
	if id, ok := c.nameIDs[name]; ok {
		c.modBits.Clear(id)
		c.localMod.Clear(id)
	}
}

// Keys returns every stored variable name, lexicographically sorted for
// snapshot stability (§3.2).
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.records))
	for name := range c.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefineFunction installs fn under name, usable from KaRL Function nodes
// and from KnowledgeContext.CallFunction.
func (c *Context) DefineFunction(name string, fn Function) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functions[name] = fn
}

// Function looks up a previously defined function.
func (c *Context) Function(name string) (Function, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.functions[name]
	return fn, ok
}

// CallFunction invokes a defined function by name; unknown functions are
// a RuntimeError concern handled by the caller (the karl evaluator),
// which is why this simply returns (Record{}, false) on miss.
func (c *Context) CallFunction(name string, args []record.Record) (record.Record, bool) {
	fn, ok := c.Function(name)
	if !ok {
		return record.Record{}, false
	}
	return fn.Call(args, c), true
}

// WaitForChange blocks until the modification set grows (a reconcile
// call with SignalChanges=true occurs) or the Context shuts down.
func (c *Context) WaitForChange() {
	ch := c.change.register()
	<-ch
	c.change.unregister(ch)
}

// WaitForChangeOrTimeout is WaitForChange bounded by d; it reports
// whether it woke because of a change (true) or the timeout (false).
// d <= 0 behaves like WaitForChange.
func (c *Context) WaitForChangeOrTimeout(d time.Duration) bool {
	ch := c.change.register()
	if d <= 0 {
		<-ch
		c.change.unregister(ch)
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		c.change.unregister(ch)
		return true
	case <-timer.C:
		c.change.unregister(ch)
		return false
	}
}

// Shutdown wakes every blocked WaitForChange/Wait caller permanently.
func (c *Context) Shutdown() {
	c.change.shutdownAll()
}

// View is returned by Acquire and exposes the same operations as
// Context's public API but without taking mu — callers must only use a
// View while holding it, and must not call Context's own locking methods
// concurrently from the same goroutine (that would deadlock against the
// held write lock), matching the "deadlock avoidance is the user's
// responsibility" language of §5.
type View struct {
	c *Context
}

// Acquire takes the Context's write lock and returns a View for
// multi-step atomic sequences, e.g. a read-modify-write the caller
// wants free of interleaving from other goroutines. Release must be
// called exactly once.
func (c *Context) Acquire() *View {
	c.mu.Lock()
	return &View{c: c}
}

// Release unlocks the Context. Calling it more than once panics, same as
// sync.Mutex.Unlock on an unlocked mutex.
func (v *View) Release() {
	v.c.mu.Unlock()
}

// Get reads without taking a lock; only valid while the View is held.
func (v *View) Get(name string) record.Record {
	return v.c.getOrCreateLocked(name).rec.Clone()
}

// Set writes without taking a lock; only valid while the View is held.
func (v *View) Set(name string, value record.Record, settings KnowledgeUpdateSettings) int {
	if name == "" {
		return SetErrNullKey
	}
	incoming := value.Clone()
	incoming.Clock = v.c.clock + uint64max(settings.ClockIncrement)
	incoming.TOI = uint64(time.Now().UnixNano())
	incoming.Quality = settings.Quality
	incoming.Status = record.Modified
	if !v.c.reconcileLocked(name, incoming, v.c.originatorID, settings) {
		return SetErrQualityLow
	}
	return SetOK
}
