package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ssabatier/madara/kernel/filter"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
)

// Writer accumulates states against a Context and flushes them into a
// checkpoint file, tracking the reset_checkpoint watermark between
// save_checkpoint calls.
type Writer struct {
	ctx           *knowledgecontext.Context
	chain         *filter.Chain
	bufferFilters []string
	states        []map[string]record.Record
	initialClock  uint64
	lastClock     uint64
	initialTOI    uint64
	lastTOI       uint64
}

// NewWriter builds a Writer over ctx. When chain is non-nil, Flush runs
// every state's serialized bytes through chain's send buffer filters
// (the same CompressionBufferFilter/EncryptionBufferFilter pipeline
// kb.KB.Send applies for transport, see kb.go's Send) before writing
// them. bufferFilterTag names that pipeline for the header's
// buffer_filter_tag field (empty if chain applies none), purely
// descriptive: ReadFilteredState always drives the reversal from the
// *filter.Chain LoadContext is given, not from the tag text.
func NewWriter(ctx *knowledgecontext.Context, chain *filter.Chain, bufferFilterTag []string) *Writer {
	return &Writer{ctx: ctx, chain: chain, bufferFilters: bufferFilterTag}
}

func matchesPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (w *Writer) trackRange(rec record.Record) {
	if w.initialClock == 0 || rec.Clock < w.initialClock {
		w.initialClock = rec.Clock
	}
	if rec.Clock > w.lastClock {
		w.lastClock = rec.Clock
	}
	if w.initialTOI == 0 || rec.TOI < w.initialTOI {
		w.initialTOI = rec.TOI
	}
	if rec.TOI > w.lastTOI {
		w.lastTOI = rec.TOI
	}
}

// SaveContext appends a full-snapshot state of every key matching
// prefixes (nil/empty means all keys).
func (w *Writer) SaveContext(prefixes []string) {
	batch := make(map[string]record.Record)
	for _, name := range w.ctx.Keys() {
		if !matchesPrefix(name, prefixes) {
			continue
		}
		rec := w.ctx.Get(name)
		w.trackRange(rec)
		batch[name] = rec
	}
	w.states = append(w.states, batch)
}

// SaveCheckpoint appends a diff state of only the records modified
// since the last SaveCheckpoint call, then advances the watermark by
// clearing the local-modification set.
func (w *Writer) SaveCheckpoint(prefixes []string) {
	batch := make(map[string]record.Record)
	for _, name := range w.ctx.LocalModifiedNames() {
		if !matchesPrefix(name, prefixes) {
			continue
		}
		rec := w.ctx.Get(name)
		w.trackRange(rec)
		batch[name] = rec
	}
	w.states = append(w.states, batch)
	w.ctx.ClearLocalModifieds()
}

// Flush writes the accumulated header and states to dst.
func (w *Writer) Flush(dst io.Writer) (int64, error) {
	h := Header{
		Version:         Version,
		Originator:      w.ctx.OriginatorID(),
		States:          uint64(len(w.states)),
		InitialClock:    w.initialClock,
		LastClock:       w.lastClock,
		InitialTOI:      w.initialTOI,
		LastTOI:         w.lastTOI,
		BufferFilterTag: strings.Join(w.bufferFilters, ","),
	}
	total, err := WriteHeader(dst, h)
	if err != nil {
		return total, err
	}
	args := filter.Args{Originator: w.ctx.OriginatorID(), Context: w.ctx}
	for _, st := range w.states {
		n, err := WriteFilteredState(dst, st, w.chain, args)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SaveAsKaRL writes the most recent snapshot's matching keys as
// human-readable KaRL assignment statements: one `.name = value;` per
// line, arrays delimited with [] and strings single-quoted, per §4.5.
func SaveAsKaRL(w io.Writer, ctx *knowledgecontext.Context, prefixes []string) (int, error) {
	names := ctx.Keys()
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		if !matchesPrefix(name, prefixes) {
			continue
		}
		rec := ctx.Get(name)
		fmt.Fprintf(&sb, ".%s = %s;\n", name, karlLiteral(rec))
	}
	return io.WriteString(w, sb.String())
}

func karlLiteral(rec record.Record) string {
	switch rec.Kind() {
	case record.KindInteger:
		return strconv.FormatInt(rec.ToInteger(), 10)
	case record.KindDouble:
		return rec.ToString()
	case record.KindString:
		return "'" + strings.ReplaceAll(rec.ToString(), "'", "\\'") + "'"
	case record.KindIntegerArray:
		vals := rec.ToIntegers()
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = strconv.FormatInt(v, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case record.KindDoubleArray:
		vals := rec.ToDoubles()
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case record.KindBinary:
		return "'" + rec.ToString() + "'"
	default:
		return "''"
	}
}

// SaveAsJSON writes a JSON object mapping every matching key to a typed
// JSON value: numbers for integers and doubles, arrays for the array
// kinds, strings for strings and binary, and null for any other kind.
func SaveAsJSON(w io.Writer, ctx *knowledgecontext.Context, prefixes []string) (int, error) {
	out := make(map[string]interface{})
	for _, name := range ctx.Keys() {
		if !matchesPrefix(name, prefixes) {
			continue
		}
		rec := ctx.Get(name)
		out[name] = jsonValue(rec)
	}
	buf, err := json.Marshal(out)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

func jsonValue(rec record.Record) interface{} {
	switch rec.Kind() {
	case record.KindInteger:
		return rec.ToInteger()
	case record.KindDouble:
		return rec.ToDouble()
	case record.KindString:
		return rec.ToString()
	case record.KindIntegerArray:
		return rec.ToIntegers()
	case record.KindDoubleArray:
		return rec.ToDoubles()
	case record.KindBinary:
		return rec.ToString()
	default:
		return nil
	}
}
