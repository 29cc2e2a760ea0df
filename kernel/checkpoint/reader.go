package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ssabatier/madara/kernel/filter"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
)

// Settings governs load_context, per §6's CheckpointSettings closed
// option set: which keys to replay, which states and clock/timestamp
// ranges within the file, whether to wipe the Context first, and how
// to treat the replayed records' own clock/timestamp metadata.
//
// filename and buffer_filters are deliberately not fields here: this
// package's LoadContext takes the source as an io.Reader (the filename,
// if any, belongs to the caller, as in kb.KB.LoadContext) and the buffer
// filter pipeline is the *filter.Chain parameter already threaded
// through LoadContext/ReadFilteredState rather than a name to look up.
// states is an output of the header, not a load input. reset_checkpoint
// only has meaning on the save side (Writer.SaveCheckpoint).
type Settings struct {
	Prefixes          []string
	FirstState        int // inclusive, 0-based
	LastState         int // inclusive; <0 means "through end of file"
	InitialClock      uint64
	LastClock         uint64 // 0 means unbounded
	InitialTimestamp  time.Time
	LastTimestamp     time.Time
	OverrideClocks    bool
	OverrideTimestamp bool
	ClearKnowledge    bool
	PlaybackSimtime   bool
	SimtimeStart      time.Time
	IgnoreHeaderCheck bool // skip magic/version validation in ReadHeader
	KeepOpen          bool // honored by kb.KB.LoadContext's file wrapper
	BufferSize        int  // read buffer size hint; 0 uses io's default
	Originator        string
	VariablesLister   func(name string) bool
	Version           uint32 // 0 accepts any header version
}

// DefaultSettings replays every state over every key without clearing
// or overriding anything.
func DefaultSettings() Settings {
	return Settings{LastState: -1}
}

// LoadContext replays src's states in order into ctx subject to
// settings, running each replayed record through chain's receive
// filter chain before applying the reconciliation protocol. It returns
// the number of records applied.
func LoadContext(src io.Reader, ctx *knowledgecontext.Context, chain *filter.Chain, settings Settings) (int, error) {
	if settings.BufferSize > 0 {
		src = bufio.NewReaderSize(src, settings.BufferSize)
	}

	var h Header
	var err error
	if settings.IgnoreHeaderCheck {
		h, err = ReadHeaderLenient(src)
	} else {
		h, err = ReadHeader(src)
	}
	if err != nil {
		return 0, err
	}
	if !settings.IgnoreHeaderCheck && settings.Version != 0 && h.Version != settings.Version {
		return 0, fmt.Errorf("checkpoint: header version %d does not match expected %d", h.Version, settings.Version)
	}
	originator := h.Originator
	if settings.Originator != "" {
		originator = settings.Originator
	}

	if settings.ClearKnowledge {
		for _, name := range ctx.Keys() {
			ctx.Erase(name)
		}
	}

	simclock := settings.SimtimeStart
	applySettings := knowledgecontext.DefaultUpdateSettings()
	if settings.OverrideClocks {
		applySettings.AlwaysOverwrite = true
	}

	applied := 0
	for i := 0; i < int(h.States); i++ {
		now := time.Now()
		if settings.PlaybackSimtime {
			now = simclock
			simclock = simclock.Add(time.Millisecond)
		}
		args := filter.Args{Originator: originator, Now: now, Context: ctx}

		records, err := ReadFilteredState(src, chain, args, false)
		if err != nil {
			return applied, err
		}
		if i < settings.FirstState {
			continue
		}
		if settings.LastState >= 0 && i > settings.LastState {
			break
		}

		batch := make(map[string]record.Record, len(records))
		for name, rec := range records {
			if !matchesPrefix(name, settings.Prefixes) {
				continue
			}
			if settings.VariablesLister != nil && !settings.VariablesLister(name) {
				continue
			}
			if settings.InitialClock > 0 && rec.Clock < settings.InitialClock {
				continue
			}
			if settings.LastClock > 0 && rec.Clock > settings.LastClock {
				continue
			}
			if !settings.InitialTimestamp.IsZero() && rec.TOI < uint64(settings.InitialTimestamp.UnixNano()) {
				continue
			}
			if !settings.LastTimestamp.IsZero() && rec.TOI > uint64(settings.LastTimestamp.UnixNano()) {
				continue
			}
			batch[name] = rec
		}

		if chain != nil {
			batch = chain.RunRecords(filter.Receive, batch, args)
		}

		var mu sync.Mutex
		var group errgroup.Group
		group.SetLimit(replayConcurrency)
		for name, rec := range batch {
			name, rec := name, rec
			group.Go(func() error {
				if settings.OverrideTimestamp {
					rec.TOI = uint64(now.UnixNano())
				}
				if ctx.ApplyRemote(name, rec, originator, applySettings) {
					mu.Lock()
					applied++
					mu.Unlock()
				}
				return nil
			})
		}
		_ = group.Wait()
	}
	return applied, nil
}

// replayConcurrency bounds how many records a single state replays at
// once; ApplyRemote takes the Context's own lock per call, so this only
// controls scheduling fan-out, not correctness.
const replayConcurrency = 8

// LoadKaRLLines parses save_as_karl output (one `.name = value;` per
// line) and sets each variable in ctx directly; used when replaying a
// human-edited checkpoint rather than the binary format.
func LoadKaRLLines(src io.Reader, ctx *knowledgecontext.Context) error {
	buf, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	settings := knowledgecontext.DefaultUpdateSettings()
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, ";")
		if line == "" || !strings.HasPrefix(line, ".") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(line[1:eq])
		value := strings.TrimSpace(line[eq+1:])
		ctx.Set(name, parseKaRLLiteral(value), settings)
	}
	return nil
}

func parseKaRLLiteral(s string) record.Record {
	switch {
	case strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") && len(s) >= 2:
		return record.NewString(strings.ReplaceAll(s[1:len(s)-1], "\\'", "'"))
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		inner := strings.TrimSpace(s[1 : len(s)-1])
		if inner == "" {
			return record.NewIntegerArray(nil)
		}
		parts := strings.Split(inner, ",")
		if strings.Contains(inner, ".") {
			vals := make([]float64, len(parts))
			for i, p := range parts {
				vals[i], _ = strconv.ParseFloat(strings.TrimSpace(p), 64)
			}
			return record.NewDoubleArray(vals)
		}
		vals := make([]int64, len(parts))
		for i, p := range parts {
			vals[i], _ = strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		}
		return record.NewIntegerArray(vals)
	case strings.Contains(s, "."):
		v, _ := strconv.ParseFloat(s, 64)
		return record.NewDouble(v)
	default:
		v, _ := strconv.ParseInt(s, 10, 64)
		return record.NewInteger(v)
	}
}
