package kb

import (
	"os"

	"github.com/ssabatier/madara/kernel/checkpoint"
)

// SaveContext writes a full snapshot of every key matching prefixes
// (nil/empty means all keys) to filename, returning bytes written or a
// negative value on I/O error per §6's return-code convention.
func (k *KB) SaveContext(filename string, prefixes []string) int64 {
	f, err := os.Create(filename)
	if err != nil {
		return -1
	}
	defer f.Close()

	w := checkpoint.NewWriter(k.s.ctx, k.s.chain, nil)
	w.SaveContext(prefixes)
	n, err := w.Flush(f)
	if err != nil {
		return -1
	}
	return n
}

// SaveCheckpoint writes only the records modified since the last
// SaveCheckpoint call, advancing the reset_checkpoint watermark.
func (k *KB) SaveCheckpoint(filename string, prefixes []string) int64 {
	f, err := os.Create(filename)
	if err != nil {
		return -1
	}
	defer f.Close()

	w := checkpoint.NewWriter(k.s.ctx, k.s.chain, nil)
	w.SaveCheckpoint(prefixes)
	n, err := w.Flush(f)
	if err != nil {
		return -1
	}
	return n
}

// SaveAsKaRL writes every matching key as a human-readable KaRL
// assignment statement.
func (k *KB) SaveAsKaRL(filename string, prefixes []string) int {
	f, err := os.Create(filename)
	if err != nil {
		return -1
	}
	defer f.Close()

	n, err := checkpoint.SaveAsKaRL(f, k.s.ctx, prefixes)
	if err != nil {
		return -1
	}
	return n
}

// SaveAsJSON writes a JSON object of every matching key.
func (k *KB) SaveAsJSON(filename string, prefixes []string) int {
	f, err := os.Create(filename)
	if err != nil {
		return -1
	}
	defer f.Close()

	n, err := checkpoint.SaveAsJSON(f, k.s.ctx, prefixes)
	if err != nil {
		return -1
	}
	return n
}

// LoadContext replays filename's states into this KB's Context subject
// to settings, running each replayed record through the receive filter
// chain before reconciliation, per §4.5.
func (k *KB) LoadContext(filename string, settings checkpoint.Settings) int {
	f, err := os.Open(filename)
	if err != nil {
		return -1
	}
	if !settings.KeepOpen {
		defer f.Close()
	}

	n, err := checkpoint.LoadContext(f, k.s.ctx, k.s.chain, settings)
	if err != nil {
		return -1
	}
	return n
}
