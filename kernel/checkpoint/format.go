// Package checkpoint implements the bit-exact binary checkpoint format
// of §6: a fixed-field header followed by an ordered sequence of
// states, each a flat list of records. The little-endian
// length-prefixed-string convention follows kernel/threads/foundation's
// encoding/binary usage throughout its own fixed-width wire structs.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the 4-byte sentinel every checkpoint file starts with.
var Magic = [4]byte{'K', 'a', 'R', 'L'}

// Version is the checkpoint format version written into every header.
const Version uint32 = 1

// Header is the fixed-then-variable preamble described in §6:
// magic, version, originator, state count, clock range, toi range, and
// a single buffer-filter pipeline tag (filter names joined with commas
// when a chain has more than one).
type Header struct {
	Version         uint32
	Originator      string
	States          uint64
	InitialClock    uint64
	LastClock       uint64
	InitialTOI      uint64
	LastTOI         uint64
	BufferFilterTag string
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteHeader serializes h, returning the number of bytes written.
func WriteHeader(w io.Writer, h Header) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := cw.Write(Magic[:]); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, h.Version); err != nil {
		return cw.n, err
	}
	if err := writeString(cw, h.Originator); err != nil {
		return cw.n, err
	}
	fields := []interface{}{h.States, h.InitialClock, h.LastClock, h.InitialTOI, h.LastTOI}
	for _, f := range fields {
		if err := binary.Write(cw, binary.LittleEndian, f); err != nil {
			return cw.n, err
		}
	}
	if err := writeString(cw, h.BufferFilterTag); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadHeader deserializes a Header, validating the magic number.
func ReadHeader(r io.Reader) (Header, error) {
	h, magic, err := readHeaderFields(r)
	if err != nil {
		return Header{}, err
	}
	if magic != Magic {
		return Header{}, fmt.Errorf("checkpoint: bad magic %q", magic)
	}
	return h, nil
}

// ReadHeaderLenient parses a Header the same way as ReadHeader but never
// fails on a mismatched magic number, for CheckpointSettings'
// ignore_header_check: the header's fixed-width layout is the same
// either way, so skipping the check only affects whether a mismatch is
// treated as fatal.
func ReadHeaderLenient(r io.Reader) (Header, error) {
	h, _, err := readHeaderFields(r)
	return h, err
}

func readHeaderFields(r io.Reader) (Header, [4]byte, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Header{}, magic, err
	}
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return Header{}, magic, err
	}
	originator, err := readString(r)
	if err != nil {
		return Header{}, magic, err
	}
	h.Originator = originator
	fields := []*uint64{&h.States, &h.InitialClock, &h.LastClock, &h.InitialTOI, &h.LastTOI}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Header{}, magic, err
		}
	}
	tag, err := readString(r)
	if err != nil {
		return Header{}, magic, err
	}
	h.BufferFilterTag = tag
	return h, magic, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
