package checkpoint

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ssabatier/madara/kernel/filter"
	"github.com/ssabatier/madara/kernel/record"
)

// entryWire is the on-wire shape of one record within a state, per §6's
// `name_len name type clock toi quality size payload` layout. The
// binary subtype for KindBinary records travels inside payload (it is
// EncodePayload's first byte), so it needs no separate field here.
type entryWire struct {
	Name    string
	Kind    record.Kind
	Clock   uint64
	TOI     uint64
	Quality uint32
	Payload []byte
}

func toWire(name string, rec record.Record) (entryWire, error) {
	payload, err := record.EncodePayload(rec)
	if err != nil {
		return entryWire{}, err
	}
	return entryWire{
		Name:    name,
		Kind:    rec.Kind(),
		Clock:   rec.Clock,
		TOI:     rec.TOI,
		Quality: rec.Quality,
		Payload: payload,
	}, nil
}

func (e entryWire) toRecord(eagerAnyDecode bool) (record.Record, error) {
	rec, err := record.DecodePayload(e.Kind, e.Payload, eagerAnyDecode)
	if err != nil {
		return record.Record{}, err
	}
	rec.Clock = e.Clock
	rec.TOI = e.TOI
	rec.Quality = e.Quality
	rec.WriteQuality = e.Quality
	return rec, nil
}

func writeEntry(w io.Writer, e entryWire) error {
	if err := writeString(w, e.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(e.Kind)); err != nil {
		return err
	}
	fields := []interface{}{e.Clock, e.TOI, e.Quality}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Payload))); err != nil {
		return err
	}
	_, err := w.Write(e.Payload)
	return err
}

func readEntry(r io.Reader) (entryWire, error) {
	name, err := readString(r)
	if err != nil {
		return entryWire{}, err
	}
	var e entryWire
	e.Name = name
	var kind uint32
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return entryWire{}, err
	}
	e.Kind = record.Kind(kind)
	if err := binary.Read(r, binary.LittleEndian, &e.Clock); err != nil {
		return entryWire{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.TOI); err != nil {
		return entryWire{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.Quality); err != nil {
		return entryWire{}, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return entryWire{}, err
	}
	e.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, e.Payload); err != nil {
		return entryWire{}, err
	}
	return e, nil
}

// encodeState serializes records into the raw `records(u32) { entry }*`
// body described by §6, with no leading size prefix.
func encodeState(records map[string]record.Record) ([]byte, error) {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, uint32(len(records))); err != nil {
		return nil, err
	}
	for name, rec := range records {
		wire, err := toWire(name, rec)
		if err != nil {
			return nil, err
		}
		if err := writeEntry(&body, wire); err != nil {
			return nil, err
		}
	}
	return body.Bytes(), nil
}

// decodeState parses a body produced by encodeState (already extracted
// to its full, unframed byte slice).
func decodeState(body []byte, eagerAnyDecode bool) (map[string]record.Record, error) {
	r := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make(map[string]record.Record, n)
	for i := uint32(0); i < n; i++ {
		wire, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		rec, err := wire.toRecord(eagerAnyDecode)
		if err != nil {
			return nil, err
		}
		out[wire.Name] = rec
	}
	return out, nil
}

// WriteState serializes one state: its byte size (for skip-ahead reads)
// followed by its record count and records, per §6. It applies no
// buffer filtering; see WriteFilteredState for that.
func WriteState(w io.Writer, records map[string]record.Record) (int64, error) {
	body, err := encodeState(records)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: w}
	if err := binary.Write(cw, binary.LittleEndian, uint64(len(body))); err != nil {
		return cw.n, err
	}
	_, err = cw.Write(body)
	return cw.n, err
}

// ReadState deserializes one state written by WriteState (no buffer
// filtering applied; see ReadFilteredState for that).
func ReadState(r io.Reader, eagerAnyDecode bool) (map[string]record.Record, error) {
	var stateSize uint64
	if err := binary.Read(r, binary.LittleEndian, &stateSize); err != nil {
		return nil, err
	}
	body := make([]byte, stateSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return decodeState(body, eagerAnyDecode)
}

// WriteFilteredState is WriteState plus, when chain is non-nil, running
// the encoded body through chain's send buffer filters (the same
// CompressionBufferFilter/EncryptionBufferFilter pipeline kb.KB.Send
// applies to transport wire bytes) before sizing and writing it. The
// header's BufferFilterTag records which filters were applied so
// ReadFilteredState can reverse them.
func WriteFilteredState(w io.Writer, records map[string]record.Record, chain *filter.Chain, args filter.Args) (int64, error) {
	body, err := encodeState(records)
	if err != nil {
		return 0, err
	}
	if chain != nil {
		body, err = chain.RunBuffer(filter.Send, body, args)
		if err != nil {
			return 0, err
		}
	}
	cw := &countingWriter{w: w}
	if err := binary.Write(cw, binary.LittleEndian, uint64(len(body))); err != nil {
		return cw.n, err
	}
	_, err = cw.Write(body)
	return cw.n, err
}

// ReadFilteredState is ReadState plus, when chain is non-nil, reversing
// the receive buffer filters on the raw bytes before parsing records.
func ReadFilteredState(r io.Reader, chain *filter.Chain, args filter.Args, eagerAnyDecode bool) (map[string]record.Record, error) {
	var stateSize uint64
	if err := binary.Read(r, binary.LittleEndian, &stateSize); err != nil {
		return nil, err
	}
	body := make([]byte, stateSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if chain != nil {
		var err error
		body, err = chain.RunBuffer(filter.Receive, body, args)
		if err != nil {
			return nil, err
		}
	}
	return decodeState(body, eagerAnyDecode)
}
