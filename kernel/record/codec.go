package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodePayload serializes r's variant payload (not its clock/toi/quality
// metadata, which the checkpoint and wire-transport layers frame
// separately per §6). The format is bit-exact and round-trips through
// DecodePayload for every non-Any variant; Any round-trips modulo the
// registered vtable's own serializer, per §8.
func EncodePayload(r Record) ([]byte, error) {
	var buf bytes.Buffer
	switch r.kind {
	case KindEmpty:
		// no payload
	case KindInteger:
		_ = binary.Write(&buf, binary.LittleEndian, r.i)
	case KindDouble:
		_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(r.f))
	case KindString:
		buf.WriteString(r.s)
	case KindIntegerArray:
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(r.ints)))
		for _, v := range r.ints {
			_ = binary.Write(&buf, binary.LittleEndian, v)
		}
	case KindDoubleArray:
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(r.doubles)))
		for _, v := range r.doubles {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
		}
	case KindBinary:
		buf.WriteByte(byte(r.binSub))
		buf.Write(r.bin)
	case KindAny:
		var tag string
		var raw []byte
		var err error
		if r.any != nil {
			tag = r.any.Tag()
			raw, err = r.any.Bytes()
			if err != nil {
				return nil, err
			}
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(tag)))
		buf.WriteString(tag)
		buf.Write(raw)
	default:
		return nil, fmt.Errorf("record: encode: unknown kind %d", r.kind)
	}
	return buf.Bytes(), nil
}

// DecodePayload reconstructs a Record's variant from an EncodePayload
// buffer. Clock, toi and quality are zero and status is Modified
// (Uncreated for KindEmpty); callers restore metadata from the
// surrounding frame. eagerAnyDecode controls whether an Any
// payload is decoded immediately (requires the tag be registered) or
// held lazily (§3.1's "lazy deserialization... deferred until first
// field access").
func DecodePayload(kind Kind, data []byte, eagerAnyDecode bool) (Record, error) {
	r := Record{kind: kind, Status: Modified}
	switch kind {
	case KindEmpty:
		return NewEmpty(), nil
	case KindInteger:
		if len(data) != 8 {
			return Record{}, fmt.Errorf("record: decode: integer wants 8 bytes, got %d", len(data))
		}
		r.i = int64(binary.LittleEndian.Uint64(data))
	case KindDouble:
		if len(data) != 8 {
			return Record{}, fmt.Errorf("record: decode: double wants 8 bytes, got %d", len(data))
		}
		r.f = math.Float64frombits(binary.LittleEndian.Uint64(data))
	case KindString:
		r.s = string(data)
	case KindIntegerArray:
		if len(data) < 4 {
			return Record{}, fmt.Errorf("record: decode: truncated integer array")
		}
		n := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(n)*8 {
			return Record{}, fmt.Errorf("record: decode: truncated integer array body")
		}
		r.ints = make([]int64, n)
		for i := range r.ints {
			r.ints[i] = int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
		}
	case KindDoubleArray:
		if len(data) < 4 {
			return Record{}, fmt.Errorf("record: decode: truncated double array")
		}
		n := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(n)*8 {
			return Record{}, fmt.Errorf("record: decode: truncated double array body")
		}
		r.doubles = make([]float64, n)
		for i := range r.doubles {
			r.doubles[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
		}
	case KindBinary:
		if len(data) < 1 {
			return Record{}, fmt.Errorf("record: decode: truncated binary")
		}
		r.binSub = BinarySubtype(data[0])
		r.bin = append([]byte(nil), data[1:]...)
	case KindAny:
		if len(data) < 4 {
			return Record{}, fmt.Errorf("record: decode: truncated any")
		}
		tagLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(tagLen) {
			return Record{}, fmt.Errorf("record: decode: truncated any tag")
		}
		tag := string(data[:tagLen])
		raw := data[tagLen:]
		r.any = NewAnyLazy(tag, raw, eagerAnyDecode)
	default:
		return Record{}, fmt.Errorf("record: decode: unknown kind %d", kind)
	}
	return r, nil
}
