// Package record implements the Knowledge Record value type: a tagged
// union over numeric, string, array, binary and dynamically-typed
// payloads, carrying the Lamport clock / time-of-insertion / quality
// metadata the Thread-Safe Context needs for reconciliation.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant of the tagged union is populated.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindInteger
	KindDouble
	KindString
	KindIntegerArray
	KindDoubleArray
	KindBinary
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindIntegerArray:
		return "integer_array"
	case KindDoubleArray:
		return "double_array"
	case KindBinary:
		return "binary"
	case KindAny:
		return "any"
	default:
		return "unknown"
	}
}

// BinarySubtype refines KindBinary payloads, mirroring the extension
// sniffing rules of ReadFile.
type BinarySubtype uint8

const (
	BinaryRaw BinarySubtype = iota
	BinaryJPEG
	BinaryText
	BinaryXML
	BinaryUnknownFile
)

// Status tracks a record's lifecycle within a Context.
type Status uint8

const (
	Uncreated Status = iota
	Modified
	Unmodified
)

// Record is a tagged-union knowledge value plus reconciliation metadata.
// Zero value is a valid Uncreated/Empty record with clock 0.
type Record struct {
	kind Kind

	i       int64
	f       float64
	s       string
	ints    []int64
	doubles []float64
	bin     []byte
	binSub  BinarySubtype
	any     *AnyValue

	Clock        uint64
	TOI          uint64 // nanoseconds, wall-clock time of insertion
	Quality      uint32
	WriteQuality uint32
	Status       Status

	history *History
}

// NewEmpty returns an Uncreated, Empty record.
func NewEmpty() Record {
	return Record{kind: KindEmpty, Status: Uncreated}
}

// NewInteger builds a Modified Integer record.
func NewInteger(v int64) Record {
	return Record{kind: KindInteger, i: v, Status: Modified}
}

// NewDouble builds a Modified Double record.
func NewDouble(v float64) Record {
	return Record{kind: KindDouble, f: v, Status: Modified}
}

// NewString builds a Modified String record.
func NewString(v string) Record {
	return Record{kind: KindString, s: v, Status: Modified}
}

// NewIntegerArray builds a Modified IntegerArray record; the slice is
// copied so the caller retains ownership of the original.
func NewIntegerArray(v []int64) Record {
	cp := make([]int64, len(v))
	copy(cp, v)
	return Record{kind: KindIntegerArray, ints: cp, Status: Modified}
}

// NewDoubleArray builds a Modified DoubleArray record.
func NewDoubleArray(v []float64) Record {
	cp := make([]float64, len(v))
	copy(cp, v)
	return Record{kind: KindDoubleArray, doubles: cp, Status: Modified}
}

// NewBinary builds a Modified Binary record with the given subtype.
func NewBinary(v []byte, sub BinarySubtype) Record {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Record{kind: KindBinary, bin: cp, binSub: sub, Status: Modified}
}

// NewAny wraps an already-constructed AnyValue.
func NewAny(v *AnyValue) Record {
	return Record{kind: KindAny, any: v, Status: Modified}
}

// Kind reports the active variant.
func (r Record) Kind() Kind { return r.kind }

// BinarySubtype reports the subtype of a Binary record (undefined for
// other kinds).
func (r Record) BinarySubtype() BinarySubtype { return r.binSub }

// Clone deep-copies mutable payloads (arrays, binary, Any) so the
// returned Record shares no backing storage with the receiver.
func (r Record) Clone() Record {
	out := r
	if r.ints != nil {
		out.ints = append([]int64(nil), r.ints...)
	}
	if r.doubles != nil {
		out.doubles = append([]float64(nil), r.doubles...)
	}
	if r.bin != nil {
		out.bin = append([]byte(nil), r.bin...)
	}
	if r.any != nil {
		out.any = r.any.clone()
	}
	if r.history != nil {
		out.history = r.history.clone()
	}
	return out
}

// IsUncreated reports whether the record has never been written.
func (r Record) IsUncreated() bool { return r.Status == Uncreated }

// IsFalse implements `!r`: true iff Empty, numeric zero, empty string, or
// a zero-length array.
func (r Record) IsFalse() bool {
	switch r.kind {
	case KindEmpty:
		return true
	case KindInteger:
		return r.i == 0
	case KindDouble:
		return r.f == 0
	case KindString:
		return r.s == ""
	case KindIntegerArray:
		return len(r.ints) == 0
	case KindDoubleArray:
		return len(r.doubles) == 0
	case KindBinary:
		return len(r.bin) == 0
	case KindAny:
		return r.any == nil || r.any.isEmpty()
	default:
		return true
	}
}

// IsTrue is the logical negation of IsFalse.
func (r Record) IsTrue() bool { return !r.IsFalse() }

// Size reports the length in variant-appropriate units: characters for
// strings, elements for arrays, bytes for binary, 1 for scalars, 0 for
// Empty.
func (r Record) Size() int {
	switch r.kind {
	case KindEmpty:
		return 0
	case KindInteger, KindDouble:
		return 1
	case KindString:
		return len([]rune(r.s))
	case KindIntegerArray:
		return len(r.ints)
	case KindDoubleArray:
		return len(r.doubles)
	case KindBinary:
		return len(r.bin)
	case KindAny:
		if r.any == nil {
			return 0
		}
		return r.any.size()
	default:
		return 0
	}
}

// Set replaces the payload of r in place, preserving metadata.
func (r *Record) Set(v Record) {
	r.kind = v.kind
	r.i, r.f, r.s = v.i, v.f, v.s
	r.ints, r.doubles, r.bin, r.binSub, r.any = v.ints, v.doubles, v.bin, v.binSub, v.any
	r.Status = Modified
	r.appendHistory()
}

// SetIndex mutates index i of an array-like record; out-of-bounds writes
// extend the array with default-initialized slots (0 / 0.0).
func (r *Record) SetIndex(i int, v Record) error {
	if i < 0 {
		return fmt.Errorf("record: negative index %d", i)
	}
	switch r.kind {
	case KindIntegerArray, KindEmpty:
		if r.kind == KindEmpty {
			r.kind = KindIntegerArray
		}
		for len(r.ints) <= i {
			r.ints = append(r.ints, 0)
		}
		r.ints[i] = v.ToInteger()
	case KindDoubleArray:
		for len(r.doubles) <= i {
			r.doubles = append(r.doubles, 0)
		}
		r.doubles[i] = v.ToDouble()
	default:
		return fmt.Errorf("record: SetIndex unsupported on kind %s", r.kind)
	}
	r.Status = Modified
	r.appendHistory()
	return nil
}

// Fragment returns the inclusive [lo,hi] byte/char slice of the
// underlying buffer, clamped to valid bounds. Applies to String and
// Binary records; other kinds return Empty.
func (r Record) Fragment(lo, hi int) Record {
	clamp := func(v, n int) int {
		if v < 0 {
			v = 0
		}
		if v > n {
			v = n
		}
		return v
	}
	switch r.kind {
	case KindString:
		runes := []rune(r.s)
		n := len(runes)
		lo, hi = clamp(lo, n), clamp(hi, n-1)
		if lo > hi || n == 0 {
			return NewString("")
		}
		return NewString(string(runes[lo : hi+1]))
	case KindBinary:
		n := len(r.bin)
		lo, hi = clamp(lo, n), clamp(hi, n-1)
		if lo > hi || n == 0 {
			return NewBinary(nil, r.binSub)
		}
		return NewBinary(r.bin[lo:hi+1], r.binSub)
	default:
		return NewEmpty()
	}
}

// --- coercions --------------------------------------------------------

// ToInteger performs a total coercion to int64; unparseable strings or
// unsupported kinds yield 0.
func (r Record) ToInteger() int64 {
	switch r.kind {
	case KindInteger:
		return r.i
	case KindDouble:
		return int64(r.f)
	case KindString:
		v, err := strconv.ParseInt(strings.TrimSpace(r.s), 10, 64)
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(r.s), 64); ferr == nil {
				return int64(f)
			}
			return 0
		}
		return v
	case KindIntegerArray:
		if len(r.ints) > 0 {
			return r.ints[0]
		}
		return 0
	case KindDoubleArray:
		if len(r.doubles) > 0 {
			return int64(r.doubles[0])
		}
		return 0
	default:
		return 0
	}
}

// ToDouble performs a total coercion to float64.
func (r Record) ToDouble() float64 {
	switch r.kind {
	case KindInteger:
		return float64(r.i)
	case KindDouble:
		return r.f
	case KindString:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.s), 64)
		if err != nil {
			return 0
		}
		return v
	case KindIntegerArray:
		if len(r.ints) > 0 {
			return float64(r.ints[0])
		}
		return 0
	case KindDoubleArray:
		if len(r.doubles) > 0 {
			return r.doubles[0]
		}
		return 0
	default:
		return 0
	}
}

// ToIntegers coerces to an integer slice; unparseable elements become 0.
func (r Record) ToIntegers() []int64 {
	switch r.kind {
	case KindIntegerArray:
		return append([]int64(nil), r.ints...)
	case KindDoubleArray:
		out := make([]int64, len(r.doubles))
		for i, d := range r.doubles {
			out[i] = int64(d)
		}
		return out
	case KindInteger:
		return []int64{r.i}
	case KindDouble:
		return []int64{int64(r.f)}
	case KindString:
		if r.s == "" {
			return []int64{}
		}
		parts := strings.Split(r.s, ",")
		out := make([]int64, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				v = 0
			}
			out[i] = v
		}
		return out
	default:
		return []int64{}
	}
}

// ToDoubles coerces to a double slice.
func (r Record) ToDoubles() []float64 {
	switch r.kind {
	case KindDoubleArray:
		return append([]float64(nil), r.doubles...)
	case KindIntegerArray:
		out := make([]float64, len(r.ints))
		for i, v := range r.ints {
			out[i] = float64(v)
		}
		return out
	case KindInteger:
		return []float64{float64(r.i)}
	case KindDouble:
		return []float64{r.f}
	case KindString:
		if r.s == "" {
			return []float64{}
		}
		parts := strings.Split(r.s, ",")
		out := make([]float64, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				v = 0
			}
			out[i] = v
		}
		return out
	default:
		return []float64{}
	}
}

// ToString performs a total coercion to string; arrays join on delim
// (default ",").
func (r Record) ToString(delim ...string) string {
	d := ","
	if len(delim) > 0 && delim[0] != "" {
		d = delim[0]
	}
	switch r.kind {
	case KindEmpty:
		return ""
	case KindInteger:
		return strconv.FormatInt(r.i, 10)
	case KindDouble:
		return formatDouble(r.f)
	case KindString:
		return r.s
	case KindIntegerArray:
		parts := make([]string, len(r.ints))
		for i, v := range r.ints {
			parts[i] = strconv.FormatInt(v, 10)
		}
		return strings.Join(parts, d)
	case KindDoubleArray:
		parts := make([]string, len(r.doubles))
		for i, v := range r.doubles {
			parts[i] = formatDouble(v)
		}
		return strings.Join(parts, d)
	case KindBinary:
		return string(r.bin)
	case KindAny:
		if r.any == nil {
			return ""
		}
		return r.any.toString()
	default:
		return ""
	}
}

func (r Record) numeric() (v float64, isDouble bool, ok bool) {
	switch r.kind {
	case KindInteger:
		return float64(r.i), false, true
	case KindDouble:
		return r.f, true, true
	case KindString:
		s := strings.TrimSpace(r.s)
		if iv, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(iv), false, true
		}
		if fv, err := strconv.ParseFloat(s, 64); err == nil {
			return fv, true, true
		}
		return 0, false, false
	case KindEmpty:
		return 0, false, true
	default:
		return 0, false, false
	}
}

// arith applies op to the numeric coercion of a and b following MADARA's
// promotion rule: any operand Double (or string-coerced-to-double)
// forces a Double result, otherwise Integer. A coercion failure yields
// Empty and is a no-op for side effects (the caller never mutates on a
// failed arithmetic op).
func arith(a, b Record, op func(x, y float64) (float64, bool)) Record {
	av, aDouble, aok := a.numeric()
	bv, bDouble, bok := b.numeric()
	if !aok || !bok {
		return NewEmpty()
	}
	res, valid := op(av, bv)
	if !valid {
		return NewEmpty()
	}
	if aDouble || bDouble {
		return NewDouble(res)
	}
	return NewInteger(int64(res))
}

// Add implements `+`.
func (a Record) Add(b Record) Record {
	return arith(a, b, func(x, y float64) (float64, bool) { return x + y, true })
}

// Sub implements `-`.
func (a Record) Sub(b Record) Record {
	return arith(a, b, func(x, y float64) (float64, bool) { return x - y, true })
}

// Mul implements `*`.
func (a Record) Mul(b Record) Record {
	return arith(a, b, func(x, y float64) (float64, bool) { return x * y, true })
}

// Div implements `/`; division by zero yields Empty (never traps).
func (a Record) Div(b Record) Record {
	return arith(a, b, func(x, y float64) (float64, bool) {
		if y == 0 {
			return 0, false
		}
		return x / y, true
	})
}

// Mod implements `%`; both operands are truncated to int64 semantics,
// division by zero yields Empty.
func (a Record) Mod(b Record) Record {
	av, _, aok := a.numeric()
	bv, _, bok := b.numeric()
	if !aok || !bok || int64(bv) == 0 {
		return NewEmpty()
	}
	return NewInteger(int64(av) % int64(bv))
}

// Compare returns -1/0/1. Numeric vs numeric compares by value; string
// vs string lexicographically; mixed coerces both sides via ToDouble.
func (a Record) Compare(b Record) int {
	if a.kind == KindString && b.kind == KindString {
		return strings.Compare(a.s, b.s)
	}
	av, bv := a.ToDouble(), b.ToDouble()
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func (a Record) Less(b Record) Record    { return boolRecord(a.Compare(b) < 0) }
func (a Record) LessEq(b Record) Record  { return boolRecord(a.Compare(b) <= 0) }
func (a Record) Greater(b Record) Record { return boolRecord(a.Compare(b) > 0) }
func (a Record) GreaterEq(b Record) Record {
	return boolRecord(a.Compare(b) >= 0)
}
func (a Record) Equal(b Record) Record { return boolRecord(a.Compare(b) == 0) }
func (a Record) NotEqual(b Record) Record {
	return boolRecord(a.Compare(b) != 0)
}

func boolRecord(v bool) Record {
	if v {
		return NewInteger(1)
	}
	return NewInteger(0)
}

// Not implements unary `!`.
func (r Record) Not() Record { return boolRecord(r.IsFalse()) }

// Negate implements unary `-`.
func (r Record) Negate() Record {
	v, isDouble, ok := r.numeric()
	if !ok {
		return NewEmpty()
	}
	if isDouble {
		return NewDouble(-v)
	}
	return NewInteger(-int64(v))
}

func formatDouble(f float64) string {
	prec, fixed := CurrentFormat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if fixed {
		return strconv.FormatFloat(f, 'f', prec, 64)
	}
	return strconv.FormatFloat(f, 'g', prec, 64)
}
