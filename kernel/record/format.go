package record

import "sync/atomic"

// Process-wide double->string formatting state (§4.1 Precision &
// formatting). Initial state: 6 digits, fixed=false (scientific/general
// notation), matching the state machine described in the base spec.
// Mirrors the atomic.Bool/atomic.Value state fields inos_v1's transport
// and runtime packages use for process-wide flags instead of a mutex.
var (
	globalPrecision atomic.Int64
	globalFixed     atomic.Bool
)

func init() {
	globalPrecision.Store(6)
}

// SetPrecision sets the global double formatting precision and returns
// the previous value.
func SetPrecision(n int) int {
	old := int(globalPrecision.Swap(int64(n)))
	return old
}

// Precision returns the current global formatting precision.
func Precision() int { return int(globalPrecision.Load()) }

// SetFixed switches global double formatting to fixed-point.
func SetFixed() { globalFixed.Store(true) }

// SetScientific switches global double formatting to scientific/general
// notation.
func SetScientific() { globalFixed.Store(false) }

// CurrentFormat reports (precision, fixed) as used by ToString/formatDouble.
func CurrentFormat() (precision int, fixed bool) {
	return int(globalPrecision.Load()), globalFixed.Load()
}
