package knowledgecontext

import "github.com/ssabatier/madara/kernel/record"

// entry is the Context's internal storage cell: a record plus the
// originator that most recently won reconciliation for it, needed for
// the (toi, originator_id) tie-break of §4.2.
type entry struct {
	rec        record.Record
	originator string
}

// VariableReference is a stable, non-owning handle to a stored record:
// a name plus a direct pointer into the store, so repeat access skips
// the map lookup/hash on hot paths. It is invalidated by an explicit
// Erase of the same name — using a reference after that point observes
// whatever the detached entry last held, never the live store.
type VariableReference struct {
	name string
	cell *entry
}

// Name returns the variable name this reference addresses.
func (v VariableReference) Name() string { return v.name }

// Valid reports whether the reference was ever bound to a live cell.
func (v VariableReference) Valid() bool { return v.cell != nil }
