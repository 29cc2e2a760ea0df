package knowledgecontext

import "github.com/ssabatier/madara/kernel/record"

// Function is the interface every callable stored in a Context's
// function table implements: a compiled KaRL expression tree, a native
// Go callback, or a foreign-VM callable. Per §9's design note, the core
// never sees host types directly — it only ever calls through this
// interface. The only implementation in this module is NativeFunc
// below; knowledgecontext does not import karl (that import would
// cycle, since karl.Node reads/writes variables through *Context).
type Function interface {
	Call(args []record.Record, ctx *Context) record.Record
}

// NativeFunc adapts a plain Go function to the Function interface,
// covering the "native callback with signature (args, context) -> Record"
// case of §4.3.
type NativeFunc func(args []record.Record, ctx *Context) record.Record

// Call implements Function.
func (f NativeFunc) Call(args []record.Record, ctx *Context) record.Record {
	return f(args, ctx)
}
