package karl

import (
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
	"github.com/ssabatier/madara/kernel/utils"
)

// Node is one tree node of a compiled KaRL program (§4.3's taxonomy).
// prune folds constant subtrees and reports whether the node can still
// change at runtime; Variable, FunctionCall, and SystemCall are always
// reported mutable. prune returns a non-nil error only for the fatal,
// compilation-aborting cases: a provably-constant divide/mod by zero,
// a malformed for-loop header, or an unknown system call.
type Node interface {
	eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error)
	prune() (node Node, canChange bool, err error)
}

// Leaf is an immutable literal.
type Leaf struct{ Value record.Record }

func (n *Leaf) eval(*knowledgecontext.Context, *Interpreter) (record.Record, error) {
	return n.Value, nil
}
func (n *Leaf) prune() (Node, bool, error) { return n, false, nil }

// foldable evaluates n with no Context, used by prune once every child
// reports it cannot change (a Leaf, or a Sequence/Implies built only
// from constants). Only safe for nodes whose eval never touches ctx
// when all operands are constant.
func foldable(n Node) record.Record {
	v, _ := n.eval(nil, foldInterp)
	return v
}

var foldInterp = &Interpreter{logger: utils.DefaultLogger("karl")}

// Variable reads/writes a named slot in the Context.
type Variable struct{ Name string }

func (n *Variable) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	name := n.Name
	if interp.settings.ExpandVariables {
		expanded, err := ctx.ExpandStatement(name)
		if err != nil {
			return record.Record{}, err
		}
		name = expanded
	}
	return ctx.Get(name), nil
}
func (n *Variable) prune() (Node, bool, error) { return n, true, nil }

// ArrayReference indexes into an array-valued variable.
type ArrayReference struct {
	Name  string
	Index Node
}

func (n *ArrayReference) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	idxRec, err := n.Index.eval(ctx, interp)
	if err != nil {
		return record.Record{}, err
	}
	idx := int(idxRec.ToInteger())
	v := ctx.Get(n.Name)
	return v.Fragment(idx, idx), nil
}
func (n *ArrayReference) prune() (Node, bool, error) {
	idx, _, err := n.Index.prune()
	if err != nil {
		return n, true, err
	}
	n.Index = idx
	return n, true, nil
}

type unaryKind int

const (
	unaryNot unaryKind = iota
	unaryNegate
	preInc
	preDec
	postInc
	postDec
)

// Unary covers UnaryNot, UnaryNegate, and the four increment/decrement forms.
type Unary struct {
	Kind   unaryKind
	Target Node // the operand (Variable for inc/dec)
}

func (n *Unary) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	switch n.Kind {
	case unaryNot:
		v, err := n.Target.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		return v.Not(), nil
	case unaryNegate:
		v, err := n.Target.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		return v.Negate(), nil
	default: // preInc, preDec, postInc, postDec
		v, ok := n.Target.(*Variable)
		if !ok {
			return record.Record{}, newRuntimeError(ErrCodeMissingOperand, "increment/decrement requires a variable operand")
		}
		delta := int64(1)
		if n.Kind == preDec || n.Kind == postDec {
			delta = -1
		}
		view := ctx.Acquire()
		defer view.Release()
		cur := view.Get(v.Name)
		next := cur.Add(record.NewInteger(delta))
		view.Set(v.Name, next, interp.updateSettings())
		if n.Kind == postInc || n.Kind == postDec {
			return cur, nil
		}
		return next, nil
	}
}

func (n *Unary) prune() (Node, bool, error) {
	target, canChange, err := n.Target.prune()
	if err != nil {
		return n, true, err
	}
	n.Target = target
	if n.Kind == preInc || n.Kind == preDec || n.Kind == postInc || n.Kind == postDec {
		return n, true, nil
	}
	if !canChange {
		return &Leaf{Value: foldable(n)}, false, nil
	}
	return n, canChange, nil
}

type binOp int

const (
	opAdd binOp = iota
	opSub
	opMul
	opDiv
	opMod
	opLess
	opLeq
	opGreater
	opGeq
	opEqual
	opNeq
	opAnd
	opOr
)

// Binary covers every two-operand non-assignment operator.
type Binary struct {
	Op          binOp
	Left, Right Node
}

func (n *Binary) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	l, err := n.Left.eval(ctx, interp)
	if err != nil {
		return record.Record{}, err
	}

	switch n.Op {
	case opAnd:
		if l.IsFalse() {
			return record.NewInteger(0), nil
		}
		r, err := n.Right.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		if r.IsTrue() {
			return record.NewInteger(1), nil
		}
		return record.NewInteger(0), nil
	case opOr:
		if l.IsTrue() {
			return record.NewInteger(1), nil
		}
		r, err := n.Right.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		if r.IsTrue() {
			return record.NewInteger(1), nil
		}
		return record.NewInteger(0), nil
	case opDiv, opMod:
		if l.IsFalse() { // 0/x and 0%x short-circuit without evaluating x, yielding Empty
			return record.NewEmpty(), nil
		}
	}

	r, err := n.Right.eval(ctx, interp)
	if err != nil {
		return record.Record{}, err
	}

	switch n.Op {
	case opAdd:
		return l.Add(r), nil
	case opSub:
		return l.Sub(r), nil
	case opMul:
		return l.Mul(r), nil
	case opDiv:
		return l.Div(r), nil
	case opMod:
		return l.Mod(r), nil
	case opLess:
		return l.Less(r), nil
	case opLeq:
		return l.LessEq(r), nil
	case opGreater:
		return l.Greater(r), nil
	case opGeq:
		return l.GreaterEq(r), nil
	case opEqual:
		return l.Equal(r), nil
	case opNeq:
		return l.NotEqual(r), nil
	}
	return record.Record{}, nil
}

func (n *Binary) prune() (Node, bool, error) {
	left, lc, err := n.Left.prune()
	if err != nil {
		return n, true, err
	}
	right, rc, err := n.Right.prune()
	if err != nil {
		return n, true, err
	}
	n.Left, n.Right = left, right
	canChange := lc || rc

	if !canChange {
		if (n.Op == opDiv || n.Op == opMod) && foldable(n.Left).IsTrue() && foldable(n.Right).IsFalse() {
			return n, true, newCompileError(ErrCodeDivideByZero, "divide or modulo by a provably-constant zero", 0)
		}
		return &Leaf{Value: foldable(n)}, false, nil
	}
	return n, canChange, nil
}

type assignOp int

const (
	assignSet assignOp = iota
	assignAdd
	assignSub
	assignMul
	assignDiv
)

// Assignment covers '=' and the four compound-assignment forms.
type Assignment struct {
	Target *Variable
	Op     assignOp
	Value  Node
}

func (n *Assignment) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	rhs, err := n.Value.eval(ctx, interp)
	if err != nil {
		return record.Record{}, err
	}

	view := ctx.Acquire()
	defer view.Release()

	var result record.Record
	switch n.Op {
	case assignSet:
		result = rhs
	case assignAdd:
		result = view.Get(n.Target.Name).Add(rhs)
	case assignSub:
		result = view.Get(n.Target.Name).Sub(rhs)
	case assignMul:
		result = view.Get(n.Target.Name).Mul(rhs)
	case assignDiv:
		result = view.Get(n.Target.Name).Div(rhs)
	}
	view.Set(n.Target.Name, result, interp.updateSettings())
	return result, nil
}

func (n *Assignment) prune() (Node, bool, error) {
	val, _, err := n.Value.prune()
	if err != nil {
		return n, true, err
	}
	n.Value = val
	return n, true, nil
}

// Sequence evaluates children left to right; its value is the last one.
type Sequence struct{ Children []Node }

func (n *Sequence) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	var last record.Record
	for _, c := range n.Children {
		v, err := c.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		last = v
	}
	return last, nil
}

func (n *Sequence) prune() (Node, bool, error) {
	canChange := false
	for i, c := range n.Children {
		p, cc, err := c.prune()
		if err != nil {
			return n, true, err
		}
		n.Children[i] = p
		canChange = canChange || cc
	}
	return n, canChange, nil
}

// Implies is the '=>' operator: evaluates Right only if Left is true.
type Implies struct{ Left, Right Node }

func (n *Implies) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	l, err := n.Left.eval(ctx, interp)
	if err != nil {
		return record.Record{}, err
	}
	if !l.IsTrue() {
		return record.NewInteger(0), nil
	}
	return n.Right.eval(ctx, interp)
}

func (n *Implies) prune() (Node, bool, error) {
	l, lc, err := n.Left.prune()
	if err != nil {
		return n, true, err
	}
	r, rc, err := n.Right.prune()
	if err != nil {
		return n, true, err
	}
	n.Left, n.Right = l, r
	return n, lc || rc, nil
}

// ForLoop is ".var[init,cond,step) body" — init/step run for their side
// effects, cond gates each iteration.
type ForLoop struct {
	Var              string
	Init, Cond, Step Node
	Body             Node
}

func (n *ForLoop) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	if _, err := n.Init.eval(ctx, interp); err != nil {
		return record.Record{}, err
	}
	var last record.Record
	for {
		c, err := n.Cond.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		if !c.IsTrue() {
			break
		}
		last, err = n.Body.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		if _, err := n.Step.eval(ctx, interp); err != nil {
			return record.Record{}, err
		}
	}
	return last, nil
}

func (n *ForLoop) prune() (Node, bool, error) {
	if n.Var == "" || n.Init == nil || n.Cond == nil || n.Step == nil || n.Body == nil {
		return n, true, newCompileError(ErrCodeMalformedFor, "for-loop header missing init, cond, step, or body", 0)
	}
	return n, true, nil
}

// FunctionCall invokes a name registered in the Context's function table.
type FunctionCall struct {
	Name string
	Args []Node
}

func (n *FunctionCall) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	args := make([]record.Record, len(n.Args))
	for i, a := range n.Args {
		v, err := a.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		args[i] = v
	}
	result, ok := ctx.CallFunction(n.Name, args)
	if !ok {
		interp.logger.Warn("call to undefined function: " + n.Name)
		return record.NewEmpty(), nil
	}
	return result, nil
}

func (n *FunctionCall) prune() (Node, bool, error) {
	for i, a := range n.Args {
		p, _, err := a.prune()
		if err != nil {
			return n, true, err
		}
		n.Args[i] = p
	}
	return n, true, nil
}

// SystemCall invokes one of the builtin '#'-prefixed routines.
type SystemCall struct {
	Name string
	Args []Node
}

func (n *SystemCall) eval(ctx *knowledgecontext.Context, interp *Interpreter) (record.Record, error) {
	args := make([]record.Record, len(n.Args))
	for i, a := range n.Args {
		v, err := a.eval(ctx, interp)
		if err != nil {
			return record.Record{}, err
		}
		args[i] = v
	}
	return callSyscall(n.Name, args, ctx, interp)
}

func (n *SystemCall) prune() (Node, bool, error) {
	if _, ok := syscallTable[n.Name]; !ok {
		return n, true, newCompileError(ErrCodeUnknownSyscall, "unknown system call "+n.Name, 0)
	}
	for i, a := range n.Args {
		p, _, err := a.prune()
		if err != nil {
			return n, true, err
		}
		n.Args[i] = p
	}
	return n, true, nil
}
