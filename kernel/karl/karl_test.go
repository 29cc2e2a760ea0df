package karl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
)

func newTestInterpreter() (*Interpreter, *knowledgecontext.Context) {
	interp := NewInterpreter(knowledgecontext.DefaultEvalSettings())
	ctx := knowledgecontext.New("node-a")
	return interp, ctx
}

func intRec(v int64) record.Record { return record.NewInteger(v) }

func TestArithmeticPrecedence(t *testing.T) {
	interp, ctx := newTestInterpreter()
	result, err := interp.Evaluate("2 + 3 * 4", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(14), result.ToInteger())
}

func TestAssignmentPersistsToContext(t *testing.T) {
	interp, ctx := newTestInterpreter()
	_, err := interp.Evaluate("x = 41 + 1", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ctx.Get("x").ToInteger())
}

func TestCompoundAssignment(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.Set("x", intRec(10), knowledgecontext.DefaultUpdateSettings())
	_, err := interp.Evaluate("x += 5", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), ctx.Get("x").ToInteger())
}

func TestZeroDividendAtRuntimeIsEmpty(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.Set("x", intRec(0), knowledgecontext.DefaultUpdateSettings())
	result, err := interp.Evaluate("x / 5", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ToInteger())
	assert.True(t, result.IsUncreated())
	assert.Equal(t, record.KindEmpty, result.Kind())
}

func TestConstantDivideByZeroIsCompileError(t *testing.T) {
	interp, ctx := newTestInterpreter()
	_, err := interp.Evaluate("1 / 0", ctx)
	require.Error(t, err)
	var cerr *CompileError
	assert.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrCodeDivideByZero, cerr.Code)
}

func TestUnknownSystemCallIsCompileError(t *testing.T) {
	interp, ctx := newTestInterpreter()
	_, err := interp.Evaluate("#bogus_call(1)", ctx)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrCodeUnknownSyscall, cerr.Code)
}

func TestShortCircuitLogicalOperators(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.Set("sideEffect", intRec(0), knowledgecontext.DefaultUpdateSettings())
	_, err := interp.Evaluate("0 && (sideEffect = 1)", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ctx.Get("sideEffect").ToInteger(), "right side of && must not run when left is false")

	_, err = interp.Evaluate("1 || (sideEffect = 1)", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ctx.Get("sideEffect").ToInteger(), "right side of || must not run when left is true")
}

func TestImpliesOperator(t *testing.T) {
	interp, ctx := newTestInterpreter()
	result, err := interp.Evaluate("1 => 7", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.ToInteger())

	result, err = interp.Evaluate("0 => 7", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ToInteger())
}

func TestForLoopShorthand(t *testing.T) {
	interp, ctx := newTestInterpreter()
	_, err := interp.Evaluate(".sum = 0; .i[0,5) (.sum = .sum + .i)", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ctx.Get(".sum").ToInteger())
}

func TestForLoopMatchesRangeSumScenario(t *testing.T) {
	interp, ctx := newTestInterpreter()
	_, err := interp.Evaluate("sum = 0; .i[0,3) ( sum += .i )", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ctx.Get("sum").ToInteger())
}

func TestSequenceValueIsLastStatement(t *testing.T) {
	interp, ctx := newTestInterpreter()
	result, err := interp.Evaluate("a = 1; b = 2; a + b", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.ToInteger())
}

func TestPostAndPreIncrement(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.Set("n", intRec(5), knowledgecontext.DefaultUpdateSettings())

	post, err := interp.Evaluate("n++", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), post.ToInteger(), "post-increment returns the pre-value")
	assert.Equal(t, int64(6), ctx.Get("n").ToInteger())

	pre, err := interp.Evaluate("++n", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pre.ToInteger(), "pre-increment returns the new value")
}

func TestDefinedFunctionCall(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.DefineFunction("double", knowledgecontext.NativeFunc(func(args []record.Record, c *knowledgecontext.Context) record.Record {
		return intRec(args[0].ToInteger() * 2)
	}))
	result, err := interp.Evaluate("double(21)", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.ToInteger())
}

func TestSyscallToIntegerCoercion(t *testing.T) {
	interp, ctx := newTestInterpreter()
	result, err := interp.Evaluate("#to_integer('42')", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.ToInteger())
}

func TestExpressionCacheReusesCompiledTree(t *testing.T) {
	interp, ctx := newTestInterpreter()
	src := "1 + 1"
	_, err := interp.Evaluate(src, ctx)
	require.NoError(t, err)
	cached := interp.cache[src]
	require.NotNil(t, cached)

	_, err = interp.Evaluate(src, ctx)
	require.NoError(t, err)
	assert.Same(t, cached, interp.cache[src])

	interp.DeleteExpression(src)
	_, ok := interp.cache[src]
	assert.False(t, ok)
}

func TestWaitPollsUntilTrue(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.Set("ready", intRec(0), knowledgecontext.DefaultUpdateSettings())

	go func() {
		ctx.Set("ready", intRec(1), knowledgecontext.DefaultUpdateSettings())
	}()

	settings := knowledgecontext.DefaultWaitSettings()
	settings.PollFrequencySeconds = 0.01
	settings.MaxWaitSeconds = 2
	result, err := interp.Wait("ready", ctx, settings)
	require.NoError(t, err)
	assert.True(t, result.IsTrue())
}

func TestCommaSequenceEvaluatesToLastElement(t *testing.T) {
	interp, ctx := newTestInterpreter()
	result, err := interp.Evaluate("a = 1, b = 2, a + b", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.ToInteger())
	assert.Equal(t, int64(1), ctx.Get("a").ToInteger())
	assert.Equal(t, int64(2), ctx.Get("b").ToInteger())
}

func TestCommaSequenceNestedInParens(t *testing.T) {
	interp, ctx := newTestInterpreter()
	result, err := interp.Evaluate("(1, 2, 3) * 10", ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), result.ToInteger())
}

func TestArgumentListCommaIsNotASequence(t *testing.T) {
	interp, ctx := newTestInterpreter()
	ctx.Set("s", record.NewString("hello world"), knowledgecontext.DefaultUpdateSettings())
	result, err := interp.Evaluate("#fragment(s, 0, 4)", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.ToString())
}
