package knowledgecontext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssabatier/madara/kernel/record"
)

func TestSetThenGetRoundTrip(t *testing.T) {
	ctx := New("node-a")
	settings := DefaultUpdateSettings()

	rc := ctx.Set(".temp", record.NewInteger(42), settings)
	require.Equal(t, SetOK, rc)

	got := ctx.Get(".temp")
	assert.Equal(t, int64(42), got.ToInteger())
}

func TestSetRejectsNullKey(t *testing.T) {
	ctx := New("node-a")
	rc := ctx.Set("", record.NewInteger(1), DefaultUpdateSettings())
	assert.Equal(t, SetErrNullKey, rc)
}

func TestLocalWritesAreNotDisseminatedByDefault(t *testing.T) {
	ctx := New("node-a")
	ctx.Set(".scratch", record.NewInteger(1), DefaultUpdateSettings())
	ctx.Set("global_var", record.NewInteger(1), DefaultUpdateSettings())

	mods := ctx.ModifiedNames()
	assert.Contains(t, mods, "global_var")
	assert.NotContains(t, mods, ".scratch")
}

func TestTreatLocalsAsGlobalsDisseminatesLocals(t *testing.T) {
	ctx := New("node-a")
	settings := DefaultUpdateSettings()
	settings.TreatLocalsAsGlobals = true

	ctx.Set(".debug", record.NewInteger(1), settings)
	assert.Contains(t, ctx.ModifiedNames(), ".debug")
}

func TestApplyRemoteRejectsLowerClock(t *testing.T) {
	ctx := New("node-a")
	settings := DefaultUpdateSettings()

	newer := record.NewInteger(5)
	newer.Clock = 10
	newer.Quality = 1
	require.True(t, ctx.ApplyRemote("k", newer, "peer-1", settings))

	older := record.NewInteger(99)
	older.Clock = 5
	older.Quality = 1
	assert.False(t, ctx.ApplyRemote("k", older, "peer-2", settings))
	assert.Equal(t, int64(5), ctx.Get("k").ToInteger())
}

func TestApplyRemoteTieBreaksOnTOIThenOriginator(t *testing.T) {
	ctx := New("node-a")
	settings := DefaultUpdateSettings()

	first := record.NewInteger(1)
	first.Clock = 1
	first.TOI = 100
	require.True(t, ctx.ApplyRemote("k", first, "peer-a", settings))

	sameClockEarlierTOI := record.NewInteger(2)
	sameClockEarlierTOI.Clock = 1
	sameClockEarlierTOI.TOI = 50
	assert.False(t, ctx.ApplyRemote("k", sameClockEarlierTOI, "peer-z", settings))

	sameClockLaterTOI := record.NewInteger(3)
	sameClockLaterTOI.Clock = 1
	sameClockLaterTOI.TOI = 200
	assert.True(t, ctx.ApplyRemote("k", sameClockLaterTOI, "peer-a", settings))
	assert.Equal(t, int64(3), ctx.Get("k").ToInteger())
}

func TestAlwaysOverwriteSkipsReconciliation(t *testing.T) {
	ctx := New("node-a")
	settings := DefaultUpdateSettings()
	settings.AlwaysOverwrite = true

	high := record.NewInteger(1)
	high.Clock = 100
	ctx.ApplyRemote("k", high, "peer-a", settings)

	low := record.NewInteger(2)
	low.Clock = 1
	require.True(t, ctx.ApplyRemote("k", low, "peer-b", settings))
	assert.Equal(t, int64(2), ctx.Get("k").ToInteger())
}

func TestSaveAndAddModifiedsRoundTrip(t *testing.T) {
	ctx := New("node-a")
	ctx.Set("a", record.NewInteger(1), DefaultUpdateSettings())
	ctx.Set("b", record.NewInteger(2), DefaultUpdateSettings())

	saved := ctx.SaveModifieds()
	require.Len(t, saved, 2)

	ctx.ClearModifieds()
	assert.Empty(t, ctx.ModifiedNames())

	ctx.AddModifieds(saved)
	assert.ElementsMatch(t, []string{"a", "b"}, ctx.ModifiedNames())
}

func TestWaitForChangeWakesOnSignal(t *testing.T) {
	ctx := New("node-a")
	done := make(chan struct{})
	go func() {
		ctx.WaitForChange()
		close(done)
	}()

	ctx.Set("k", record.NewInteger(1), DefaultUpdateSettings())

	select {
	case <-done:
	case <-timeoutChan():
		t.Fatal("WaitForChange did not wake on a signaled update")
	}
}

func TestShutdownWakesWaiters(t *testing.T) {
	ctx := New("node-a")
	done := make(chan struct{})
	go func() {
		ctx.WaitForChange()
		close(done)
	}()

	ctx.Shutdown()

	select {
	case <-done:
	case <-timeoutChan():
		t.Fatal("Shutdown did not wake a blocked waiter")
	}
}

func TestAcquireReleaseAtomicSequence(t *testing.T) {
	ctx := New("node-a")
	v := ctx.Acquire()
	v.Set("counter", record.NewInteger(1), DefaultUpdateSettings())
	got := v.Get("counter")
	v.Release()

	assert.Equal(t, int64(1), got.ToInteger())
}

func TestDefineAndCallFunction(t *testing.T) {
	ctx := New("node-a")
	ctx.DefineFunction("double", NativeFunc(func(args []record.Record, c *Context) record.Record {
		return record.NewInteger(args[0].ToInteger() * 2)
	}))

	result, ok := ctx.CallFunction("double", []record.Record{record.NewInteger(21)})
	require.True(t, ok)
	assert.Equal(t, int64(42), result.ToInteger())
}

func TestExpandStatementSubstitutesExpressions(t *testing.T) {
	ctx := New("node-a")
	ctx.Set("x", record.NewInteger(7), DefaultUpdateSettings())
	ctx.SetEvaluator(evaluatorFunc(func(src string, c *Context) (record.Record, error) {
		return c.Get(src), nil
	}))

	out, err := ctx.ExpandStatement("value is {x} exactly")
	require.NoError(t, err)
	assert.Equal(t, "value is 7 exactly", out)
}

func TestExpandStatementWithoutEvaluatorReturnsInputVerbatim(t *testing.T) {
	ctx := New("node-a")
	out, err := ctx.ExpandStatement("no evaluator installed {x}")
	require.NoError(t, err)
	assert.Equal(t, "no evaluator installed {x}", out)
}

func TestExpandStatementExpandsNestedSegments(t *testing.T) {
	ctx := New("node-a")
	ctx.Set("inner", record.NewString("x"), DefaultUpdateSettings())
	ctx.Set("x", record.NewInteger(9), DefaultUpdateSettings())
	ctx.SetEvaluator(evaluatorFunc(func(src string, c *Context) (record.Record, error) {
		return c.Get(src), nil
	}))

	out, err := ctx.ExpandStatement("value is {{inner}} exactly")
	require.NoError(t, err)
	assert.Equal(t, "value is 9 exactly", out)
}

func TestExpandStatementErrorsOnUnbalancedBrace(t *testing.T) {
	ctx := New("node-a")
	ctx.SetEvaluator(evaluatorFunc(func(src string, c *Context) (record.Record, error) {
		return c.Get(src), nil
	}))

	_, err := ctx.ExpandStatement("value is {x exactly")
	require.Error(t, err)
}

func TestClearResetsToUncreated(t *testing.T) {
	ctx := New("node-a")
	ctx.Set("k", record.NewInteger(1), DefaultUpdateSettings())
	ctx.Clear("k")
	assert.True(t, ctx.Get("k").IsUncreated())
	assert.NotContains(t, ctx.ModifiedNames(), "k")
}

type evaluatorFunc func(src string, c *Context) (record.Record, error)

func (f evaluatorFunc) Evaluate(src string, c *Context) (record.Record, error) { return f(src, c) }

func timeoutChan() <-chan time.Time {
	return time.After(2 * time.Second)
}
