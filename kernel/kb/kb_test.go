package kb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ssabatier/madara/kernel/checkpoint"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
	"github.com/ssabatier/madara/kernel/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateMutatesContext(t *testing.T) {
	k := New("node-1")
	defer k.Close()

	_, err := k.Evaluate("counter = 10; counter + 5", knowledgecontext.DefaultEvalSettings())
	require.NoError(t, err)
	assert.Equal(t, int64(10), k.Get("counter").ToInteger())
}

func TestSetAndGetRoundTrip(t *testing.T) {
	k := New("node-1")
	defer k.Close()

	code := k.Set("agent.x", record.NewInteger(7), knowledgecontext.DefaultUpdateSettings())
	assert.Equal(t, knowledgecontext.SetOK, code)
	assert.Equal(t, int64(7), k.Get("agent.x").ToInteger())
}

func TestCloneSharesContextUntilAllClosed(t *testing.T) {
	k1 := New("node-1")
	k1.Set("shared.x", record.NewInteger(1), knowledgecontext.DefaultUpdateSettings())

	k2 := k1.Clone()
	assert.Equal(t, int64(1), k2.Get("shared.x").ToInteger())

	k2.Set("shared.x", record.NewInteger(2), knowledgecontext.DefaultUpdateSettings())
	assert.Equal(t, int64(2), k1.Get("shared.x").ToInteger())

	require.NoError(t, k1.Close())
	// k2 still owns a reference; the underlying context must not be torn down.
	assert.Equal(t, int64(2), k2.Get("shared.x").ToInteger())
	require.NoError(t, k2.Close())
}

func TestSendBroadcastsFilteredBatchOverTransport(t *testing.T) {
	mesh := transport.NewLoopbackMesh("sender", "receiver")
	sender := New("sender", WithTransport(mesh["sender"]))
	defer sender.Close()
	receiver := New("receiver", WithTransport(mesh["receiver"]))
	defer receiver.Close()

	sender.Set("agent.x", record.NewInteger(42), knowledgecontext.DefaultUpdateSettings())
	n, err := sender.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deadline := time.Now().Add(time.Second)
	for receiver.Get("agent.x").IsUncreated() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int64(42), receiver.Get("agent.x").ToInteger())
}

func TestSendWithoutTransportClearsModificationsOnly(t *testing.T) {
	k := New("node-1")
	defer k.Close()
	k.Set("x", record.NewInteger(1), knowledgecontext.DefaultUpdateSettings())
	n, err := k.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, k.Context().ModifiedNames())
}

func TestSaveContextThenLoadContextRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/snapshot.ckpt"

	src := New("node-1")
	defer src.Close()
	src.Set("agent.x", record.NewInteger(5), knowledgecontext.DefaultUpdateSettings())
	src.Set("agent.name", record.NewString("rover"), knowledgecontext.DefaultUpdateSettings())

	written := src.SaveContext(path, nil)
	assert.Greater(t, written, int64(0))

	dst := New("node-2")
	defer dst.Close()
	n := dst.LoadContext(path, checkpoint.DefaultSettings())
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(5), dst.Get("agent.x").ToInteger())
}

func TestSaveAsKaRLAndJSONWriteFiles(t *testing.T) {
	dir := t.TempDir()
	k := New("node-1")
	defer k.Close()
	k.Set("agent.name", record.NewString("rover"), knowledgecontext.DefaultUpdateSettings())

	karlPath := dir + "/out.karl"
	n := k.SaveAsKaRL(karlPath, nil)
	assert.Greater(t, n, 0)
	body, err := os.ReadFile(karlPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), ".agent.name = 'rover';")

	jsonPath := dir + "/out.json"
	n = k.SaveAsJSON(jsonPath, nil)
	assert.Greater(t, n, 0)
	body, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"agent.name":"rover"`)
}

func TestWaitForChangeWakesOnSet(t *testing.T) {
	k := New("node-1")
	defer k.Close()

	done := make(chan struct{})
	go func() {
		k.WaitForChange()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	k.Set("x", record.NewInteger(1), knowledgecontext.DefaultUpdateSettings())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForChange did not wake")
	}
}
