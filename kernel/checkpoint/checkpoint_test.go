package checkpoint

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ssabatier/madara/kernel/filter"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPopulatedContext(t *testing.T) *knowledgecontext.Context {
	t.Helper()
	ctx := knowledgecontext.New("writer-1")
	settings := knowledgecontext.DefaultUpdateSettings()
	ctx.Set("agent.x", record.NewInteger(10), settings)
	ctx.Set("agent.y", record.NewDouble(2.5), settings)
	ctx.Set("agent.name", record.NewString("rover"), settings)
	ctx.Set("sensor.readings", record.NewIntegerArray([]int64{1, 2, 3}), settings)
	return ctx
}

func TestSaveContextThenLoadContextRoundTrips(t *testing.T) {
	src := newPopulatedContext(t)

	w := NewWriter(src, nil, nil)
	w.SaveContext(nil)
	var buf bytes.Buffer
	_, err := w.Flush(&buf)
	require.NoError(t, err)

	dst := knowledgecontext.New("reader-1")
	chain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	n, err := LoadContext(&buf, dst, chain, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, int64(10), dst.Get("agent.x").ToInteger())
	assert.Equal(t, "rover", dst.Get("agent.name").ToString())
	assert.Equal(t, []int64{1, 2, 3}, dst.Get("sensor.readings").ToIntegers())
}

func TestSaveContextRespectsPrefixFilter(t *testing.T) {
	src := newPopulatedContext(t)
	w := NewWriter(src, nil, nil)
	w.SaveContext([]string{"agent."})
	var buf bytes.Buffer
	_, err := w.Flush(&buf)
	require.NoError(t, err)

	dst := knowledgecontext.New("reader-1")
	chain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	n, err := LoadContext(&buf, dst, chain, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, dst.Get("sensor.readings").IsUncreated())
}

func TestSaveCheckpointOnlyIncludesLocalModifications(t *testing.T) {
	src := newPopulatedContext(t)
	settings := knowledgecontext.DefaultUpdateSettings()
	settings.TrackLocalChanges = true
	src.Set("agent.z", record.NewInteger(99), settings)

	w := NewWriter(src, nil, nil)
	w.SaveCheckpoint(nil)
	var buf bytes.Buffer
	_, err := w.Flush(&buf)
	require.NoError(t, err)

	dst := knowledgecontext.New("reader-1")
	chain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	n, err := LoadContext(&buf, dst, chain, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(99), dst.Get("agent.z").ToInteger())
	assert.True(t, dst.Get("agent.x").IsUncreated())
}

func TestSaveCheckpointAdvancesWatermark(t *testing.T) {
	src := newPopulatedContext(t)
	settings := knowledgecontext.DefaultUpdateSettings()
	settings.TrackLocalChanges = true
	src.Set("agent.z", record.NewInteger(1), settings)

	w := NewWriter(src, nil, nil)
	w.SaveCheckpoint(nil)
	assert.Empty(t, src.LocalModifiedNames())
}

func TestSaveAsKaRLFormatsArraysAndStrings(t *testing.T) {
	src := newPopulatedContext(t)
	var buf bytes.Buffer
	_, err := SaveAsKaRL(&buf, src, nil)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, ".agent.name = 'rover';")
	assert.Contains(t, out, ".sensor.readings = [1, 2, 3];")
}

func TestSaveAsJSONProducesValidObject(t *testing.T) {
	src := newPopulatedContext(t)
	var buf bytes.Buffer
	_, err := SaveAsJSON(&buf, src, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"agent.name":"rover"`)
}

func TestLoadContextClearsKnowledgeFirst(t *testing.T) {
	src := newPopulatedContext(t)
	w := NewWriter(src, nil, nil)
	w.SaveContext([]string{"agent.x"})
	var buf bytes.Buffer
	_, err := w.Flush(&buf)
	require.NoError(t, err)

	dst := newPopulatedContext(t)
	chain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	settings := DefaultSettings()
	settings.ClearKnowledge = true
	_, err = LoadContext(&buf, dst, chain, settings)
	require.NoError(t, err)
	assert.True(t, dst.Get("agent.name").IsUncreated())
	assert.Equal(t, int64(10), dst.Get("agent.x").ToInteger())
}

func TestLoadContextRunsThroughReceiveFilterChain(t *testing.T) {
	src := newPopulatedContext(t)
	w := NewWriter(src, nil, nil)
	w.SaveContext(nil)
	var buf bytes.Buffer
	_, err := w.Flush(&buf)
	require.NoError(t, err)

	chain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	chain.AddRecordFilter(filter.Receive, filter.MaskInteger, func(name string, rec record.Record, args filter.Args) record.Record {
		return record.NewInteger(rec.ToInteger() + 1000)
	})

	dst := knowledgecontext.New("reader-1")
	_, err = LoadContext(&buf, dst, chain, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, int64(1010), dst.Get("agent.x").ToInteger())
}

func TestSaveContextAppliesBufferFilterPipeline(t *testing.T) {
	src := newPopulatedContext(t)
	writeChain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	writeChain.AddBufferFilter(filter.Send, filter.CompressionBufferFilter(5))

	w := NewWriter(src, writeChain, []string{"brotli"})
	w.SaveContext(nil)
	var buf bytes.Buffer
	_, err := w.Flush(&buf)
	require.NoError(t, err)

	// Without the matching receive-side filter, the record body is
	// still brotli-compressed bytes and fails to parse as plain records.
	dst := knowledgecontext.New("reader-1")
	plainChain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	_, err = LoadContext(bytes.NewReader(buf.Bytes()), dst, plainChain, DefaultSettings())
	require.Error(t, err)

	dst2 := knowledgecontext.New("reader-2")
	readChain := filter.New(filter.DefaultQoSSettings(), prometheus.NewRegistry())
	readChain.AddBufferFilter(filter.Receive, filter.DecompressionBufferFilter())
	n, err := LoadContext(bytes.NewReader(buf.Bytes()), dst2, readChain, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(10), dst2.Get("agent.x").ToInteger())
}

func TestLoadKaRLLinesParsesAssignments(t *testing.T) {
	input := ".agent.x = 42;\n.agent.name = 'rover';\n.sensor.readings = [1, 2, 3];\n"
	dst := knowledgecontext.New("reader-1")
	err := LoadKaRLLines(bytes.NewBufferString(input), dst)
	require.NoError(t, err)
	assert.Equal(t, int64(42), dst.Get("agent.x").ToInteger())
	assert.Equal(t, "rover", dst.Get("agent.name").ToString())
	assert.Equal(t, []int64{1, 2, 3}, dst.Get("sensor.readings").ToIntegers())
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:         Version,
		Originator:      "node-7",
		InitialClock:    1,
		LastClock:       99,
		States:          2,
		BufferFilterTag: "brotli,chacha20poly1305",
	}
	var buf bytes.Buffer
	_, err := WriteHeader(&buf, h)
	require.NoError(t, err)

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h.Originator, got.Originator)
	assert.Equal(t, h.BufferFilterTag, got.BufferFilterTag)
	assert.Equal(t, h.LastClock, got.LastClock)
}
