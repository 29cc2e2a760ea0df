package filter

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/ssabatier/madara/kernel/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(qos QoSSettings) *Chain {
	return New(qos, prometheus.NewRegistry())
}

func TestRunRecordsAppliesTypeMaskedFilter(t *testing.T) {
	c := newTestChain(DefaultQoSSettings())
	c.AddRecordFilter(Send, MaskInteger, func(name string, rec record.Record, args Args) record.Record {
		return record.NewInteger(rec.ToInteger() * 2)
	})
	c.AddRecordFilter(Send, MaskString, func(name string, rec record.Record, args Args) record.Record {
		t.Fatalf("string filter should not run on integer records")
		return rec
	})

	batch := map[string]record.Record{"x": record.NewInteger(21)}
	out := c.RunRecords(Send, batch, Args{Now: time.Now()})
	require.Contains(t, out, "x")
	assert.Equal(t, int64(42), out["x"].ToInteger())
}

func TestRunRecordsDropsVetoedRecord(t *testing.T) {
	c := newTestChain(DefaultQoSSettings())
	c.AddRecordFilter(Send, MaskAll, func(name string, rec record.Record, args Args) record.Record {
		return record.NewEmpty()
	})
	batch := map[string]record.Record{"x": record.NewInteger(1)}
	out := c.RunRecords(Send, batch, Args{Now: time.Now()})
	assert.NotContains(t, out, "x")
}

func TestRunRecordsRunsAggregateFilterAfterRecordFilters(t *testing.T) {
	c := newTestChain(DefaultQoSSettings())
	var seenCount int
	c.AddAggregateFilter(Send, func(batch map[string]record.Record, args Args) {
		seenCount = len(batch)
	})
	batch := map[string]record.Record{"a": record.NewInteger(1), "b": record.NewInteger(2)}
	c.RunRecords(Send, batch, Args{Now: time.Now()})
	assert.Equal(t, 2, seenCount)
}

func TestRunBufferChainsFiltersInOrder(t *testing.T) {
	c := newTestChain(DefaultQoSSettings())
	c.AddBufferFilter(Send, func(buf []byte, args Args) ([]byte, error) {
		return append(buf, 'a'), nil
	})
	c.AddBufferFilter(Send, func(buf []byte, args Args) ([]byte, error) {
		return append(buf, 'b'), nil
	})
	out, err := c.RunBuffer(Send, []byte("x"), Args{})
	require.NoError(t, err)
	assert.Equal(t, "xab", string(out))
}

func TestCompressionRoundTrip(t *testing.T) {
	compress := CompressionBufferFilter(5)
	decompress := DecompressionBufferFilter()

	original := []byte("the quick brown fox jumps over the lazy dog, repeated many times for compressibility")
	compressed, err := compress(original, Args{})
	require.NoError(t, err)

	restored, err := decompress(compressed, Args{})
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestEncryptionRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	encrypt, err := EncryptionBufferFilter(key)
	require.NoError(t, err)
	decrypt, err := DecryptionBufferFilter(key)
	require.NoError(t, err)

	plaintext := []byte("shared knowledge")
	ciphertext, err := encrypt(plaintext, Args{})
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	restored, err := decrypt(ciphertext, Args{})
	require.NoError(t, err)
	assert.Equal(t, plaintext, restored)
}

func TestDecryptionRejectsTruncatedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	decrypt, err := DecryptionBufferFilter(key)
	require.NoError(t, err)
	_, err = decrypt([]byte{1, 2, 3}, Args{})
	assert.ErrorIs(t, err, errCiphertextTooShort)
}

func TestAllowSendRejectsBannedPeer(t *testing.T) {
	qos := DefaultQoSSettings()
	qos.BannedPeers["peer-1"] = struct{}{}
	c := newTestChain(qos)

	called := false
	err := c.AllowSend("peer-1", 10, func() error { called = true; return nil })
	assert.ErrorIs(t, err, errPeerNotAllowed)
	assert.False(t, called)
}

func TestAllowSendRejectsUntrustedPeer(t *testing.T) {
	qos := DefaultQoSSettings()
	qos.TrustedPeers["peer-allowed"] = struct{}{}
	c := newTestChain(qos)

	err := c.AllowSend("peer-other", 10, func() error { return nil })
	assert.ErrorIs(t, err, errPeerNotAllowed)
}

func TestAllowSendEnforcesBandwidthLimit(t *testing.T) {
	qos := DefaultQoSSettings()
	qos.SendBandwidthLimit = 10
	c := newTestChain(qos)

	err := c.AllowSend("peer-1", 5, func() error { return nil })
	require.NoError(t, err)
	err = c.AllowSend("peer-1", 1000, func() error { return nil })
	assert.ErrorIs(t, err, errBandwidthExceeded)
}

func TestAllowSendTripsBreakerAfterRepeatedFailures(t *testing.T) {
	c := newTestChain(DefaultQoSSettings())
	failing := func() error { return assertErr }

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = c.AllowSend("flaky-peer", 1, failing)
	}
	assert.ErrorIs(t, lastErr, gobreaker.ErrOpenState)
}

var assertErr = &testSendError{}

type testSendError struct{}

func (e *testSendError) Error() string { return "send failed" }

func TestShouldRebroadcastSuppressesDuplicate(t *testing.T) {
	c := newTestChain(DefaultQoSSettings())
	now := time.Now()
	assert.True(t, c.ShouldRebroadcast("msg-1", now))
	assert.False(t, c.ShouldRebroadcast("msg-1", now))
	assert.True(t, c.ShouldRebroadcast("msg-2", now))
}

func TestDedupeCacheSweepEvictsExpired(t *testing.T) {
	d := newDedupeCache(100, 0.01, time.Millisecond)
	now := time.Now()
	d.SeenRecently("a", now)
	evicted := d.Sweep(now.Add(time.Second))
	assert.Equal(t, 1, evicted)
}
