package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllPeers(t *testing.T) {
	mesh := NewLoopbackMesh("a", "b", "c")

	received := make(map[string][]byte)
	for id, node := range mesh {
		id := id
		node.Subscribe(func(peerID string, data []byte) {
			received[id] = data
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	failed, err := mesh["a"].Broadcast(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.Equal(t, []byte("hello"), received["b"])
	assert.Equal(t, []byte("hello"), received["c"])
	assert.NotContains(t, received, "a")
}

func TestConnectSendDeliversDirectly(t *testing.T) {
	mesh := NewLoopbackMesh("a", "b")
	var got []byte
	mesh["b"].Subscribe(func(peerID string, data []byte) {
		got = data
	})

	conn, err := mesh["a"].Connect(context.Background(), "b")
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), []byte("ping")))
	assert.Equal(t, []byte("ping"), got)
}

func TestConnectUnknownPeerFails(t *testing.T) {
	mesh := NewLoopbackMesh("a", "b")
	_, err := mesh["a"].Connect(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestSendAfterCloseFails(t *testing.T) {
	mesh := NewLoopbackMesh("a", "b")
	conn, err := mesh["a"].Connect(context.Background(), "b")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	err = conn.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, errConnectionClosed)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	mesh := NewLoopbackMesh("a", "b")
	count := 0
	cancel := mesh["b"].Subscribe(func(peerID string, data []byte) {
		count++
	})
	mesh["a"].Broadcast(context.Background(), []byte("1"))
	cancel()
	mesh["a"].Broadcast(context.Background(), []byte("2"))
	assert.Equal(t, 1, count)
}
