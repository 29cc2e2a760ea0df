package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errConnectionClosed = errors.New("transport: connection closed")

// LoopbackTransport wires a set of in-process peers directly to each
// other's subscriber callbacks, skipping serialization entirely. It
// exists for tests and local multi-KB demos in place of a real network
// transport.
type LoopbackTransport struct {
	id string

	mu    sync.RWMutex
	peers map[string]*LoopbackTransport

	subMu    sync.RWMutex
	handlers map[int]func(peerID string, data []byte)
	nextSub  int

	stats ConnectionStats
}

// NewLoopbackMesh builds n LoopbackTransports all connected to each other.
func NewLoopbackMesh(ids ...string) map[string]*LoopbackTransport {
	mesh := make(map[string]*LoopbackTransport, len(ids))
	for _, id := range ids {
		mesh[id] = &LoopbackTransport{
			id:       id,
			peers:    make(map[string]*LoopbackTransport),
			handlers: make(map[int]func(string, []byte)),
			stats:    ConnectionStats{OpenedAt: time.Now()},
		}
	}
	for _, a := range mesh {
		for otherID, b := range mesh {
			if otherID != a.id {
				a.peers[otherID] = b
			}
		}
	}
	return mesh
}

func (t *LoopbackTransport) deliver(fromID string, data []byte) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, h := range t.handlers {
		h(fromID, data)
	}
}

// Connect returns a loopbackConnection bound to peerID; loopback peers
// are always reachable once present in the mesh.
func (t *LoopbackTransport) Connect(_ context.Context, peerID string) (Connection, error) {
	t.mu.RLock()
	peer, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return nil, errors.New("transport: unknown peer " + peerID)
	}
	return &loopbackConnection{from: t, to: peer, opened: time.Now()}, nil
}

// Broadcast delivers data to every peer's subscribers synchronously.
func (t *LoopbackTransport) Broadcast(_ context.Context, data []byte) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, peer := range t.peers {
		peer.deliver(t.id, data)
	}
	return nil, nil
}

// Peers lists the mesh's other member IDs.
func (t *LoopbackTransport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe registers handler for inbound messages from any peer.
func (t *LoopbackTransport) Subscribe(handler func(peerID string, data []byte)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.handlers[id] = handler
	t.subMu.Unlock()
	return func() {
		t.subMu.Lock()
		delete(t.handlers, id)
		t.subMu.Unlock()
	}
}

// Close removes this transport's view of its peers; it does not affect
// the other peers' own maps.
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	t.peers = nil
	t.mu.Unlock()
	return nil
}

type loopbackConnection struct {
	from, to *LoopbackTransport
	opened   time.Time
	closed   bool
	mu       sync.Mutex
}

func (c *loopbackConnection) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnectionClosed
	}
	c.to.deliver(c.from.id, data)
	return nil
}

// Receive is unsupported on a loopback connection: delivery happens via
// Subscribe on the destination transport instead of a pull read.
func (c *loopbackConnection) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *loopbackConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *loopbackConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *loopbackConnection) Stats() ConnectionStats {
	return ConnectionStats{OpenedAt: c.opened}
}
