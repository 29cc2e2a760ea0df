// Package transport defines the pluggable wire boundary a KB sends
// filtered update batches across, and receives remote batches from. It
// deliberately stops at the interface: spec §1 names "the wire-level
// transport implementations" as an out-of-scope external collaborator,
// so this package ships only the contract (grounded on
// kernel/core/mesh/transport.Connection) plus an in-process reference
// implementation for tests.
package transport

import (
	"context"
	"time"
)

// ConnectionStats mirrors transport.ConnectionStats's per-peer
// counters, surfaced for metrics/debugging.
type ConnectionStats struct {
	BytesSent     uint64
	BytesReceived uint64
	MessagesSent  uint64
	MessagesRecv  uint64
	Latency       time.Duration
	LastError     string
	OpenedAt      time.Time
}

// Connection is a single open channel to one peer.
type Connection interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsOpen() bool
	Stats() ConnectionStats
}

// Transport manages connections to the mesh of peers a KB disseminates
// updates to and receives updates from. Implementations (libp2p,
// WebRTC, raw TCP, ...) live outside this module; this package only
// names the shape they must satisfy.
type Transport interface {
	// Connect opens (or reuses) a Connection to peerID.
	Connect(ctx context.Context, peerID string) (Connection, error)
	// Broadcast sends data to every currently known peer, returning the
	// peer IDs it could not reach.
	Broadcast(ctx context.Context, data []byte) (failed []string, err error)
	// Peers lists the IDs of currently connected peers.
	Peers() []string
	// Subscribe registers handler to be invoked for every inbound
	// message from any peer until the returned cancel func is called.
	Subscribe(handler func(peerID string, data []byte)) (cancel func())
	// Close tears down every connection.
	Close() error
}
