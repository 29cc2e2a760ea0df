package filter

import "time"

// DropKind selects how QoSSettings.DropRate sheds load.
type DropKind int

const (
	// DropProbabilistic drops each outgoing record independently with
	// probability DropRate.Rate.
	DropProbabilistic DropKind = iota
	// DropBursty drops BurstAmount consecutive records once the drop
	// condition triggers, then resumes passing traffic.
	DropBursty
)

// DropRate configures synthetic loss injection, useful for soak-testing
// a filter chain's backpressure handling without a real lossy network.
type DropRate struct {
	Rate        float64
	Kind        DropKind
	BurstAmount int
}

// QoSSettings is the enumerated knob set from §4.4. Chain.AllowSend
// enforces TrustedPeers, BannedPeers and the two bandwidth limits;
// RebroadcastTTL, ParticipantTTL, Deadline and DropRate are carried as
// configuration only and nothing in this package acts on them.
type QoSSettings struct {
	RebroadcastTTL      int
	ParticipantTTL       int
	SendBandwidthLimit   int64 // bytes/sec, 0 = unlimited
	TotalBandwidthLimit  int64 // bytes/sec across all peers, 0 = unlimited
	Deadline             time.Duration
	TrustedPeers         map[string]struct{}
	BannedPeers          map[string]struct{}
	DropRate             DropRate
}

// DefaultQoSSettings carries no TTL ceiling, no bandwidth cap, and no
// peer allow/deny policy.
func DefaultQoSSettings() QoSSettings {
	return QoSSettings{
		TrustedPeers: make(map[string]struct{}),
		BannedPeers:  make(map[string]struct{}),
	}
}

// IsBanned reports whether peerID is on the ban list.
func (q QoSSettings) IsBanned(peerID string) bool {
	_, banned := q.BannedPeers[peerID]
	return banned
}

// IsTrusted reports whether peerID is explicitly trusted. An empty
// trust set means "no allowlist configured" — everyone not banned is
// accepted.
func (q QoSSettings) IsTrusted(peerID string) bool {
	if len(q.TrustedPeers) == 0 {
		return true
	}
	_, trusted := q.TrustedPeers[peerID]
	return trusted
}
