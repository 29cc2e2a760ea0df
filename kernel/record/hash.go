package record

import "lukechampine.com/blake3"

// ContentHash returns the blake3-256 digest of the record's encoded
// payload (metadata excluded), backing the "content-addressable"
// semantics of §3.1: the same payload reached by two different paths
// hashes identically. The filter package's rebroadcast dedupe cache is
// keyed by whatever message id its caller passes in; nothing in this
// module feeds it this digest.
// Grounded on the sha256+hex message-id pattern in inos_v1's
// GossipManager, swapped for blake3 because the payload space here
// includes large Any/Binary blobs where blake3's throughput matters.
func (r Record) ContentHash() [32]byte {
	payload, _ := EncodePayload(r)
	return blake3.Sum256(payload)
}
