// Package util provides shared utility functions.
package util

import "hash/fnv"

// PeerTag computes a 4-byte hash of a user identifier, used as a compact
// handle in log lines. The tag is for identification only and does not
// need to be reversible.
func PeerTag(userID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return h.Sum32()
}
