// Package crypto provides the hash and MAC primitives the rest of the
// rbc node builds on: content hashing for Merkle leaves and Bracha
// payload dedup, and the per-peer wrapper MAC.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the width of a Hash, as suggested by spec.md §3.
const HashSize = 32

// Hash is a fixed-width digest.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashState is the domain hash function (original_source names it
// crypto::aes_hash::HashState / crypto::hash::do_hash). It is used to
// hash shards into Merkle leaves and to hash Bracha payloads for the
// echo/ready dedup tables.
type HashState struct{}

// NewHashState returns the hash function instance shared by the
// Merkle tree and the Bracha dedup tables.
func NewHashState() HashState {
	return HashState{}
}

// Sum hashes a single buffer to a Hash.
func (HashState) Sum(data []byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an invalid key, and we pass none.
		panic(err)
	}
	return sumWith(h, data)
}

// SumPair hashes the concatenation of two children into their parent
// node hash, used when building a Merkle tree level.
func (hs HashState) SumPair(left, right Hash) Hash {
	buf := make([]byte, 0, 2*HashSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return hs.Sum(buf)
}

func sumWith(h hash.Hash, data []byte) Hash {
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// MAC authenticates a wrapper's serialized bytes with the symmetric
// key shared between sender and receiver (spec.md §3, §4.5).
type MAC [sha256.Size]byte

// ComputeMAC returns the HMAC-SHA256 of data under key.
func ComputeMAC(key, data []byte) MAC {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	var out MAC
	copy(out[:], m.Sum(nil))
	return out
}

// VerifyMAC reports whether mac authenticates data under key, using a
// constant-time comparison.
func VerifyMAC(key, data []byte, mac MAC) bool {
	expected := ComputeMAC(key, data)
	return hmac.Equal(expected[:], mac[:])
}
