// Package erasure adapts a Reed-Solomon-like (n, f+1) erasure code to
// the shape CT-RBC needs (spec.md §3, §4.3): split a payload into n
// shards such that any f+1 of them reconstruct it bit-exactly. The
// code itself is treated as an external primitive per spec.md §1; this
// package only shapes the padding/length bookkeeping around it.
package erasure

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

// lengthPrefixSize is how many bytes are used to record the original
// payload length before erasure coding, so Reconstruct can truncate
// the padding the codec required.
const lengthPrefixSize = 8

// Encode splits payload into total shards, of which any data (= f+1)
// suffice to reconstruct it. total must be >= data.
func Encode(payload []byte, data, total int) ([][]byte, error) {
	if data <= 0 || total < data {
		return nil, errors.Errorf("erasure: invalid shard parameters data=%d total=%d", data, total)
	}
	parity := total - data

	framed := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint64(framed[:lengthPrefixSize], uint64(len(payload)))
	copy(framed[lengthPrefixSize:], payload)

	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, errors.Wrap(err, "erasure: constructing codec")
	}

	shards, err := enc.Split(framed)
	if err != nil {
		return nil, errors.Wrap(err, "erasure: splitting payload")
	}
	if err := enc.Encode(shards); err != nil {
		return nil, errors.Wrap(err, "erasure: encoding parity shards")
	}
	return shards, nil
}

// Reconstruct rebuilds the original payload from a sparse slice of
// shards (nil entries mark shards we don't hold). It requires at least
// data non-nil shards, matching spec.md's "any f+1 shards reconstruct"
// invariant.
func Reconstruct(shards [][]byte, data, total int) ([]byte, error) {
	if len(shards) != total {
		return nil, errors.Errorf("erasure: expected %d shard slots, got %d", total, len(shards))
	}
	parity := total - data
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, errors.Wrap(err, "erasure: constructing codec")
	}

	work := make([][]byte, total)
	copy(work, shards)
	if err := enc.Reconstruct(work); err != nil {
		return nil, errors.Wrap(err, "erasure: reconstructing shards")
	}

	shardSize := len(work[0])
	joined := make([]byte, 0, shardSize*data)
	for i := 0; i < data; i++ {
		joined = append(joined, work[i]...)
	}
	if len(joined) < lengthPrefixSize {
		return nil, errors.New("erasure: reconstructed payload shorter than length prefix")
	}
	origLen := binary.BigEndian.Uint64(joined[:lengthPrefixSize])
	joined = joined[lengthPrefixSize:]
	if uint64(len(joined)) < origLen {
		return nil, errors.New("erasure: reconstructed payload shorter than recorded length")
	}
	return joined[:origLen], nil
}
