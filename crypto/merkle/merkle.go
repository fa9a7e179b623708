// Package merkle implements the balanced Merkle tree spec.md §3
// requires to authenticate CT-RBC's n erasure-coded shards: a root
// over n leaf hashes, and per-shard proofs (sibling path + index)
// verifiable against that root.
package merkle

import (
	"github.com/pkg/errors"

	"github.com/rbc-go/rbc/crypto"
)

// Tree is a balanced binary Merkle tree built over a fixed set of leaf
// hashes. Levels are stored bottom-up at their original width; an odd
// level pairs its last node with a copy of itself when the level above
// is hashed, but that copy is not stored.
type Tree struct {
	hs     crypto.HashState
	levels [][]crypto.Hash
}

// New builds a Merkle tree over the given leaf hashes (one per shard).
// It requires at least one leaf.
func New(leaves []crypto.Hash, hs crypto.HashState) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("merkle: cannot build a tree with no leaves")
	}
	level := make([]crypto.Hash, len(leaves))
	copy(level, leaves)

	levels := [][]crypto.Hash{level}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]crypto.Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = hs.SumPair(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{hs: hs, levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() crypto.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// NumLeaves reports how many leaves the tree was built over.
func (t *Tree) NumLeaves() int {
	return len(t.levels[0])
}

// Proof is the sibling path from a leaf to the root, plus the leaf's
// index, as required by spec.md §3.
type Proof struct {
	Index    int
	Siblings []crypto.Hash
	Root     crypto.Hash
}

// Proof returns the authentication path for the leaf at index i.
func (t *Tree) Proof(i int) (Proof, error) {
	if i < 0 || i >= t.NumLeaves() {
		return Proof{}, errors.Errorf("merkle: index %d out of range [0,%d)", i, t.NumLeaves())
	}
	siblings := make([]crypto.Hash, 0, len(t.levels)-1)
	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var siblingIdx int
		if idx%2 == 0 {
			siblingIdx = idx + 1
		} else {
			siblingIdx = idx - 1
		}
		if siblingIdx >= len(nodes) {
			siblingIdx = idx // duplicated tail node
		}
		siblings = append(siblings, nodes[siblingIdx])
		idx /= 2
	}
	return Proof{Index: i, Siblings: siblings, Root: t.Root()}, nil
}

// Verify checks that leaf authenticates against p.Root via p's sibling
// path. It does not consult a live Tree: any (leaf, proof) pair
// received over the wire can be verified standalone, which is what
// CT-RBC's Init/Echo handlers need (spec.md §4.3).
func Verify(hs crypto.HashState, leaf crypto.Hash, p Proof) bool {
	cur := leaf
	idx := p.Index
	for _, sibling := range p.Siblings {
		if idx%2 == 0 {
			cur = hs.SumPair(cur, sibling)
		} else {
			cur = hs.SumPair(sibling, cur)
		}
		idx /= 2
	}
	return cur == p.Root
}
