// Package merkle provides the tree hash used to commit a block to the set of
// transactions it contains.
//
// The tree follows the CryptoNote layout: when the number of leaves is not a
// power of two, the leading leaves are carried up to the first full level
// untouched and only the trailing leaves are paired. This keeps the tree
// balanced without duplicating leaves.
package merkle

import (
	"bytes"
	"errors"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() ([]byte, error)
	Equals(other T) bool
}

// HashFunc combines two child hashes into the parent hash.
type HashFunc func(left []byte, right []byte) []byte

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root       *Node[T]
	Leafs      []*Node[T]
	MerkleRoot []byte
	hashFunc   HashFunc
}

// WithHashFunc is used to set the function that combines two children. The
// tree cannot be generated without one.
func WithHashFunc[T Hashable[T]](fn HashFunc) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashFunc = fn
	}
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	var t Tree[T]
	for _, option := range options {
		option(&t)
	}

	if t.hashFunc == nil {
		return nil, errors.New("no hash function provided")
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. If the tree has been generated previously, the tree is re-generated
// from scratch.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		return errors.New("cannot construct tree with no content")
	}

	leafs := make([]*Node[T], len(values))
	for i, value := range values {
		hash, err := value.Hash()
		if err != nil {
			return err
		}

		leafs[i] = &Node[T]{
			Hash:  hash,
			Value: value,
		}
	}

	t.Leafs = leafs
	t.Root = t.build(leafs)
	t.MerkleRoot = t.Root.Hash

	return nil
}

// Proof returns the set of sibling hashes from the leaf holding the data up
// to the root along with the concatenation order. An order of 0 means the
// proof hash comes first, 1 means it comes second.
func (t *Tree[T]) Proof(data T) ([][]byte, []int64, error) {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		var proof [][]byte
		var order []int64
		for parent := node.Parent; parent != nil; node, parent = parent, parent.Parent {
			if parent.Left == node {
				proof = append(proof, parent.Right.Hash)
				order = append(order, 1)
				continue
			}
			proof = append(proof, parent.Left.Hash)
			order = append(order, 0)
		}

		return proof, order, nil
	}

	return nil, nil, errors.New("unable to find data in tree")
}

// build reduces the leafs to the root node.
func (t *Tree[T]) build(leafs []*Node[T]) *Node[T] {
	count := len(leafs)
	switch count {
	case 1:
		return leafs[0]
	case 2:
		return t.join(leafs[0], leafs[1])
	}

	// Largest power of two strictly below the number of leafs.
	width := 1
	for width*2 < count {
		width *= 2
	}

	level := make([]*Node[T], width)
	carried := 2*width - count
	copy(level, leafs[:carried])
	for i, j := carried, carried; j < width; i, j = i+2, j+1 {
		level[j] = t.join(leafs[i], leafs[i+1])
	}

	for len(level) > 1 {
		next := make([]*Node[T], len(level)/2)
		for i := range next {
			next[i] = t.join(level[2*i], level[2*i+1])
		}
		level = next
	}

	return level[0]
}

// join creates the parent of two nodes.
func (t *Tree[T]) join(left *Node[T], right *Node[T]) *Node[T] {
	n := Node[T]{
		Left:  left,
		Right: right,
		Hash:  t.hashFunc(left.Hash, right.Hash),
	}
	left.Parent = &n
	right.Parent = &n
	return &n
}

// =============================================================================

// Node is a leaf or an inner node of the tree. Only leafs carry a value.
type Node[T Hashable[T]] struct {
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   []byte
	Value  T
}

// =============================================================================

// Root computes the tree hash of a list of hashes without keeping the tree.
func Root(hashes [][]byte, fn HashFunc) ([]byte, error) {
	tree, err := hashTree(hashes, fn)
	if err != nil {
		return nil, err
	}

	return tree.MerkleRoot, nil
}

// ProofOf builds the tree over the hashes and returns the proof of the
// target hash along with the root.
func ProofOf(hashes [][]byte, target []byte, fn HashFunc) ([][]byte, []int64, []byte, error) {
	tree, err := hashTree(hashes, fn)
	if err != nil {
		return nil, nil, nil, err
	}

	proof, order, err := tree.Proof(leaf(target))
	if err != nil {
		return nil, nil, nil, err
	}

	return proof, order, tree.MerkleRoot, nil
}

func hashTree(hashes [][]byte, fn HashFunc) (*Tree[leaf], error) {
	if len(hashes) == 0 {
		return nil, errors.New("cannot construct tree with no content")
	}

	leafs := make([]leaf, len(hashes))
	for i, h := range hashes {
		leafs[i] = leaf(h)
	}

	return NewTree(leafs, WithHashFunc[leaf](fn))
}

// VerifyProof recomputes the root from a leaf hash and its proof.
func VerifyProof(hash []byte, proof [][]byte, order []int64, fn HashFunc) []byte {
	for i, p := range proof {
		if order[i] == 0 {
			hash = fn(p, hash)
			continue
		}
		hash = fn(hash, p)
	}
	return hash
}

// leaf is a precomputed hash stored in the tree.
type leaf []byte

func (l leaf) Hash() ([]byte, error)  { return l, nil }
func (l leaf) Equals(other leaf) bool { return bytes.Equal(l, other) }
