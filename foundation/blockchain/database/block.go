package database

import (
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/merkle"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	MajorVersion      uint8  `json:"major_version"`
	MinorVersion      uint8  `json:"minor_version"`
	Timestamp         uint64 `json:"timestamp"`
	PreviousBlockHash Hash   `json:"prev_block_hash"`
	Nonce             uint32 `json:"nonce"`
}

// Block represents a group of transactions batched together. Only the
// hashes of the non coinbase transactions are part of the block, the
// transactions themselves travel alongside it.
type Block struct {
	BlockHeader
	BaseTransaction   Transaction `json:"base_transaction"`
	TransactionHashes []Hash      `json:"transaction_hashes"`
}

// hashingBlob is the part of the block covered by the block identity and the
// proof of work.
type hashingBlob struct {
	Header   BlockHeader
	TreeRoot Hash
	TxCount  uint64
}

// treeLeafs returns the coinbase hash followed by the transaction hashes.
func (b Block) treeLeafs() [][]byte {
	hashes := make([][]byte, 0, len(b.TransactionHashes)+1)
	base := b.BaseTransaction.Hash()
	hashes = append(hashes, base[:])
	for i := range b.TransactionHashes {
		hashes = append(hashes, b.TransactionHashes[i][:])
	}
	return hashes
}

// TreeRoot returns the tree hash of the coinbase hash followed by the
// transaction hashes.
func (b Block) TreeRoot() Hash {
	root, err := merkle.Root(b.treeLeafs(), treeHash)
	if err != nil {

		// There is always at least the coinbase hash.
		return ZeroHash
	}

	var h Hash
	copy(h[:], root)
	return h
}

// HashingBlob returns the serialized form used for the block identity and
// the proof of work.
func (b Block) HashingBlob() []byte {
	return encode(hashingBlob{
		Header:   b.BlockHeader,
		TreeRoot: b.TreeRoot(),
		TxCount:  uint64(len(b.TransactionHashes) + 1),
	})
}

// Hash returns the unique identity of the block.
func (b Block) Hash() Hash {
	return hash(b.HashingBlob())
}

// PowHash returns the proof of work hash of the block.
func (b Block) PowHash() Hash {
	return signature.Default.LongHash(b.HashingBlob())
}

// Encode returns the canonical binary form of the block.
func (b Block) Encode() []byte {
	return encode(b)
}

// BlobSize returns the size of the canonical binary form.
func (b Block) BlobSize() uint64 {
	return uint64(len(b.Encode()))
}

// DecodeBlock parses a block from its canonical binary form.
func DecodeBlock(blob []byte) (Block, error) {
	var b Block
	if err := decode(blob, &b); err != nil {
		return Block{}, err
	}
	return b, nil
}

// TxProof links a transaction to the tree root of its block. Order holds 0
// when the sibling hash is on the left and 1 when it is on the right.
type TxProof struct {
	TreeRoot Hash    `json:"tree_root"`
	Siblings []Hash  `json:"siblings"`
	Order    []int64 `json:"order"`
}

// TransactionProof returns the proof the transaction, or the coinbase, is
// committed to by the block.
func (b Block) TransactionProof(txHash Hash) (TxProof, error) {
	siblings, order, root, err := merkle.ProofOf(b.treeLeafs(), txHash[:], treeHash)
	if err != nil {
		return TxProof{}, err
	}

	proof := TxProof{
		Siblings: make([]Hash, len(siblings)),
		Order:    order,
	}
	copy(proof.TreeRoot[:], root)
	for i, s := range siblings {
		copy(proof.Siblings[i][:], s)
	}

	return proof, nil
}

// Verify reports if the proof links the transaction hash to the tree root.
func (p TxProof) Verify(txHash Hash) bool {
	if len(p.Siblings) != len(p.Order) {
		return false
	}

	siblings := make([][]byte, len(p.Siblings))
	for i := range p.Siblings {
		siblings[i] = p.Siblings[i][:]
	}

	var root Hash
	copy(root[:], merkle.VerifyProof(txHash[:], siblings, p.Order, treeHash))
	return root == p.TreeRoot
}

// treeHash combines two nodes of the transaction tree.
func treeHash(left []byte, right []byte) []byte {
	h := signature.Default.FastHash(left, right)
	return h[:]
}

// =============================================================================

// RawBlock is the form blocks are relayed and returned in: the encoded block
// followed by the encoded transactions it references.
type RawBlock struct {
	Block        []byte   `json:"block"`
	Transactions [][]byte `json:"transactions"`
}

// NewRawBlock encodes a block and its transactions.
func NewRawBlock(b Block, txs []Transaction) RawBlock {
	raw := RawBlock{
		Block:        b.Encode(),
		Transactions: make([][]byte, len(txs)),
	}
	for i, tx := range txs {
		raw.Transactions[i] = tx.Encode()
	}
	return raw
}

// Decode parses the block and the transactions of the raw block.
func (rb RawBlock) Decode() (Block, []Transaction, error) {
	b, err := DecodeBlock(rb.Block)
	if err != nil {
		return Block{}, nil, err
	}

	txs := make([]Transaction, len(rb.Transactions))
	for i, blob := range rb.Transactions {
		if txs[i], err = DecodeTransaction(blob); err != nil {
			return Block{}, nil, err
		}
	}

	return b, txs, nil
}
