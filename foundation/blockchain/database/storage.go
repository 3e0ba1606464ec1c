package database

// Storage interface represents the behavior required to be implemented by any
// package providing support for reading and writing the main chain. Blocks
// are keyed by height starting with the genesis block at height 0.
type Storage interface {
	Write(blockData BlockData) error
	GetBlock(height uint64) (BlockData, error)
	ForEach() Iterator
	Truncate(height uint64) error
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// BlockData represents what is persisted for every block of the main chain.
// The cumulative values let the chain rebuild its indices without replaying
// the consensus math.
type BlockData struct {
	Height                uint64        `json:"height"`
	Hash                  Hash          `json:"hash"`
	Block                 Block         `json:"block"`
	Transactions          []Transaction `json:"transactions"`
	BlockSize             uint64        `json:"block_size"`
	CumulativeDifficulty  uint64        `json:"cumulative_difficulty"`
	AlreadyGeneratedCoins uint64        `json:"already_generated_coins"`
}

// Encode returns the canonical binary form of the block data.
func (bd BlockData) Encode() []byte {
	return encode(bd)
}

// DecodeBlockData parses the canonical binary form of the block data.
func DecodeBlockData(blob []byte) (BlockData, error) {
	var bd BlockData
	if err := decode(blob, &bd); err != nil {
		return BlockData{}, err
	}
	return bd, nil
}
