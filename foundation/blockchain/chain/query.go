package chain

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/genesis"
)

// BlockDetails is a main chain block along with its transactions.
type BlockDetails struct {
	Hash         database.Hash
	Height       uint32
	Block        database.Block
	Transactions []database.Transaction
}

// BlockInfo is what the chain derived for a block of any branch.
type BlockInfo struct {
	Hash                  database.Hash `json:"hash"`
	Height                uint32        `json:"height"`
	OnMainChain           bool          `json:"on_main_chain"`
	BlockSize             uint64        `json:"block_size"`
	Difficulty            uint64        `json:"difficulty"`
	CumulativeDifficulty  uint64        `json:"cumulative_difficulty"`
	AlreadyGeneratedCoins uint64        `json:"already_generated_coins"`
	Timestamp             uint64        `json:"timestamp"`
	TransactionCount      int           `json:"transaction_count"`
}

// =============================================================================

// Height returns the number of blocks of the main chain.
func (c *Chain) Height() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return uint32(len(c.blocks))
}

// TailID returns the hash of the last main chain block.
func (c *Chain) TailID() database.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.tail().hash
}

// Tail returns the hash and height of the last main chain block.
func (c *Chain) Tail() (database.Hash, uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tail := c.tail()
	return tail.hash, tail.height
}

// HaveBlock reports if the block is known to the main chain, to an
// alternative branch or as an invalid block.
func (c *Chain) HaveBlock(hash database.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.haveBlock(hash)
}

func (c *Chain) haveBlock(hash database.Hash) bool {
	if _, exists := c.blockIndex[hash]; exists {
		return true
	}
	if _, exists := c.alternatives[hash]; exists {
		return true
	}
	_, exists := c.invalid[hash]
	return exists
}

// IsBlockInvalid reports if the block failed validation before.
func (c *Chain) IsBlockInvalid(hash database.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.invalid[hash]
	return exists
}

// BlockIDByHeight returns the hash of the main chain block at the height.
func (c *Chain) BlockIDByHeight(height uint32) (database.Hash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if int(height) >= len(c.blocks) {
		return database.Hash{}, false
	}
	return c.blocks[height].hash, true
}

// BlockHeight returns the height of a main chain block.
func (c *Chain) BlockHeight(hash database.Hash) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	height, exists := c.blockIndex[hash]
	return height, exists
}

// BlockTimestamp returns the timestamp of the main chain block at the height.
func (c *Chain) BlockTimestamp(height uint32) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if int(height) >= len(c.blocks) {
		return 0, false
	}
	return c.blocks[height].block.Timestamp, true
}

// BlockInfo returns what the chain knows about a main or alternative block.
func (c *Chain) BlockInfo(hash database.Hash) (BlockInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, onMain := c.mainEntry(hash)
	if !onMain {
		var exists bool
		if e, exists = c.alternatives[hash]; !exists {
			return BlockInfo{}, false
		}
	}

	info := BlockInfo{
		Hash:                  e.hash,
		Height:                e.height,
		OnMainChain:           onMain,
		BlockSize:             e.blockSize,
		Difficulty:            e.difficulty,
		CumulativeDifficulty:  e.cumulativeDifficulty,
		AlreadyGeneratedCoins: e.alreadyGeneratedCoins,
		Timestamp:             e.block.Timestamp,
		TransactionCount:      len(e.txs) + 1,
	}

	return info, true
}

func (c *Chain) mainEntry(hash database.Hash) (*entry, bool) {
	height, exists := c.blockIndex[hash]
	if !exists {
		return nil, false
	}
	return c.blocks[height], true
}

// =============================================================================

// GetBlock returns a main chain block with its transactions.
func (c *Chain) GetBlock(hash database.Hash) (BlockDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.mainEntry(hash)
	if !exists {
		return BlockDetails{}, false
	}
	return details(e), true
}

// GetBlocks returns the main chain blocks of the hashes. Unknown hashes are
// reported in the missed list.
func (c *Chain) GetBlocks(hashes []database.Hash) ([]BlockDetails, []database.Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var blocks []BlockDetails
	var missed []database.Hash

	for _, hash := range hashes {
		e, exists := c.mainEntry(hash)
		if !exists {
			missed = append(missed, hash)
			continue
		}
		blocks = append(blocks, details(e))
	}

	return blocks, missed
}

// GetBlocksByHeight returns up to count main chain blocks starting at the
// height.
func (c *Chain) GetBlocksByHeight(start uint32, count int) []BlockDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if int(start) >= len(c.blocks) || count <= 0 {
		return nil
	}

	end := min(int(start)+count, len(c.blocks))
	blocks := make([]BlockDetails, 0, end-int(start))
	for _, e := range c.blocks[start:end] {
		blocks = append(blocks, details(e))
	}

	return blocks
}

func details(e *entry) BlockDetails {
	return BlockDetails{
		Hash:         e.hash,
		Height:       e.height,
		Block:        e.block,
		Transactions: e.txs,
	}
}

// GetTransactions returns the confirmed transactions of the hashes. Unknown
// hashes are reported in the missed list.
func (c *Chain) GetTransactions(hashes []database.Hash) ([]database.Transaction, []database.Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var txs []database.Transaction
	var missed []database.Hash

	for _, hash := range hashes {
		tx, exists := c.transaction(hash)
		if !exists {
			missed = append(missed, hash)
			continue
		}
		txs = append(txs, tx)
	}

	return txs, missed
}

// HaveTransaction reports if the transaction is confirmed by the main chain.
func (c *Chain) HaveTransaction(hash database.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.txIndex[hash]
	return exists
}

// TransactionBlock returns the height of the block confirming the
// transaction.
func (c *Chain) TransactionBlock(hash database.Hash) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ref, exists := c.txIndex[hash]
	return ref.height, exists
}

func (c *Chain) transaction(hash database.Hash) (database.Transaction, bool) {
	ref, exists := c.txIndex[hash]
	if !exists {
		return database.Transaction{}, false
	}

	e := c.blocks[ref.height]
	if ref.index == 0 {
		return e.block.BaseTransaction, true
	}
	return e.txs[ref.index-1], true
}

// =============================================================================

// BuildSparseChain returns the locator of the main chain: the ten most
// recent block hashes, then hashes at doubling distances, ending with the
// genesis block.
func (c *Chain) BuildSparseChain() []database.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	size := len(c.blocks)
	var ids []database.Hash

	offset, multiplier := 1, 1
	genesisIncluded := false
	for i := 0; offset <= size; i++ {
		height := size - offset
		ids = append(ids, c.blocks[height].hash)
		if height == 0 {
			genesisIncluded = true
		}

		if i < 10 {
			offset++
		} else {
			multiplier *= 2
			offset += multiplier
		}
	}

	if !genesisIncluded {
		ids = append(ids, c.blocks[0].hash)
	}

	return ids
}

// FindBlockchainSupplement finds the most recent main chain block of the
// locator and returns up to maxCount hashes of the blocks after it, the
// height of the main chain and the height of the first returned hash.
func (c *Chain) FindBlockchainSupplement(locator []database.Hash, maxCount int) ([]database.Hash, uint32, uint32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := uint32(len(c.blocks))

	common, found := uint32(0), false
	for _, hash := range locator {
		if height, exists := c.blockIndex[hash]; exists {
			common, found = height, true
			break
		}
	}
	if !found {
		return nil, total, 0, fmt.Errorf("%w: locator shares no block with the main chain", ErrUnknownParent)
	}

	start := common + 1
	end := min(int(start)+max(maxCount, 0), len(c.blocks))

	var hashes []database.Hash
	for _, e := range c.blocks[min(int(start), end):end] {
		hashes = append(hashes, e.hash)
	}

	return hashes, total, start, nil
}

// =============================================================================

// BlockIDsByTimestamp returns the main chain blocks with a timestamp in
// [begin, end), up to limit entries ordered by timestamp, along with the
// number of blocks in the range.
func (c *Chain) BlockIDsByTimestamp(begin uint64, end uint64, limit int) ([]database.Hash, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(c.timestamps))

	var ids []database.Hash
	var total int
	for _, ts := range keys {
		if ts < begin || ts >= end {
			continue
		}
		total += len(c.timestamps[ts])
		for _, hash := range c.timestamps[ts] {
			if len(ids) < limit {
				ids = append(ids, hash)
			}
		}
	}

	return ids, total
}

// TransactionIDsByPaymentID returns the confirmed transactions carrying the
// payment id.
func (c *Chain) TransactionIDsByPaymentID(id database.Hash) []database.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.paymentIDs[id])
}

// OrphanBlockIDsByHeight returns the alternative blocks at the height.
func (c *Chain) OrphanBlockIDsByHeight(height uint32) []database.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.orphans[height])
}

// GeneratedTransactionsNumber returns the number of transactions confirmed
// up to the height, coinbases included.
func (c *Chain) GeneratedTransactionsNumber(height uint32) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if int(height) >= len(c.generatedTx) {
		return 0, false
	}
	return c.generatedTx[height], true
}

// AlternativeBlocksCount returns the number of blocks off the main chain.
func (c *Chain) AlternativeBlocksCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.alternatives)
}

// =============================================================================

// SetCheckpoints replaces the checkpoints. It fails when a main chain block
// contradicts one of them.
func (c *Chain) SetCheckpoints(cps []genesis.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	checkpoints := make(map[uint32]database.Hash, len(cps))
	for _, cp := range cps {
		if int(cp.Height) < len(c.blocks) && c.blocks[cp.Height].hash != cp.Hash {
			return fmt.Errorf("%w: height %d holds %s", ErrCheckpoint, cp.Height, c.blocks[cp.Height].hash)
		}
		checkpoints[cp.Height] = cp.Hash
	}

	c.checkpoints = checkpoints
	c.evHandler("chain: SetCheckpoints: %d checkpoints", len(cps))

	return nil
}

// IsInCheckpointZone reports if the height is at or below the last
// checkpoint.
func (c *Chain) IsInCheckpointZone(height uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.inCheckpointZone(height)
}

func (c *Chain) inCheckpointZone(height uint32) bool {
	for h := range c.checkpoints {
		if height <= h {
			return true
		}
	}
	return false
}

// altAllowed reports if an alternative block at the height may still
// become part of the main chain given the checkpoints below the tail.
func (c *Chain) altAllowed(height uint32) bool {
	if height == 0 {
		return false
	}

	tail := c.tail().height
	var last uint32
	for h := range c.checkpoints {
		if h <= tail && h > last {
			last = h
		}
	}

	return last < height
}

// =============================================================================

// RollbackTo removes the main chain blocks at the height and above. Their
// transactions are returned to the pool. The genesis block always stays.
func (c *Chain) RollbackTo(height uint32, pool Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	height = max(height, 1)

	c.evHandler("chain: RollbackTo: started: height[%d]: tail[%d]", height, c.tail().height)

	var removed []*entry
	for uint32(len(c.blocks)) > height {
		e, err := c.popBlock()
		if err != nil {
			return err
		}
		removed = append(removed, e)
	}

	for i := len(removed) - 1; i >= 0; i-- {
		for _, tx := range removed[i].txs {
			pool.AddKept(tx)
		}
	}
	c.revalidatePool(pool)

	c.evHandler("chain: RollbackTo: completed: removed[%d]", len(removed))

	return nil
}
