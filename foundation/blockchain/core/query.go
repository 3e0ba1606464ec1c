package core

import (
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/mempool"
)

// Stats summarizes the state of the node.
type Stats struct {
	Height                   uint32        `json:"height"`
	TailID                   database.Hash `json:"tail_id"`
	Difficulty               uint64        `json:"difficulty"`
	CoinsInCirculation       uint64        `json:"coins_in_circulation"`
	CumulativeBlocksizeLimit uint64        `json:"cumulative_blocksize_limit"`
	AlternativeBlocks        int           `json:"alternative_blocks"`
	PoolSize                 int           `json:"pool_size"`
}

// TxDetails is a transaction and where it was found.
type TxDetails struct {
	Hash        database.Hash        `json:"hash"`
	Transaction database.Transaction `json:"transaction"`
	InPool      bool                 `json:"in_pool"`
	BlockHeight uint32               `json:"block_height"`
}

// =============================================================================

// Stats returns a summary of the chain and the pool.
func (c *Core) Stats() Stats {
	ls := c.LockStorage()
	defer ls.Unlock()

	return Stats{
		Height:                   c.chain.Height(),
		TailID:                   c.chain.TailID(),
		Difficulty:               c.chain.DifficultyForNextBlock(),
		CoinsInCirculation:       c.chain.CoinsInCirculation(),
		CumulativeBlocksizeLimit: c.chain.CurrentCumulativeBlocksizeLimit(),
		AlternativeBlocks:        c.chain.AlternativeBlocksCount(),
		PoolSize:                 c.pool.Count(),
	}
}

// Height returns the number of blocks of the main chain.
func (c *Core) Height() uint32 {
	return c.chain.Height()
}

// TailID returns the hash of the last main chain block.
func (c *Core) TailID() database.Hash {
	return c.chain.TailID()
}

// DifficultyForNextBlock returns the difficulty the next block must meet.
func (c *Core) DifficultyForNextBlock() uint64 {
	return c.chain.DifficultyForNextBlock()
}

// HaveBlock reports if the block is known to the chain in any form.
func (c *Core) HaveBlock(hash database.Hash) bool {
	return c.chain.HaveBlock(hash)
}

// HaveTransaction reports if the transaction is confirmed or pooled.
func (c *Core) HaveTransaction(hash database.Hash) bool {
	return c.chain.HaveTransaction(hash) || c.pool.Have(hash)
}

// BlockInfo returns what the chain derived for a block of any branch.
func (c *Core) BlockInfo(hash database.Hash) (chain.BlockInfo, bool) {
	return c.chain.BlockInfo(hash)
}

// GetBlock returns the main chain block with its transactions.
func (c *Core) GetBlock(hash database.Hash) (chain.BlockDetails, bool) {
	return c.chain.GetBlock(hash)
}

// GetBlockByHeight returns the main chain block at the height.
func (c *Core) GetBlockByHeight(height uint32) (chain.BlockDetails, bool) {
	blocks := c.chain.GetBlocksByHeight(height, 1)
	if len(blocks) == 0 {
		return chain.BlockDetails{}, false
	}
	return blocks[0], true
}

// GetBlocks returns the main chain blocks along with the hashes that are
// not on the main chain.
func (c *Core) GetBlocks(hashes []database.Hash) ([]chain.BlockDetails, []database.Hash) {
	return c.chain.GetBlocks(hashes)
}

// GetTransactions returns the transactions found in the chain or the pool
// along with the hashes found in neither.
func (c *Core) GetTransactions(hashes []database.Hash) ([]database.Transaction, []database.Hash) {
	txs, missed := c.chain.GetTransactions(hashes)

	var stillMissed []database.Hash
	for _, hash := range missed {
		if tx, ok := c.pool.Get(hash); ok {
			txs = append(txs, tx)
			continue
		}
		stillMissed = append(stillMissed, hash)
	}

	return txs, stillMissed
}

// GetTransaction returns the transaction from the chain or the pool.
func (c *Core) GetTransaction(hash database.Hash) (TxDetails, bool) {
	if txs, _ := c.chain.GetTransactions([]database.Hash{hash}); len(txs) == 1 {
		height, _ := c.chain.TransactionBlock(hash)
		return TxDetails{Hash: hash, Transaction: txs[0], BlockHeight: height}, true
	}

	if tx, ok := c.pool.Get(hash); ok {
		return TxDetails{Hash: hash, Transaction: tx, InPool: true}, true
	}

	return TxDetails{}, false
}

// =============================================================================

// BuildSparseChain returns the locator of the main chain.
func (c *Core) BuildSparseChain() []database.Hash {
	return c.chain.BuildSparseChain()
}

// FindBlockchainSupplement returns the hashes of the main chain blocks after
// the most recent locator block known to the chain.
func (c *Core) FindBlockchainSupplement(locator []database.Hash, maxCount int) ([]database.Hash, uint32, uint32, error) {
	return c.chain.FindBlockchainSupplement(locator, maxCount)
}

// ChainEntry returns the main chain hashes a syncing peer is missing,
// starting with the most recent locator block known to the chain so the
// peer can check the entry connects to its chain. It returns the height of
// that first hash and the height of the chain.
func (c *Core) ChainEntry(locator []database.Hash, maxCount int) ([]database.Hash, uint32, uint32, error) {
	ls := c.LockStorage()
	defer ls.Unlock()

	hashes, total, start, err := c.chain.FindBlockchainSupplement(locator, maxCount-1)
	if err != nil {
		return nil, 0, 0, err
	}

	common, ok := c.chain.BlockIDByHeight(start - 1)
	if !ok {
		return nil, 0, 0, fmt.Errorf("%w: no main chain block at height %d", chain.ErrInternal, start-1)
	}

	return append([]database.Hash{common}, hashes...), start - 1, total, nil
}

// BlockIDByHeight returns the hash of the main chain block at the height.
func (c *Core) BlockIDByHeight(height uint32) (database.Hash, bool) {
	return c.chain.BlockIDByHeight(height)
}

// QueryBlocks returns up to maxCount main chain blocks after the most recent
// locator block known to the chain, along with the height of the first one
// and the height of the chain.
func (c *Core) QueryBlocks(locator []database.Hash, maxCount int) ([]chain.BlockDetails, uint32, uint32, error) {
	hashes, total, start, err := c.chain.FindBlockchainSupplement(locator, maxCount)
	if err != nil {
		return nil, 0, 0, err
	}

	blocks, _ := c.chain.GetBlocks(hashes)
	return blocks, start, total, nil
}

// BlocksByTimestamp returns the main chain blocks with a timestamp in
// [begin, end) along with the number of blocks in the range.
func (c *Core) BlocksByTimestamp(begin uint64, end uint64, limit int) ([]database.Hash, int) {
	return c.chain.BlockIDsByTimestamp(begin, end, limit)
}

// TransactionsByPaymentID returns the confirmed and then the pooled
// transactions carrying the payment id.
func (c *Core) TransactionsByPaymentID(id database.Hash) []database.Hash {
	return append(c.chain.TransactionIDsByPaymentID(id), c.pool.TransactionIDsByPaymentID(id)...)
}

// OrphanBlocksByHeight returns the alternative blocks at the height.
func (c *Core) OrphanBlocksByHeight(height uint32) []database.Hash {
	return c.chain.OrphanBlockIDsByHeight(height)
}

// =============================================================================

// PoolDifference compares the pool with the hashes a peer believes are
// pooled.
func (c *Core) PoolDifference(known []database.Hash) ([]database.Hash, []database.Hash) {
	return c.pool.GetDifference(known)
}

// PoolChanges returns the pool transactions missing from known and the
// known hashes no longer pooled. The boolean reports if tailID is still
// the tail of the main chain.
func (c *Core) PoolChanges(tailID database.Hash, known []database.Hash) (bool, []database.Transaction, []database.Hash) {
	ls := c.LockStorage()
	defer ls.Unlock()

	added, deleted := c.pool.PoolChanges(known)
	return c.chain.TailID() == tailID, added, deleted
}

// PoolTransactions returns the pooled transactions in the order they were
// received.
func (c *Core) PoolTransactions() []database.Transaction {
	return c.pool.Transactions()
}

// PoolDetails describes the pooled transactions.
func (c *Core) PoolDetails() []mempool.TxDetails {
	return c.pool.Details()
}

// =============================================================================

// OnIdle runs the periodic maintenance of the pool.
func (c *Core) OnIdle() {
	ls := c.LockStorage()
	evicted := c.pool.OnIdle()
	ls.Unlock()

	if len(evicted) > 0 {
		c.evHandler("core: OnIdle: evicted[%d]", len(evicted))
		c.notifyPoolUpdated()
	}
}
