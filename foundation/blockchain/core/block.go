package core

import (
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// HandleIncomingBlock adds the block to the chain. With controlMiner set the
// miner is paused for the duration of the change. With relay set a block
// that extended the main chain is handed to the relay along with its
// transactions. A reorganization asks the peers for their pools since the
// set of confirmed transactions changed.
func (c *Core) HandleIncomingBlock(block database.Block, controlMiner bool, relay bool) (chain.BlockVerification, error) {
	hash := block.Hash()

	_, miner, rl := c.snapshot()

	// If the miner is hashing it needs to stop before the chain changes. The
	// miner will not resume until resume is called, after the observers
	// learned about the new tail.
	if controlMiner && miner != nil {
		resume := miner.Pause()
		defer func() {
			c.evHandler("core: HandleIncomingBlock: blk[%s]: resume miner", hash)
			resume()
		}()
	}

	ls := c.LockStorage()
	defer ls.Unlock()

	bv, err := c.chain.AddNewBlock(block, c.pool)
	if err != nil {
		c.evHandler("core: HandleIncomingBlock: blk[%s]: ERROR: %s", hash, err)
		return bv, err
	}

	c.evHandler("core: HandleIncomingBlock: blk[%s]: %s", hash, bv)

	if !bv.AddedToMainChain {
		return bv, nil
	}

	var txs []database.Transaction
	if relay {
		details, ok := c.chain.GetBlock(hash)
		if !ok {
			return bv, fmt.Errorf("%w: block %s missing after being added", chain.ErrInternal, hash)
		}
		txs = details.Transactions
	}

	ev := ChainEvent{
		Height:             c.chain.Height(),
		TailID:             c.chain.TailID(),
		SwitchedToAltChain: bv.SwitchedToAltChain,
	}

	ls.Unlock()

	c.notifyBlockchainUpdated(ev)
	if len(block.TransactionHashes) > 0 || bv.SwitchedToAltChain {
		c.notifyPoolUpdated()
	}

	if rl != nil {
		if relay {
			rl.RelayBlock(block, txs)
		}
		if bv.SwitchedToAltChain {
			c.evHandler("core: HandleIncomingBlock: blk[%s]: switched to alternative chain, request pool sync", hash)
			rl.RequestPoolSync()
		}
	}

	return bv, nil
}

// HandleBlockFound adds a block found by the local miner and relays it.
// The miner is the caller so it is not paused.
func (c *Core) HandleBlockFound(block database.Block) (chain.BlockVerification, error) {
	c.evHandler("core: HandleBlockFound: blk[%s]: nonce[%d]", block.Hash(), block.Nonce)

	bv, err := c.HandleIncomingBlock(block, false, true)
	if err != nil {
		return bv, err
	}

	if !bv.AddedToMainChain {
		c.evHandler("core: HandleBlockFound: blk[%s]: WARNING: mined block not added to the main chain: %s", block.Hash(), bv)
	}

	return bv, nil
}

// AddChain imports the blocks in order, admitting the transactions of each
// block before the block itself. It stops at the first block that is
// neither added nor already known and returns the number of blocks
// accepted.
func (c *Core) AddChain(blocks []database.RawBlock) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}

	_, miner, _ := c.snapshot()
	if miner != nil {
		resume := miner.Pause()
		defer resume()
	}

	ls := c.LockStorage()
	defer ls.Unlock()

	startHeight := c.chain.Height()

	var accepted int
	var err error
	for _, raw := range blocks {
		var ok bool
		if ok, err = c.addRawBlock(raw); !ok || err != nil {
			break
		}
		accepted++
	}

	ev := ChainEvent{
		Height: c.chain.Height(),
		TailID: c.chain.TailID(),
	}

	ls.Unlock()

	c.evHandler("core: AddChain: accepted[%d] of [%d]", accepted, len(blocks))

	if ev.Height != startHeight {
		c.notifyBlockchainUpdated(ev)
		c.notifyPoolUpdated()
	}

	return accepted, err
}

// addRawBlock admits one block of a batch. The storage lock is held.
func (c *Core) addRawBlock(raw database.RawBlock) (bool, error) {
	block, txs, err := raw.Decode()
	if err != nil {
		c.evHandler("core: AddChain: ERROR: %s", err)
		return false, nil
	}

	hash := block.Hash()
	if c.chain.HaveBlock(hash) {
		return true, nil
	}

	height := c.chain.Height()
	for _, tx := range txs {
		txHash := tx.Hash()
		tv := c.pool.Add(tx, txHash, tx.BlobSize(), true, height)
		if tv.VerificationFailed {
			c.evHandler("core: AddChain: blk[%s]: tx[%s]: ERROR: %s", hash, txHash, tv.Reason)
			return false, nil
		}
	}

	bv, err := c.chain.AddNewBlock(block, c.pool)
	if err != nil {
		return false, err
	}

	if !bv.AddedToMainChain && !bv.AddedToAltChain && !bv.AlreadyExists {
		c.evHandler("core: AddChain: blk[%s]: %s", hash, bv)
		return false, nil
	}

	return true, nil
}
