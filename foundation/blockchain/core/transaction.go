package core

import (
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
)

// HandleIncomingTransaction checks the transaction and admits it to the
// pool. Observers learn about the pool change once it is added.
func (c *Core) HandleIncomingTransaction(tx database.Transaction, hash database.Hash, blobSize uint64, keptByBlock bool, heightHint uint32) validator.TxVerification {
	if err := c.validator.CheckSyntax(tx); err != nil {
		c.evHandler("core: HandleIncomingTransaction: tx[%s]: ERROR: %s", hash, err)
		return validator.Rejected(err)
	}

	if limit := c.currency.MaxTransactionSize(); !keptByBlock && blobSize > limit {
		err := fmt.Errorf("%w: %d bytes, limit %d", validator.ErrTooBig, blobSize, limit)
		c.evHandler("core: HandleIncomingTransaction: tx[%s]: ERROR: %s", hash, err)
		return validator.Rejected(err)
	}

	ls := c.LockStorage()
	tv := c.pool.Add(tx, hash, blobSize, keptByBlock, heightHint)
	ls.Unlock()

	c.evHandler("core: HandleIncomingTransaction: tx[%s]: %s", hash, tv)

	if tv.AddedToPool {
		c.notifyPoolUpdated()
	}

	return tv
}

// SubmitTransaction admits a transaction submitted locally in its encoded
// form and relays it when the pool accepted it.
func (c *Core) SubmitTransaction(blob []byte) (database.Hash, validator.TxVerification, error) {
	tx, err := database.DecodeTransaction(blob)
	if err != nil {
		return database.Hash{}, validator.TxVerification{}, fmt.Errorf("decoding transaction: %w", err)
	}

	hash := tx.Hash()
	tv := c.HandleIncomingTransaction(tx, hash, uint64(len(blob)), false, c.chain.Height())

	if tv.ShouldBeRelayed {
		if _, _, rl := c.snapshot(); rl != nil {
			rl.RelayTransactions([]database.Transaction{tx})
		}
	}

	return hash, tv, nil
}
