package chain

import (
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
)

// mainView exposes the main chain to the validator. The caller holds the
// chain lock for as long as the view is in use.
type mainView struct {
	c *Chain

	// Key images and multisignature outputs spent by the transactions of
	// the block being checked.
	pending         map[database.KeyImage]struct{}
	pendingMultisig map[outputKey]struct{}
}

// outputKey identifies an output by its amount and global index.
type outputKey struct {
	amount uint64
	index  uint32
}

func newBlockView(c *Chain) mainView {
	return mainView{
		c:               c,
		pending:         make(map[database.KeyImage]struct{}),
		pendingMultisig: make(map[outputKey]struct{}),
	}
}

// spend records the inputs of a transaction accepted into the block.
func (v mainView) spend(tx database.Transaction) {
	for _, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			v.pending[in.Key.KeyImage] = struct{}{}
		case database.InputMultisig:
			v.pendingMultisig[outputKey{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}] = struct{}{}
		}
	}
}

func (v mainView) Height() uint32 {
	return uint32(len(v.c.blocks))
}

func (v mainView) Now() uint64 {
	return uint64(v.c.now().Unix())
}

func (v mainView) KeyOutput(amount uint64, globalIndex uint32) (validator.KeyOutputRef, bool) {
	outs := v.c.keyOutputs[amount]
	if int(globalIndex) >= len(outs) {
		return validator.KeyOutputRef{}, false
	}
	return outs[globalIndex].ref, true
}

func (v mainView) MultisigOutput(amount uint64, globalIndex uint32) (validator.MultisigOutputRef, bool) {
	outs := v.c.msOutputs[amount]
	if int(globalIndex) >= len(outs) {
		return validator.MultisigOutputRef{}, false
	}

	ref := outs[globalIndex].ref
	if _, exists := v.pendingMultisig[outputKey{amount: amount, index: globalIndex}]; exists {
		ref.Spent = true
	}
	return ref, true
}

func (v mainView) IsKeyImageSpent(image database.KeyImage) bool {
	if _, exists := v.c.spentKeys[image]; exists {
		return true
	}
	_, exists := v.pending[image]
	return exists
}

// =============================================================================

// CheckTransactionInputs checks the inputs of a transaction against the
// current main chain. It returns the highest block holding a referenced
// output.
func (c *Chain) CheckTransactionInputs(tx database.Transaction) (uint32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validator.CheckInputs(tx, mainView{c: c})
}

// IsKeyImageSpent reports if a transaction of the main chain spent the key
// image.
func (c *Chain) IsKeyImageSpent(image database.KeyImage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.spentKeys[image]
	return exists
}

// GlobalOutputIndexes returns the global index of every output of a
// confirmed transaction, in output order.
func (c *Chain) GlobalOutputIndexes(txHash database.Hash) ([]uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ref, exists := c.txIndex[txHash]
	if !exists {
		return nil, false
	}

	tx := c.blocks[ref.height].block.BaseTransaction
	if ref.index > 0 {
		tx = c.blocks[ref.height].txs[ref.index-1]
	}

	indexes := make([]uint32, len(tx.Outputs))
	for i, out := range tx.Outputs {
		switch {
		case out.IsKey():
			indexes[i] = findOutput(c.keyOutputs[out.Amount], txHash, i)
		case out.IsMultisig():
			indexes[i] = findOutput(c.msOutputs[out.Amount], txHash, i)
		}
	}

	return indexes, true
}

// findOutput searches the amount list from the end since lookups are mostly
// about recent transactions.
func findOutput[T interface{ at() location }](outs []T, txHash database.Hash, index int) uint32 {
	want := location{txHash: txHash, index: index}
	for i := len(outs) - 1; i >= 0; i-- {
		if outs[i].at() == want {
			return uint32(i)
		}
	}
	return 0
}
