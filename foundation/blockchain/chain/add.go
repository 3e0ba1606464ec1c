package chain

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
	"go.uber.org/multierr"
)

// AddNewBlock validates the block and adds it to the main chain or to an
// alternative branch, reorganizing when an alternative branch becomes the
// heaviest. Referenced transactions are resolved from the pool and leave it
// once the block is part of the main chain. A non nil error means the
// storage failed and nothing was applied.
func (c *Chain) AddNewBlock(block database.Block, pool Pool) (BlockVerification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := block.Hash()

	if c.haveBlock(hash) {
		c.evHandler("chain: AddNewBlock: block[%s]: already exists", hash)
		return BlockVerification{AlreadyExists: true}, nil
	}

	if block.PreviousBlockHash != c.tail().hash {
		return c.handleAlternative(hash, block, pool)
	}

	txs, err := c.resolve(block, pool)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			c.evHandler("chain: AddNewBlock: block[%s]: WARNING: %s", hash, err)
			return BlockVerification{VerificationImpossible: true, Reason: err}, nil
		}
		c.evHandler("chain: AddNewBlock: block[%s]: ERROR: %s", hash, err)
		c.markInvalid(hash)
		return failed(err), nil
	}

	e, err := c.pushBlock(hash, block, txs)
	if err != nil {
		if errors.As(err, new(*ruleError)) {
			c.evHandler("chain: AddNewBlock: block[%s]: ERROR: %s", hash, err)
			c.markInvalid(hash)
			return failed(err), nil
		}
		return BlockVerification{}, err
	}

	for _, tx := range e.txs {
		pool.Take(tx.Hash())
	}
	c.pruneAlternatives()

	c.evHandler("chain: AddNewBlock: block[%s]: height[%d]: added to main chain", hash, e.height)

	return BlockVerification{AddedToMainChain: true}, nil
}

// =============================================================================

// ruleError marks errors caused by the block breaking a consensus rule, as
// opposed to the storage failing.
type ruleError struct {
	err error
}

func (re *ruleError) Error() string { return re.err.Error() }
func (re *ruleError) Unwrap() error { return re.err }

func ruleErrorf(format string, args ...any) error {
	return &ruleError{err: fmt.Errorf(format, args...)}
}

// resolve collects the transactions the block references from the pool.
// Transactions confirmed by main chain blocks above an alternative branch
// point are found in the chain.
func (c *Chain) resolve(block database.Block, pool Pool) ([]database.Transaction, error) {
	txs := make([]database.Transaction, 0, len(block.TransactionHashes))
	seen := make(map[database.Hash]struct{}, len(block.TransactionHashes))

	for _, hash := range block.TransactionHashes {
		if _, exists := seen[hash]; exists {
			return nil, fmt.Errorf("%w: %s listed twice", ErrDuplicateTx, hash)
		}
		seen[hash] = struct{}{}

		if tx, ok := pool.Get(hash); ok {
			txs = append(txs, tx)
			continue
		}
		if tx, ok := c.transaction(hash); ok {
			txs = append(txs, tx)
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
	}

	return txs, nil
}

// pushBlock validates the block against the main chain tail and appends it.
// Consensus failures are returned as ruleError values, any other error
// comes from the storage. Nothing is applied when an error is returned.
func (c *Chain) pushBlock(hash database.Hash, block database.Block, txs []database.Transaction) (*entry, error) {
	parent := c.tail()
	height := parent.height + 1
	cur := c.currency

	if want := cur.BlockMajorVersion(height); block.MajorVersion != want {
		return nil, ruleErrorf("%w: major version %d, expected %d", ErrBlockVersion, block.MajorVersion, want)
	}

	if cp, exists := c.checkpoints[height]; exists && cp != hash {
		return nil, ruleErrorf("%w: height %d", ErrCheckpoint, height)
	}

	if err := c.checkTimestamp(block, parent); err != nil {
		return nil, &ruleError{err: err}
	}

	difficulty := c.nextDifficulty(parent)
	if difficulty == 0 {
		return nil, ruleErrorf("%w: difficulty overflow at height %d", ErrProofOfWork, height)
	}
	if !c.inCheckpointZone(height) && !cur.CheckProofOfWork(block, difficulty) {
		return nil, ruleErrorf("%w: difficulty %d", ErrProofOfWork, difficulty)
	}

	if err := cur.PrevalidateMinerTx(block.BaseTransaction, height); err != nil {
		return nil, &ruleError{err: err}
	}

	// Every transaction is checked against the chain as it is plus the
	// inputs spent by the transactions before it in the block.
	view := newBlockView(c)
	blockSize := block.BaseTransaction.BlobSize()
	var fees uint64

	for _, tx := range txs {
		txHash := tx.Hash()
		if _, exists := c.txIndex[txHash]; exists {
			return nil, ruleErrorf("%w: %s", ErrDuplicateTx, txHash)
		}

		if err := c.validator.CheckSyntax(tx); err != nil {
			return nil, ruleErrorf("tx[%s]: %w", txHash, err)
		}
		if _, err := c.validator.CheckSemantics(tx, true, height); err != nil {
			return nil, ruleErrorf("tx[%s]: %w", txHash, err)
		}
		if _, err := c.validator.CheckInputs(tx, view); err != nil {
			return nil, ruleErrorf("tx[%s]: %w", txHash, err)
		}

		fee, ok := cur.TransactionFee(tx, height)
		if !ok {
			return nil, ruleErrorf("tx[%s]: %w", txHash, validator.ErrInputsBelowOutputs)
		}
		fees += fee
		blockSize += tx.BlobSize()

		view.spend(tx)
	}

	if limit := cur.MaxBlockCumulativeSize(uint64(height)); blockSize > limit {
		return nil, ruleErrorf("%w: %d bytes, limit %d", ErrBlockSize, blockSize, limit)
	}

	reward, emissionChange, err := cur.ValidateMinerTxReward(block.BaseTransaction, height, c.effectiveMedian(parent), blockSize, parent.alreadyGeneratedCoins, fees)
	if err != nil {
		return nil, &ruleError{err: err}
	}

	e := entry{
		hash:                  hash,
		height:                height,
		block:                 block,
		txs:                   txs,
		blockSize:             blockSize,
		difficulty:            difficulty,
		cumulativeDifficulty:  parent.cumulativeDifficulty + difficulty,
		alreadyGeneratedCoins: uint64(int64(parent.alreadyGeneratedCoins) + emissionChange),
	}

	if err := c.storage.Write(e.blockData()); err != nil {
		return nil, fmt.Errorf("chain: storage write height %d: %w", height, err)
	}
	c.apply(&e)

	c.evHandler("chain: pushBlock: height[%d]: block[%s]: diff[%d]: reward[%d]: txs[%d]", height, hash, difficulty, reward, len(txs))

	return &e, nil
}

// popBlock removes the tail of the main chain and returns it.
func (c *Chain) popBlock() (*entry, error) {
	if len(c.blocks) <= 1 {
		return nil, fmt.Errorf("%w: popping the genesis block", ErrInternal)
	}

	if err := c.storage.Truncate(uint64(c.tail().height)); err != nil {
		return nil, fmt.Errorf("chain: storage truncate: %w", err)
	}

	return c.unapply(), nil
}

// checkTimestamp checks the block is not too far in the future and not
// older than the median of the blocks before it.
func (c *Chain) checkTimestamp(block database.Block, parent *entry) error {
	limit := uint64(c.now().Unix()) + c.currency.BlockFutureTimeLimit
	if block.Timestamp > limit {
		return fmt.Errorf("%w: %d is after %d", ErrTimestamp, block.Timestamp, limit)
	}

	if m := c.medianTimestamp(parent); block.Timestamp < m {
		return fmt.Errorf("%w: %d is before the median %d", ErrTimestamp, block.Timestamp, m)
	}

	return nil
}

// =============================================================================

// handleAlternative stores a block that doesn't extend the main chain and
// switches to its branch when the branch becomes the heaviest.
func (c *Chain) handleAlternative(hash database.Hash, block database.Block, pool Pool) (BlockVerification, error) {
	parent, exists := c.alternatives[block.PreviousBlockHash]
	if !exists {
		idx, onMain := c.blockIndex[block.PreviousBlockHash]
		if !onMain {
			c.evHandler("chain: handleAlternative: block[%s]: WARNING: orphaned, parent[%s] unknown", hash, block.PreviousBlockHash)
			return BlockVerification{MarkedAsOrphaned: true, Reason: ErrUnknownParent}, nil
		}
		parent = c.blocks[idx]
	}

	height := parent.height + 1
	cur := c.currency

	if !c.altAllowed(height) {
		c.evHandler("chain: handleAlternative: block[%s]: height[%d]: ERROR: below the checkpoint zone", hash, height)
		c.markInvalid(hash)
		return failed(fmt.Errorf("%w: height %d", ErrAltNotAllowed, height)), nil
	}

	rejected := func(err error) (BlockVerification, error) {
		c.evHandler("chain: handleAlternative: block[%s]: height[%d]: ERROR: %s", hash, height, err)
		c.markInvalid(hash)
		return failed(err), nil
	}

	if want := cur.BlockMajorVersion(height); block.MajorVersion != want {
		return rejected(fmt.Errorf("%w: major version %d, expected %d", ErrBlockVersion, block.MajorVersion, want))
	}
	if cp, exists := c.checkpoints[height]; exists && cp != hash {
		return rejected(fmt.Errorf("%w: height %d", ErrCheckpoint, height))
	}
	if err := c.checkTimestamp(block, parent); err != nil {
		return rejected(err)
	}

	difficulty := c.nextDifficulty(parent)
	if difficulty == 0 {
		return rejected(fmt.Errorf("%w: difficulty overflow at height %d", ErrProofOfWork, height))
	}
	if !c.inCheckpointZone(height) && !cur.CheckProofOfWork(block, difficulty) {
		return rejected(fmt.Errorf("%w: difficulty %d", ErrProofOfWork, difficulty))
	}
	if err := cur.PrevalidateMinerTx(block.BaseTransaction, height); err != nil {
		return rejected(err)
	}

	// A missing transaction may still arrive, the block is not remembered
	// as invalid and the sender is not blamed.
	txs, err := c.resolve(block, pool)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			c.evHandler("chain: handleAlternative: block[%s]: WARNING: %s", hash, err)
			return BlockVerification{VerificationImpossible: true, Reason: err}, nil
		}
		return rejected(err)
	}

	blockSize := block.BaseTransaction.BlobSize()
	var fees uint64
	for _, tx := range txs {
		fee, ok := cur.TransactionFee(tx, height)
		if !ok {
			return rejected(fmt.Errorf("tx[%s]: %w", tx.Hash(), validator.ErrInputsBelowOutputs))
		}
		fees += fee
		blockSize += tx.BlobSize()
	}

	_, emissionChange, err := cur.ValidateMinerTxReward(block.BaseTransaction, height, c.effectiveMedian(parent), blockSize, parent.alreadyGeneratedCoins, fees)
	if err != nil {
		return rejected(err)
	}

	e := entry{
		hash:                  hash,
		height:                height,
		block:                 block,
		txs:                   txs,
		blockSize:             blockSize,
		difficulty:            difficulty,
		cumulativeDifficulty:  parent.cumulativeDifficulty + difficulty,
		alreadyGeneratedCoins: uint64(int64(parent.alreadyGeneratedCoins) + emissionChange),
	}
	c.addAlternative(&e)

	c.evHandler("chain: handleAlternative: block[%s]: height[%d]: cumDiff[%d]: added to alternative chain", hash, height, e.cumulativeDifficulty)

	// The first branch seen keeps the main chain on a tie.
	if e.cumulativeDifficulty <= c.tail().cumulativeDifficulty {
		return BlockVerification{AddedToAltChain: true}, nil
	}

	branch := c.branch(&e)
	bv, err := c.switchTo(branch, pool)
	if err != nil {
		return BlockVerification{}, err
	}
	return bv, nil
}

// branch returns the alternative blocks from the split point up to the
// entry, oldest first.
func (c *Chain) branch(last *entry) []*entry {
	var branch []*entry
	for e := last; e != nil; e = c.alternatives[e.block.PreviousBlockHash] {
		branch = append(branch, e)
	}
	slices.Reverse(branch)
	return branch
}

// switchTo makes the branch the main chain. The main blocks above the split
// point become alternatives and their transactions return to the pool. If
// a block of the branch fails validation the main chain is restored and
// the failing block along with its descendants is marked invalid.
func (c *Chain) switchTo(branch []*entry, pool Pool) (BlockVerification, error) {
	splitHash := branch[0].block.PreviousBlockHash
	splitHeight, onMain := c.blockIndex[splitHash]
	if !onMain {
		return BlockVerification{}, fmt.Errorf("%w: split point %s is not on the main chain", ErrInternal, splitHash)
	}

	c.evHandler("chain: switchTo: started: split[%d]: main[%d]: branch[%d]", splitHeight, c.tail().height, len(branch))

	var disconnected []*entry
	for c.tail().height > splitHeight {
		e, err := c.popBlock()
		if err != nil {
			return BlockVerification{}, err
		}
		disconnected = append(disconnected, e)
	}
	slices.Reverse(disconnected)

	for i, alt := range branch {
		e, err := c.pushBlock(alt.hash, alt.block, alt.txs)
		if err == nil {
			branch[i] = e
			continue
		}

		if rerr := c.restore(splitHeight, disconnected); rerr != nil {
			return BlockVerification{}, multierr.Combine(err, rerr)
		}

		var re *ruleError
		if !errors.As(err, &re) {
			return BlockVerification{}, err
		}

		for _, bad := range branch[i:] {
			c.removeAlternative(bad.hash)
			c.markInvalid(bad.hash)
		}
		c.evHandler("chain: switchTo: block[%s]: ERROR: %s: main chain restored", alt.hash, err)

		return failed(err), nil
	}

	// The branch is the main chain now.
	for _, e := range branch {
		c.removeAlternative(e.hash)
		for _, tx := range e.txs {
			pool.Take(tx.Hash())
		}
	}

	for _, e := range disconnected {
		c.addAlternative(e)
		for _, tx := range e.txs {
			if _, confirmed := c.txIndex[tx.Hash()]; confirmed {
				continue
			}
			if !pool.AddKept(tx) {
				c.evHandler("chain: switchTo: tx[%s]: WARNING: not returned to the pool", tx.Hash())
			}
		}
	}

	c.pruneAlternatives()
	c.revalidatePool(pool)

	c.evHandler("chain: switchTo: completed: tail[%s]: height[%d]", c.tail().hash, c.tail().height)

	return BlockVerification{AddedToMainChain: true, SwitchedToAltChain: true}, nil
}

// restore pops everything above the split height and pushes the
// disconnected blocks back.
func (c *Chain) restore(splitHeight uint32, disconnected []*entry) error {
	for c.tail().height > splitHeight {
		if _, err := c.popBlock(); err != nil {
			return err
		}
	}

	for _, e := range disconnected {
		if err := c.storage.Write(e.blockData()); err != nil {
			return fmt.Errorf("chain: restore height %d: %w", e.height, err)
		}
		c.apply(e)
	}

	return nil
}

// revalidatePool drops the pool transactions the main chain no longer
// accepts after it lost blocks.
func (c *Chain) revalidatePool(pool Pool) {
	view := mainView{c: c}

	dropped := pool.RemoveInvalid(func(tx database.Transaction) error {
		if _, confirmed := c.txIndex[tx.Hash()]; confirmed {
			return ErrDuplicateTx
		}
		_, err := c.validator.CheckInputs(tx, view)
		return err
	})

	for _, hash := range dropped {
		c.evHandler("chain: revalidatePool: tx[%s]: removed from the pool", hash)
	}
}

// =============================================================================

// addAlternative stores the entry in the alternative pool.
func (c *Chain) addAlternative(e *entry) {
	c.alternatives[e.hash] = e
	c.orphans[e.height] = append(c.orphans[e.height], e.hash)
}

// removeAlternative drops the entry from the alternative pool.
func (c *Chain) removeAlternative(hash database.Hash) {
	e, exists := c.alternatives[hash]
	if !exists {
		return
	}

	delete(c.alternatives, hash)
	c.orphans[e.height] = removeHash(c.orphans[e.height], hash)
	if len(c.orphans[e.height]) == 0 {
		delete(c.orphans, e.height)
	}
}

// pruneAlternatives drops alternative blocks too deep below the tail to
// ever become part of the main chain.
func (c *Chain) pruneAlternatives() {
	height := c.tail().height
	if height < AltBlocksPruneDepth {
		return
	}

	floor := height - AltBlocksPruneDepth
	for hash, e := range c.alternatives {
		if e.height < floor {
			c.removeAlternative(hash)
		}
	}
}

// markInvalid remembers the block failed validation. The oldest entries are
// forgotten once the set is full.
func (c *Chain) markInvalid(hash database.Hash) {
	if _, exists := c.invalid[hash]; exists {
		return
	}

	if len(c.invalidOrder) >= InvalidBlocksLimit {
		delete(c.invalid, c.invalidOrder[0])
		c.invalidOrder = c.invalidOrder[1:]
	}

	c.invalid[hash] = struct{}{}
	c.invalidOrder = append(c.invalidOrder, hash)
}
