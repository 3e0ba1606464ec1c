// Package chain maintains the main chain of blocks along with the pool of
// alternative branches. It owns fork choice and reorganization and keeps
// the in memory indices the validation rules are checked against.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
	"go.uber.org/multierr"
)

// Set of errors produced by the chain.
var (
	ErrInternal         = errors.New("internal chain error")
	ErrGenesisMismatch  = errors.New("stored genesis block does not match the network")
	ErrCorruptedStorage = errors.New("stored chain is not consistent")
	ErrUnknownParent    = errors.New("previous block is unknown")
	ErrTxNotFound       = errors.New("block transaction not found")
	ErrDuplicateTx      = errors.New("transaction already in the chain")
	ErrBlockVersion     = errors.New("wrong block version")
	ErrCheckpoint       = errors.New("block hash does not match the checkpoint")
	ErrProofOfWork      = errors.New("proof of work too weak")
	ErrTimestamp        = errors.New("block timestamp out of range")
	ErrBlockSize        = errors.New("block cumulative size too big")
	ErrAltNotAllowed    = errors.New("alternative block below the last checkpoint")
)

// Limits on the memory used by blocks off the main chain.
const (
	AltBlocksPruneDepth = 720
	InvalidBlocksLimit  = 10_000
)

// EventHandler defines a function that is called when events occur in the
// processing of blocks.
type EventHandler func(v string, args ...any)

// Pool is the source of the transactions referenced by incoming blocks.
// Transactions of blocks leaving the main chain are returned to it, and
// RemoveInvalid drops what the shorter chain no longer accepts. The check
// runs with the chain lock held.
type Pool interface {
	Get(hash database.Hash) (database.Transaction, bool)
	Take(hash database.Hash) (database.Transaction, bool)
	AddKept(tx database.Transaction) bool
	RemoveInvalid(check func(tx database.Transaction) error) []database.Hash
}

// =============================================================================

// BlockVerification is the outcome of submitting a block.
type BlockVerification struct {
	AddedToMainChain   bool
	AddedToAltChain    bool
	MarkedAsOrphaned   bool
	AlreadyExists          bool
	VerificationFailed     bool
	VerificationImpossible bool
	SwitchedToAltChain     bool
	Reason                 error
}

// String returns a short form of the outcome for logging.
func (bv BlockVerification) String() string {
	switch {
	case bv.VerificationFailed:
		return fmt.Sprintf("failed: %v", bv.Reason)
	case bv.VerificationImpossible:
		return fmt.Sprintf("impossible: %v", bv.Reason)
	case bv.MarkedAsOrphaned:
		return "orphaned"
	case bv.AlreadyExists:
		return "already exists"
	case bv.SwitchedToAltChain:
		return "switched to alternative chain"
	case bv.AddedToMainChain:
		return "added to main chain"
	case bv.AddedToAltChain:
		return "added to alternative chain"
	}
	return "ignored"
}

// failed builds the outcome of a block that broke a rule.
func failed(err error) BlockVerification {
	return BlockVerification{VerificationFailed: true, Reason: err}
}

// =============================================================================

// entry is a block along with everything derived when it was accepted.
type entry struct {
	hash                  database.Hash
	height                uint32
	block                 database.Block
	txs                   []database.Transaction
	blockSize             uint64
	difficulty            uint64
	cumulativeDifficulty  uint64
	alreadyGeneratedCoins uint64
}

func (e *entry) blockData() database.BlockData {
	return database.BlockData{
		Height:                uint64(e.height),
		Hash:                  e.hash,
		Block:                 e.block,
		Transactions:          e.txs,
		BlockSize:             e.blockSize,
		CumulativeDifficulty:  e.cumulativeDifficulty,
		AlreadyGeneratedCoins: e.alreadyGeneratedCoins,
	}
}

// txRef locates a confirmed transaction. Index 0 is the coinbase.
type txRef struct {
	height uint32
	index  int
}

// location identifies an output by its transaction and position.
type location struct {
	txHash database.Hash
	index  int
}

func (l location) at() location { return l }

type keyOutput struct {
	location
	ref validator.KeyOutputRef
}

type multisigOutput struct {
	location
	ref validator.MultisigOutputRef
}

// =============================================================================

// Config represents the configuration required to construct the chain.
type Config struct {
	Currency  *currency.Currency
	Validator *validator.Validator
	Storage   database.Storage
	Now       func() time.Time
	EvHandler EventHandler
}

// Chain manages the main chain and the alternative branches.
type Chain struct {
	mu        sync.RWMutex
	currency  *currency.Currency
	validator *validator.Validator
	storage   database.Storage
	now       func() time.Time
	evHandler EventHandler

	blocks      []*entry
	blockIndex  map[database.Hash]uint32
	txIndex     map[database.Hash]txRef
	spentKeys   map[database.KeyImage]uint32
	keyOutputs  map[uint64][]keyOutput
	msOutputs   map[uint64][]multisigOutput
	timestamps  map[uint64][]database.Hash
	paymentIDs  map[database.Hash][]database.Hash
	generatedTx []uint64

	alternatives map[database.Hash]*entry
	orphans      map[uint32][]database.Hash
	invalid      map[database.Hash]struct{}
	invalidOrder []database.Hash
	checkpoints  map[uint32]database.Hash
}

// New constructs the chain and rebuilds the indices from the storage. An
// empty storage is initialized with the genesis block.
func New(cfg Config) (*Chain, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	val := cfg.Validator
	if val == nil {
		return nil, errors.New("chain: a validator is required")
	}

	c := Chain{
		currency:     cfg.Currency,
		validator:    val,
		storage:      cfg.Storage,
		now:          now,
		evHandler:    ev,
		blockIndex:   make(map[database.Hash]uint32),
		txIndex:      make(map[database.Hash]txRef),
		spentKeys:    make(map[database.KeyImage]uint32),
		keyOutputs:   make(map[uint64][]keyOutput),
		msOutputs:    make(map[uint64][]multisigOutput),
		timestamps:   make(map[uint64][]database.Hash),
		paymentIDs:   make(map[database.Hash][]database.Hash),
		alternatives: make(map[database.Hash]*entry),
		orphans:      make(map[uint32][]database.Hash),
		invalid:      make(map[database.Hash]struct{}),
		checkpoints:  make(map[uint32]database.Hash),
	}

	for _, cp := range c.currency.Checkpoints() {
		c.checkpoints[cp.Height] = cp.Hash
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Close releases the storage.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.storage != nil {
		err = multierr.Append(err, c.storage.Close())
	}
	return err
}

// load replays the stored blocks into the indices.
func (c *Chain) load() error {
	iter := c.storage.ForEach()
	for !iter.Done() {
		bd, err := iter.Next()
		if err != nil {
			if errors.Is(err, database.ErrEndOfChain) {
				break
			}
			return fmt.Errorf("chain: load: %w", err)
		}

		e, err := c.entryFromStorage(bd)
		if err != nil {
			return err
		}
		c.apply(e)
	}

	if len(c.blocks) > 0 {
		c.evHandler("chain: load: replayed %d blocks: tail[%s]", len(c.blocks), c.tail().hash)
		return nil
	}

	c.evHandler("chain: load: storage is empty, writing the genesis block")

	genesis := c.genesisEntry()
	if err := c.storage.Write(genesis.blockData()); err != nil {
		return fmt.Errorf("chain: load: writing genesis: %w", err)
	}
	c.apply(genesis)

	return nil
}

// entryFromStorage checks a stored block links to the chain loaded so far.
func (c *Chain) entryFromStorage(bd database.BlockData) (*entry, error) {
	height := uint32(len(c.blocks))

	switch {
	case bd.Height != uint64(height):
		return nil, fmt.Errorf("%w: found height %d, expected %d", ErrCorruptedStorage, bd.Height, height)
	case bd.Block.Hash() != bd.Hash:
		return nil, fmt.Errorf("%w: block %d hash mismatch", ErrCorruptedStorage, height)
	case height == 0 && bd.Hash != c.currency.GenesisHash():
		return nil, fmt.Errorf("%w: stored %s, network %s", ErrGenesisMismatch, bd.Hash, c.currency.GenesisHash())
	case height > 0 && bd.Block.PreviousBlockHash != c.tail().hash:
		return nil, fmt.Errorf("%w: block %d does not link to its parent", ErrCorruptedStorage, height)
	}

	var difficulty uint64
	if height > 0 {
		difficulty = bd.CumulativeDifficulty - c.tail().cumulativeDifficulty
	}

	e := entry{
		hash:                  bd.Hash,
		height:                height,
		block:                 bd.Block,
		txs:                   bd.Transactions,
		blockSize:             bd.BlockSize,
		difficulty:            difficulty,
		cumulativeDifficulty:  bd.CumulativeDifficulty,
		alreadyGeneratedCoins: bd.AlreadyGeneratedCoins,
	}

	return &e, nil
}

// genesisEntry builds the entry of the genesis block of the network.
func (c *Chain) genesisEntry() *entry {
	block := c.currency.GenesisBlock()
	generated, _ := block.BaseTransaction.OutputsAmount()

	e := entry{
		hash:                  c.currency.GenesisHash(),
		height:                0,
		block:                 block,
		blockSize:             block.BaseTransaction.BlobSize(),
		difficulty:            1,
		cumulativeDifficulty:  1,
		alreadyGeneratedCoins: generated,
	}

	return &e
}

// =============================================================================

// tail returns the last block of the main chain.
func (c *Chain) tail() *entry {
	return c.blocks[len(c.blocks)-1]
}

// apply adds the entry on top of the main chain and updates every index.
func (c *Chain) apply(e *entry) {
	c.blocks = append(c.blocks, e)
	c.blockIndex[e.hash] = e.height

	c.applyTx(e, e.block.BaseTransaction, 0)
	for i, tx := range e.txs {
		c.applyTx(e, tx, i+1)
	}

	ts := e.block.Timestamp
	c.timestamps[ts] = append(c.timestamps[ts], e.hash)

	var total uint64
	if n := len(c.generatedTx); n > 0 {
		total = c.generatedTx[n-1]
	}
	c.generatedTx = append(c.generatedTx, total+uint64(len(e.txs))+1)
}

// applyTx indexes the transaction and its outputs and marks its inputs spent.
func (c *Chain) applyTx(e *entry, tx database.Transaction, index int) {
	hash := tx.Hash()
	c.txIndex[hash] = txRef{height: e.height, index: index}

	for _, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			c.spentKeys[in.Key.KeyImage] = e.height
		case database.InputMultisig:
			if outs := c.msOutputs[in.Multisig.Amount]; int(in.Multisig.OutputIndex) < len(outs) {
				outs[in.Multisig.OutputIndex].ref.Spent = true
			}
		}
	}

	for i, out := range tx.Outputs {
		switch {
		case out.IsKey():
			c.keyOutputs[out.Amount] = append(c.keyOutputs[out.Amount], keyOutput{
				location: location{txHash: hash, index: i},
				ref: validator.KeyOutputRef{
					Key:        out.Target.Key.Key,
					UnlockTime: tx.UnlockTime,
					Height:     e.height,
				},
			})
		case out.IsMultisig():
			c.msOutputs[out.Amount] = append(c.msOutputs[out.Amount], multisigOutput{
				location: location{txHash: hash, index: i},
				ref: validator.MultisigOutputRef{
					Output:     *out.Target.Multisig,
					UnlockTime: tx.UnlockTime,
					Height:     e.height,
				},
			})
		}
	}

	if id, ok := tx.PaymentID(); ok {
		c.paymentIDs[id] = append(c.paymentIDs[id], hash)
	}
}

// unapply removes the tail entry from the main chain and every index.
func (c *Chain) unapply() *entry {
	e := c.tail()

	for i := len(e.txs) - 1; i >= 0; i-- {
		c.unapplyTx(e.txs[i])
	}
	c.unapplyTx(e.block.BaseTransaction)

	ts := e.block.Timestamp
	c.timestamps[ts] = removeHash(c.timestamps[ts], e.hash)
	if len(c.timestamps[ts]) == 0 {
		delete(c.timestamps, ts)
	}

	delete(c.blockIndex, e.hash)
	c.blocks = c.blocks[:len(c.blocks)-1]
	c.generatedTx = c.generatedTx[:len(c.generatedTx)-1]

	return e
}

// unapplyTx reverses applyTx. Outputs are removed from the end of their
// amount lists since the transaction was the last one to add them.
func (c *Chain) unapplyTx(tx database.Transaction) {
	hash := tx.Hash()

	for i := len(tx.Outputs) - 1; i >= 0; i-- {
		out := tx.Outputs[i]
		switch {
		case out.IsKey():
			outs := c.keyOutputs[out.Amount]
			if n := len(outs); n > 0 && outs[n-1].txHash == hash {
				c.keyOutputs[out.Amount] = outs[:n-1]
			}
			if len(c.keyOutputs[out.Amount]) == 0 {
				delete(c.keyOutputs, out.Amount)
			}
		case out.IsMultisig():
			outs := c.msOutputs[out.Amount]
			if n := len(outs); n > 0 && outs[n-1].txHash == hash {
				c.msOutputs[out.Amount] = outs[:n-1]
			}
			if len(c.msOutputs[out.Amount]) == 0 {
				delete(c.msOutputs, out.Amount)
			}
		}
	}

	for _, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			delete(c.spentKeys, in.Key.KeyImage)
		case database.InputMultisig:
			if outs := c.msOutputs[in.Multisig.Amount]; int(in.Multisig.OutputIndex) < len(outs) {
				outs[in.Multisig.OutputIndex].ref.Spent = false
			}
		}
	}

	if id, ok := tx.PaymentID(); ok {
		c.paymentIDs[id] = removeHash(c.paymentIDs[id], hash)
		if len(c.paymentIDs[id]) == 0 {
			delete(c.paymentIDs, id)
		}
	}

	delete(c.txIndex, hash)
}

// removeHash removes the last occurrence of the hash from the list.
func removeHash(hashes []database.Hash, hash database.Hash) []database.Hash {
	for i := len(hashes) - 1; i >= 0; i-- {
		if hashes[i] == hash {
			return append(hashes[:i], hashes[i+1:]...)
		}
	}
	return hashes
}
