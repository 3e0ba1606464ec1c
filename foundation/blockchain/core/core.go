// Package core is the entry point to the blockchain. Peers, the RPC surface
// and the miner submit blocks and transactions through it and it keeps the
// chain and the pool consistent with each other.
package core

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/mempool"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
	"go.uber.org/multierr"
)

// EventHandler defines a function that is called when events occur in the
// processing of blocks and transactions.
type EventHandler func(v string, args ...any)

// ChainEvent describes a change of the main chain.
type ChainEvent struct {
	Height             uint32        `json:"height"`
	TailID             database.Hash `json:"tail_id"`
	SwitchedToAltChain bool          `json:"switched_to_alt_chain"`
}

// Observer is notified after the chain or the pool changed. Observers are
// called without any lock held and may call back into the core.
type Observer interface {
	BlockchainUpdated(ev ChainEvent)
	PoolUpdated()
}

// Miner represents the behavior the core needs from the local miner. Pause
// returns once the miner stopped hashing and resume starts it again on a
// fresh template.
type Miner interface {
	Pause() (resume func())
}

// Relay represents the behavior required to hand objects accepted by the
// core over to the peers.
type Relay interface {
	RelayBlock(block database.Block, txs []database.Transaction)
	RelayTransactions(txs []database.Transaction)
	RequestPoolSync()
}

// =============================================================================

// Config represents the configuration required to start the core.
type Config struct {
	Currency       *currency.Currency
	Crypto         signature.Crypto
	Storage        database.Storage
	SelectStrategy string
	Now            func() time.Time
	EvHandler      EventHandler
}

// Core manages the chain and the pool as one unit.
type Core struct {
	mu        sync.Mutex
	currency  *currency.Currency
	validator *validator.Validator
	chain     *chain.Chain
	pool      *mempool.Mempool
	now       func() time.Time
	evHandler EventHandler

	extMu     sync.RWMutex
	observers []Observer
	miner     Miner
	relay     Relay
}

// New constructs the core, loading the chain from the storage.
func New(cfg Config) (*Core, error) {
	if cfg.Currency == nil {
		return nil, errors.New("core: a currency is required")
	}

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

	crypto := cfg.Crypto
	if crypto == nil {
		crypto = signature.Default
	}
	val := validator.New(cfg.Currency, crypto)

	// Load the chain from storage, replaying every block to rebuild the
	// indices.
	ch, err := chain.New(chain.Config{
		Currency:  cfg.Currency,
		Validator: val,
		Storage:   cfg.Storage,
		Now:       now,
		EvHandler: chain.EventHandler(ev),
	})
	if err != nil {
		return nil, err
	}

	// Construct a pool with the specified select strategy, checking inputs
	// against the chain.
	pool, err := mempool.New(mempool.Config{
		Currency:       cfg.Currency,
		Validator:      val,
		Checker:        ch,
		SelectStrategy: cfg.SelectStrategy,
		Now:            now,
		EvHandler:      mempool.EventHandler(ev),
	})
	if err != nil {
		return nil, multierr.Append(err, ch.Close())
	}

	c := Core{
		currency:  cfg.Currency,
		validator: val,
		chain:     ch,
		pool:      pool,
		now:       now,
		evHandler: ev,
	}

	return &c, nil
}

// Close releases the chain storage.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.chain.Close()
}

// Currency returns the rules the core enforces.
func (c *Core) Currency() *currency.Currency {
	return c.currency
}

// =============================================================================

// LockedStorage grants exclusive access to the chain and the pool until
// Unlock is called. Calling Unlock more than once is allowed so a deferred
// call can back up an early one.
type LockedStorage struct {
	core *Core
	once sync.Once
}

// LockStorage acquires the chain and pool for a read, decide and write
// sequence. The core methods acquire the same lock so they must not be
// called before Unlock.
func (c *Core) LockStorage() *LockedStorage {
	c.mu.Lock()
	return &LockedStorage{core: c}
}

// Chain returns the locked chain.
func (ls *LockedStorage) Chain() *chain.Chain {
	return ls.core.chain
}

// Pool returns the locked pool.
func (ls *LockedStorage) Pool() *mempool.Mempool {
	return ls.core.pool
}

// Unlock releases the lock.
func (ls *LockedStorage) Unlock() {
	ls.once.Do(ls.core.mu.Unlock)
}

// =============================================================================

// AddObserver registers the observer for chain and pool notifications.
func (c *Core) AddObserver(o Observer) bool {
	c.extMu.Lock()
	defer c.extMu.Unlock()

	if slices.Contains(c.observers, o) {
		return false
	}
	c.observers = append(c.observers, o)
	return true
}

// RemoveObserver unregisters the observer.
func (c *Core) RemoveObserver(o Observer) bool {
	c.extMu.Lock()
	defer c.extMu.Unlock()

	i := slices.Index(c.observers, o)
	if i < 0 {
		return false
	}
	c.observers = slices.Delete(c.observers, i, i+1)
	return true
}

// SetMiner sets the miner paused around chain changes.
func (c *Core) SetMiner(m Miner) {
	c.extMu.Lock()
	defer c.extMu.Unlock()

	c.miner = m
}

// SetRelay sets where accepted objects are relayed to.
func (c *Core) SetRelay(r Relay) {
	c.extMu.Lock()
	defer c.extMu.Unlock()

	c.relay = r
}

// PauseMiner pauses the miner, if one is set, until resume is called. It
// lets a caller hold the miner across several chain changes.
func (c *Core) PauseMiner() (resume func()) {
	_, miner, _ := c.snapshot()
	if miner == nil {
		return func() {}
	}
	return miner.Pause()
}

func (c *Core) snapshot() ([]Observer, Miner, Relay) {
	c.extMu.RLock()
	defer c.extMu.RUnlock()

	return slices.Clone(c.observers), c.miner, c.relay
}

func (c *Core) notifyBlockchainUpdated(ev ChainEvent) {
	observers, _, _ := c.snapshot()
	for _, o := range observers {
		o.BlockchainUpdated(ev)
	}
}

func (c *Core) notifyPoolUpdated() {
	observers, _, _ := c.snapshot()
	for _, o := range observers {
		o.PoolUpdated()
	}
}
