// Package miner searches for the nonce of block templates built by the core
// and hands the blocks it finds back to the core.
package miner

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// Set of errors returned by the miner.
var (
	ErrAlreadyMining  = errors.New("miner already running")
	ErrNotMining      = errors.New("miner not running")
	ErrInvalidAddress = errors.New("invalid miner address")
	ErrInvalidThreads = errors.New("invalid number of threads")
)

// DefaultRefreshInterval is how often the template is rebuilt when the pool
// changed since it was taken.
const DefaultRefreshInterval = 5 * time.Second

// checkInterval is the number of nonces tried between cancellation checks.
const checkInterval = 1 << 10

// EventHandler defines a function that is called when events occur in the
// processing of templates and found blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to start the miner.
type Config struct {
	Core            *core.Core
	ExtraNonce      []byte
	RefreshInterval time.Duration
	EvHandler       EventHandler
}

// Stats is a snapshot of the miner.
type Stats struct {
	Mining      bool                    `json:"mining"`
	Address     database.AccountAddress `json:"address"`
	Threads     int                     `json:"threads"`
	Hashes      uint64                  `json:"hashes"`
	BlocksFound uint64                  `json:"blocks_found"`
}

// round is one search over a template. Its workers stop when the round is
// cancelled.
type round struct {
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	won       atomic.Bool
	exhausted atomic.Int32
}

// stale reports if the round can't find a block anymore.
func (r *round) stale(threads int) bool {
	return r.exhausted.Load() == int32(threads)
}

// Miner manages the worker goroutines searching for blocks.
type Miner struct {
	core       *core.Core
	extraNonce []byte
	refresh    time.Duration
	evHandler  EventHandler

	mu      sync.Mutex
	address database.AccountAddress
	threads int
	running bool
	pauses  int
	current *round
	found   chan database.Block
	shut    chan struct{}
	ctrl    sync.WaitGroup

	hashes      atomic.Uint64
	blocksFound atomic.Uint64
	poolDirty   atomic.Bool
}

// New constructs a miner for the core. It doesn't mine until started.
func New(cfg Config) *Miner {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	return &Miner{
		core:       cfg.Core,
		extraNonce: cfg.ExtraNonce,
		refresh:    refresh,
		evHandler:  ev,
	}
}

// Start begins mining to the address with the number of worker goroutines.
func (m *Miner) Start(address database.AccountAddress, threads int) error {
	if !address.IsValid() {
		return ErrInvalidAddress
	}
	if threads <= 0 {
		return ErrInvalidThreads
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyMining
	}

	m.evHandler("miner: Start: address[%s]: threads[%d]", address, threads)

	m.address = address
	m.threads = threads
	m.running = true
	m.found = make(chan database.Block, 1)
	m.shut = make(chan struct{})

	m.ctrl.Add(1)
	go func() {
		defer m.ctrl.Done()
		m.control(m.found, m.shut)
	}()

	m.startRoundLocked()

	return nil
}

// Stop ends mining and waits for the worker goroutines.
func (m *Miner) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotMining
	}

	m.evHandler("miner: Stop: stopping")

	m.running = false
	m.stopRoundLocked()
	close(m.shut)
	m.mu.Unlock()

	m.ctrl.Wait()

	m.evHandler("miner: Stop: stopped")
	return nil
}

// IsMining reports if the miner was started.
func (m *Miner) IsMining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}

// Stats returns a snapshot of the miner.
func (m *Miner) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Mining:      m.running,
		Address:     m.address,
		Threads:     m.threads,
		Hashes:      m.hashes.Load(),
		BlocksFound: m.blocksFound.Load(),
	}
}

// =============================================================================
// These methods implement the core.Miner and core.Observer interfaces.

// Pause stops the workers and returns once none of them is hashing.
// Mining starts again on a fresh template after every pause was resumed.
func (m *Miner) Pause() (resume func()) {
	m.mu.Lock()
	m.pauses++
	m.stopRoundLocked()
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			m.pauses--
			m.startRoundLocked()
		})
	}
}

// BlockchainUpdated restarts the search on top of the new tail.
func (m *Miner) BlockchainUpdated(ev core.ChainEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.pauses > 0 {
		return
	}

	m.evHandler("miner: BlockchainUpdated: height[%d]: tail[%s]: new template", ev.Height, ev.TailID)

	m.stopRoundLocked()
	m.startRoundLocked()
}

// PoolUpdated marks the template as outdated. It is rebuilt on the next
// refresh so a burst of transactions costs a single rebuild.
func (m *Miner) PoolUpdated() {
	m.poolDirty.Store(true)
}

// =============================================================================

// control submits the blocks found by the workers and refreshes the
// template on a timer.
func (m *Miner) control(found <-chan database.Block, shut <-chan struct{}) {
	m.evHandler("miner: control: G started")
	defer m.evHandler("miner: control: G completed")

	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case block := <-found:
			m.submit(block)

		case <-ticker.C:
			m.mu.Lock()
			if m.running && m.pauses == 0 && (m.current == nil || m.current.stale(m.threads) || m.poolDirty.Load()) {
				m.stopRoundLocked()
				m.startRoundLocked()
			}
			m.mu.Unlock()

		case <-shut:
			return
		}
	}
}

// submit hands a found block to the core. A block that didn't extend the
// main chain leaves the miner without a round so a new one is started.
func (m *Miner) submit(block database.Block) {
	m.evHandler("miner: submit: blk[%s]: nonce[%d]: block found", block.Hash(), block.Nonce)

	bv, err := m.core.HandleBlockFound(block)
	switch {
	case err != nil:
		m.evHandler("miner: submit: blk[%s]: ERROR: %s", block.Hash(), err)
	case bv.AddedToMainChain:
		m.blocksFound.Add(1)
		return
	default:
		m.evHandler("miner: submit: blk[%s]: WARNING: block rejected: %s", block.Hash(), bv)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running && m.pauses == 0 {
		m.stopRoundLocked()
		m.startRoundLocked()
	}
}

// startRoundLocked builds a template and starts the workers on it. The
// caller holds mu.
func (m *Miner) startRoundLocked() {
	if !m.running || m.pauses > 0 || m.current != nil {
		return
	}

	m.poolDirty.Store(false)

	block, difficulty, height, err := m.core.GetBlockTemplate(m.address, m.extraNonce)
	if err != nil {

		// The refresh timer tries again.
		m.evHandler("miner: startRound: ERROR: %s", err)
		return
	}

	m.evHandler("miner: startRound: height[%d]: difficulty[%d]: txs[%d]", height, difficulty, len(block.TransactionHashes))

	ctx, cancel := context.WithCancel(context.Background())
	r := round{cancel: cancel}

	r.wg.Add(m.threads)
	for i := range m.threads {
		go func() {
			defer r.wg.Done()
			m.search(ctx, &r, block, difficulty, uint32(i), uint32(m.threads))
		}()
	}

	m.current = &r
}

// stopRoundLocked cancels the current round and waits for its workers.
// The caller holds mu.
func (m *Miner) stopRoundLocked() {
	if m.current == nil {
		return
	}

	m.current.cancel()
	m.current.wg.Wait()
	m.current = nil
}

// search tries the nonces of the worker. The first worker of a round to
// find a block ends the round.
func (m *Miner) search(ctx context.Context, r *round, block database.Block, difficulty uint64, first uint32, step uint32) {
	cur := m.core.Currency()

	var tried uint64
	defer func() { m.hashes.Add(tried) }()

	for nonce := uint64(first); nonce <= math.MaxUint32; nonce += uint64(step) {
		if tried%checkInterval == 0 && ctx.Err() != nil {
			return
		}
		tried++

		block.Nonce = uint32(nonce)
		if !cur.CheckProofOfWork(block, difficulty) {
			continue
		}

		if !r.won.CompareAndSwap(false, true) {
			return
		}

		select {
		case m.found <- block:
		case <-ctx.Done():
		}
		r.cancel()
		return
	}

	// The nonce space is exhausted, the refresh timer starts a new round.
	r.exhausted.Add(1)
	m.evHandler("miner: search: worker[%d]: WARNING: nonce space exhausted", first)
}
