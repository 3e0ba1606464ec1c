// Package worker runs the background operations of the node: the periodic
// maintenance of the core and keeping connections to the known peers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
)

// Set of intervals the operations run on.
const (
	DefaultIdleInterval = 10 * time.Second
	DefaultPeerInterval = time.Minute
)

// EventHandler defines a function that is called when events occur in the
// background operations.
type EventHandler func(v string, args ...any)

// Core represents the behavior the worker needs from the core.
type Core interface {
	OnIdle()
}

// Dialer represents the behavior the worker needs from the transport.
type Dialer interface {
	Dial(ctx context.Context, host string) error
	IsConnected(host string) bool
}

// =============================================================================

// Config represents the configuration required to start the worker.
type Config struct {
	Core         Core
	Dialer       Dialer
	Peers        *peer.PeerSet
	Host         string
	IdleInterval time.Duration
	PeerInterval time.Duration
	EvHandler    EventHandler
}

// Worker manages the background operations of the node.
type Worker struct {
	core        Core
	dialer      Dialer
	peers       *peer.PeerSet
	host        string
	wg          sync.WaitGroup
	idleTicker  *time.Ticker
	peerTicker  *time.Ticker
	shut        chan struct{}
	peerUpdates chan bool
	evHandler   EventHandler
}

// Run creates a worker and starts up all the background processes.
func Run(cfg Config) *Worker {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	idle := cfg.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	peers := cfg.PeerInterval
	if peers <= 0 {
		peers = DefaultPeerInterval
	}

	w := Worker{
		core:        cfg.Core,
		dialer:      cfg.Dialer,
		peers:       cfg.Peers,
		host:        cfg.Host,
		idleTicker:  time.NewTicker(idle),
		peerTicker:  time.NewTicker(peers),
		shut:        make(chan struct{}),
		peerUpdates: make(chan bool, 1),
		evHandler:   ev,
	}

	// Connect to the known peers before the tickers fire.
	w.SignalPeerUpdate()

	// Load the set of operations we need to run.
	operations := []func(){
		w.idleOperations,
		w.peerOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for range g {
		<-hasStarted
	}

	return &w
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop tickers")
	w.idleTicker.Stop()
	w.peerTicker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalPeerUpdate starts a peer operation. If there is already a signal
// pending in the channel, just return since an operation will run.
func (w *Worker) SignalPeerUpdate() {
	select {
	case w.peerUpdates <- true:
	default:
	}
	w.evHandler("worker: SignalPeerUpdate: peer update signaled")
}

// =============================================================================

// idleOperations runs the periodic maintenance of the core.
func (w *Worker) idleOperations() {
	w.evHandler("worker: idleOperations: G started")
	defer w.evHandler("worker: idleOperations: G completed")

	for {
		select {
		case <-w.idleTicker.C:
			if !w.isShutdown() {
				w.core.OnIdle()
			}
		case <-w.shut:
			w.evHandler("worker: idleOperations: received shut signal")
			return
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
