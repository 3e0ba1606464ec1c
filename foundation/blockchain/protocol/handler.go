// Package protocol implements the node to node protocol: catching up with
// the chain of a peer, keeping the pools in step and relaying new blocks
// and transactions between peers.
package protocol

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/google/uuid"
)

// EventHandler defines a function that is called when events occur in the
// processing of peer messages.
type EventHandler func(v string, args ...any)

// Network represents the behavior the handler needs from the transport.
type Network interface {
	Send(id uuid.UUID, cmd Command, payload []byte) error
	Relay(cmd Command, payload []byte, exclude uuid.UUID, filter func(Info) bool)
	Drop(id uuid.UUID)
	Connections() []Info
}

// Observer is notified about the view the handler has of the network.
type Observer interface {
	PeerCountUpdated(count int)
	LastKnownBlockHeightUpdated(height uint32)
	BlockchainSynchronized(height uint32)
}

// =============================================================================

// Config represents the configuration required to start the handler.
type Config struct {
	Core      *core.Core
	Network   Network
	Now       func() time.Time
	EvHandler EventHandler
}

// Handler processes the messages of every connection. Each connection is
// served by one goroutine calling into the handler with its own Context.
type Handler struct {
	core      *core.Core
	now       func() time.Time
	evHandler EventHandler

	// syncMu serializes the processing of block batches so connections
	// delivering the same blocks wait for each other and skip what was
	// added meanwhile.
	syncMu sync.Mutex

	netMu sync.RWMutex
	net   Network

	obsMu          sync.Mutex
	observedHeight uint32

	peers        atomic.Int32
	synchronized atomic.Bool
	stopped      atomic.Bool

	extMu     sync.RWMutex
	observers []Observer
}

// New constructs a handler on top of the core.
func New(cfg Config) *Handler {

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

	return &Handler{
		core:      cfg.Core,
		now:       now,
		evHandler: ev,
		net:       cfg.Network,
	}
}

// SetNetwork sets the transport the handler sends through.
func (h *Handler) SetNetwork(n Network) {
	h.netMu.Lock()
	defer h.netMu.Unlock()

	h.net = n
}

func (h *Handler) network() Network {
	h.netMu.RLock()
	defer h.netMu.RUnlock()

	return h.net
}

// Stop makes the handler abandon the block batch it is processing.
func (h *Handler) Stop() {
	h.stopped.Store(true)
}

// =============================================================================

// AddObserver registers the observer.
func (h *Handler) AddObserver(o Observer) bool {
	h.extMu.Lock()
	defer h.extMu.Unlock()

	if slices.Contains(h.observers, o) {
		return false
	}
	h.observers = append(h.observers, o)
	return true
}

// RemoveObserver unregisters the observer.
func (h *Handler) RemoveObserver(o Observer) bool {
	h.extMu.Lock()
	defer h.extMu.Unlock()

	i := slices.Index(h.observers, o)
	if i < 0 {
		return false
	}
	h.observers = slices.Delete(h.observers, i, i+1)
	return true
}

func (h *Handler) notify(fn func(o Observer)) {
	h.extMu.RLock()
	observers := slices.Clone(h.observers)
	h.extMu.RUnlock()

	for _, o := range observers {
		fn(o)
	}
}

// =============================================================================

// PeerCount returns the number of connections past the handshake.
func (h *Handler) PeerCount() int {
	return int(h.peers.Load())
}

// ObservedHeight returns the highest chain height claimed by a peer.
func (h *Handler) ObservedHeight() uint32 {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()

	return h.observedHeight
}

// IsSynchronized reports if the node caught up with a peer at least once.
func (h *Handler) IsSynchronized() bool {
	return h.synchronized.Load()
}

// Connections returns a snapshot of the connections.
func (h *Handler) Connections() []Info {
	n := h.network()
	if n == nil {
		return nil
	}
	return n.Connections()
}

// SyncData returns the chain position advertised to peers.
func (h *Handler) SyncData() SyncData {
	ls := h.core.LockStorage()
	defer ls.Unlock()

	return SyncData{
		CurrentHeight: ls.Chain().Height(),
		TopID:         ls.Chain().TailID(),
	}
}

// updateObservedHeight records the height a peer claimed. It runs before
// the remote height of the connection is updated.
func (h *Handler) updateObservedHeight(peerHeight uint32, ctx *Context) {
	remote := ctx.RemoteHeight()

	h.obsMu.Lock()
	prev := h.observedHeight
	switch {
	case peerHeight > remote:
		h.observedHeight = max(h.observedHeight, peerHeight)

	case peerHeight != remote && remote == h.observedHeight:

		// The peer held the highest observed height and moved to a
		// lower one, the other connections decide the new maximum.
		h.recalculateObservedHeight(ctx)
	}
	current := h.observedHeight
	h.obsMu.Unlock()

	if current != prev {
		h.evHandler("protocol: observed height updated: height[%d]", current)
		h.notify(func(o Observer) { o.LastKnownBlockHeightUpdated(current) })
	}
}

// recalculateObservedHeight takes the highest height claimed by the
// connections other than ctx. The caller holds obsMu.
func (h *Handler) recalculateObservedHeight(ctx *Context) {
	var peerHeight uint32
	for _, info := range h.Connections() {
		if info.ID != ctx.ID {
			peerHeight = max(peerHeight, info.RemoteHeight)
		}
	}

	local := h.core.Height()
	h.observedHeight = max(peerHeight, local)
	if ctx.State() == StateNormal {
		h.observedHeight = local
	}
}

// onSynchronized notifies the first time the node caught up with a peer.
func (h *Handler) onSynchronized() {
	if !h.synchronized.CompareAndSwap(false, true) {
		return
	}

	height := h.core.Height()
	h.evHandler("protocol: synchronized with the network: height[%d]", height)
	h.notify(func(o Observer) { o.BlockchainSynchronized(height) })
}

// =============================================================================

// send encodes the message and sends it to the connection.
func (h *Handler) send(id uuid.UUID, cmd Command, msg any) bool {
	n := h.network()
	if n == nil {
		return false
	}

	payload, err := Encode(msg)
	if err != nil {
		h.evHandler("protocol: send: conn[%s]: %s: ERROR: %s", id, cmd, err)
		return false
	}

	if err := n.Send(id, cmd, payload); err != nil {
		h.evHandler("protocol: send: conn[%s]: %s: WARNING: %s", id, cmd, err)
		return false
	}

	return true
}

// request sends a message the connection must answer within the sync
// timeout of the transport.
func (h *Handler) request(ctx *Context, cmd Command, msg any) bool {
	if !h.send(ctx.ID, cmd, msg) {
		return false
	}
	ctx.setAwaiting(h.now())
	return true
}

// relay encodes the message and sends it to every connection accepted by
// the filter except the excluded one.
func (h *Handler) relay(cmd Command, msg any, exclude uuid.UUID, filter func(Info) bool) {
	n := h.network()
	if n == nil {
		return
	}

	payload, err := Encode(msg)
	if err != nil {
		h.evHandler("protocol: relay: %s: ERROR: %s", cmd, err)
		return
	}

	n.Relay(cmd, payload, exclude, filter)
}

// drop ends the connection of a misbehaving peer. The sync state of the
// connection can't be trusted anymore so it is discarded.
func (h *Handler) drop(ctx *Context, format string, args ...any) {
	h.evHandler("protocol: conn[%s]: ERROR: dropping connection: "+format, append([]any{ctx}, args...)...)

	ctx.setState(StateShutdown)
	ctx.resetSync()

	if n := h.network(); n != nil {
		n.Drop(ctx.ID)
	}
}

// idle parks a connection whose blocks were delivered by another one.
func (h *Handler) idle(ctx *Context) {
	h.evHandler("protocol: conn[%s]: connection set to idle", ctx)

	ctx.setState(StateIdle)
	ctx.neededObjects = nil
	clear(ctx.requestedObjects)
	ctx.setAwaiting(time.Time{})
}

// relayable accepts the connections past the handshake.
func relayable(info Info) bool {
	return info.State != StateBeforeHandshake && info.State != StateShutdown
}
