// Package events allows for the registering and receiving of events. The
// node publishes its log events and the changes of the chain, the pool and
// the network through it.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
)

// Set of event types published by the observer methods.
const (
	TypeBlockchainUpdated      = "blockchain_updated"
	TypePoolUpdated            = "pool_updated"
	TypePeerCountUpdated       = "peer_count_updated"
	TypeObservedHeightUpdated  = "observed_height_updated"
	TypeBlockchainSynchronized = "blockchain_synchronized"
)

// Event is the document sent for a change of the node.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	m  map[string]chan string
	mu sync.RWMutex
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// Since a message will be dropped if the websocket receiver is
	// not ready to receive, this arbitrary buffer should give the receiver
	// enough time to not lose a message. Websocket send could take long.
	const messageBuffer = 100

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals a message to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- s:
		default:
		}
	}
}

// Publish sends the event as a JSON document.
func (evt *Events) Publish(typ string, data any) {
	doc, err := json.Marshal(Event{Type: typ, Data: data})
	if err != nil {
		return
	}
	evt.Send(string(doc))
}

// =============================================================================
// These methods implement the core.Observer and protocol.Observer interfaces.

// BlockchainUpdated publishes the new tail of the main chain.
func (evt *Events) BlockchainUpdated(ev core.ChainEvent) {
	evt.Publish(TypeBlockchainUpdated, ev)
}

// PoolUpdated publishes that the pool changed.
func (evt *Events) PoolUpdated() {
	evt.Publish(TypePoolUpdated, nil)
}

// PeerCountUpdated publishes the number of peers.
func (evt *Events) PeerCountUpdated(count int) {
	evt.Publish(TypePeerCountUpdated, count)
}

// LastKnownBlockHeightUpdated publishes the highest height claimed by a
// peer.
func (evt *Events) LastKnownBlockHeightUpdated(height uint32) {
	evt.Publish(TypeObservedHeightUpdated, height)
}

// BlockchainSynchronized publishes that the node caught up with the
// network.
func (evt *Events) BlockchainSynchronized(height uint32) {
	evt.Publish(TypeBlockchainSynchronized, height)
}
