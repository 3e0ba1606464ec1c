// Package peer maintains the peer related information such as the set
// of known peers and the status a node reports about itself.
package peer

import (
	"sort"
	"sync"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
)

// Peer represents a node in the network by the host it listens on.
type Peer struct {
	Host string `json:"host"`
}

// New constructs a new peer value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this peer.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// String implements the fmt.Stringer interface.
func (p Peer) String() string {
	return p.Host
}

// =============================================================================

// Status represents the view a node has of itself and the network. It is
// served on the private node status route.
type Status struct {
	Height         uint32          `json:"height"`
	TailID         database.Hash   `json:"tail_id"`
	Difficulty     uint64          `json:"difficulty"`
	PoolSize       int             `json:"pool_size"`
	ObservedHeight uint32          `json:"observed_height"`
	Synchronized   bool            `json:"synchronized"`
	PeerCount      int             `json:"peer_count"`
	KnownPeers     []Peer          `json:"known_peers"`
	Connections    []protocol.Info `json:"connections"`
}

// =============================================================================

// PeerSet represents the set of known peers along with the number of
// connection attempts that failed in a row for each.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]int
}

// NewPeerSet constructs a new set to manage node peer information.
func NewPeerSet(peers ...Peer) *PeerSet {
	ps := PeerSet{
		set: make(map[Peer]int),
	}
	for _, p := range peers {
		if p.Host != "" {
			ps.set[p] = 0
		}
	}
	return &ps
}

// Add adds a new peer to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		return false
	}

	ps.set[peer] = 0
	return true
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Fail records a failed connection attempt and returns the number of
// failures in a row.
func (ps *PeerSet) Fail(peer Peer) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; !exists {
		return 0
	}

	ps.set[peer]++
	return ps.set[peer]
}

// Succeed clears the failures of the peer.
func (ps *PeerSet) Succeed(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		ps.set[peer] = 0
	}
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns the known peers sorted by host, leaving out the host.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Host < peers[j].Host })

	return peers
}
