package p2p_test

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain/chaintest"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/p2p"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

// node is a core served over websocket connections.
type node struct {
	h       *chaintest.Harness
	core    *core.Core
	handler *protocol.Handler
	server  *p2p.Server
	peers   *peer.PeerSet
	http    *httptest.Server
	host    string
}

func newNode(t *testing.T, h *chaintest.Harness, cfg p2p.Config) *node {
	c, err := core.New(core.Config{
		Currency: h.Currency,
		Crypto:   signature.Default,
		Storage:  h.Store,
		Now:      h.Now,
	})
	require.NoError(t, err)

	ls := c.LockStorage()
	h.Chain = ls.Chain()
	h.Pool = ls.Pool()
	ls.Unlock()

	handler := protocol.New(protocol.Config{Core: c})
	c.SetRelay(handler)

	n := node{
		h:       h,
		core:    c,
		handler: handler,
		peers:   peer.NewPeerSet(),
	}

	n.http = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.server.Accept(w, r)
	}))
	n.host = strings.TrimPrefix(n.http.URL, "http://")

	cfg.Handler = handler
	cfg.Peers = n.peers
	cfg.Host = n.host
	cfg.LiteBlocks = true
	n.server = p2p.New(cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()

		n.server.Shutdown(ctx)
		n.http.Close()
	})

	return &n
}

// mine adds count empty blocks to the node without relaying them.
func (n *node) mine(t *testing.T, count int) {
	for range count {
		bv, err := n.core.HandleIncomingBlock(n.h.Block(n.core.TailID()), false, false)
		require.NoError(t, err)
		require.True(t, bv.AddedToMainChain, bv.String())
	}
}

// =============================================================================

func Test_Connect(t *testing.T) {
	a := newNode(t, chaintest.New(t), p2p.Config{})
	b := newNode(t, chaintest.NewWithCurrency(t, a.h.Currency), p2p.Config{})
	a.mine(t, 30)

	t.Log("Given the need to connect nodes over websockets.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a fresh node dials a node ahead of it.", testID)
		{
			err := b.server.Dial(context.Background(), a.host)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to dial the peer: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to dial the peer.", success, testID)

			require.Eventually(t, func() bool { return b.core.TailID() == a.core.TailID() }, waitFor, tick)
			t.Logf("\t%s\tTest %d:\tShould catch up with the peer.", success, testID)

			require.Eventually(t, func() bool {
				return a.handler.PeerCount() == 1 && b.handler.PeerCount() == 1
			}, waitFor, tick)
			require.True(t, b.server.IsConnected(a.host))
			require.ErrorIs(t, b.server.Dial(context.Background(), a.host), p2p.ErrAlreadyConnected)
			t.Logf("\t%s\tTest %d:\tShould count one peer on each side.", success, testID)

			require.Eventually(t, func() bool { return a.peers.Len() == 1 }, waitFor, tick)
			require.Equal(t, []peer.Peer{peer.New(b.host)}, a.peers.Copy(a.host))
			t.Logf("\t%s\tTest %d:\tShould learn the host the dialer listens on.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the node finds a block.", testID)
		{
			block := a.h.Block(a.core.TailID())
			bv, err := a.core.HandleBlockFound(block)
			require.NoError(t, err)
			require.True(t, bv.AddedToMainChain)

			require.Eventually(t, func() bool { return b.core.TailID() == block.Hash() }, waitFor, tick)
			t.Logf("\t%s\tTest %d:\tShould relay the block to the peer.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the connection is dropped.", testID)
		{
			for _, info := range b.server.Connections() {
				b.server.Drop(info.ID)
			}

			require.Eventually(t, func() bool {
				return a.handler.PeerCount() == 0 && b.handler.PeerCount() == 0
			}, waitFor, tick)
			require.Empty(t, a.server.Connections())
			require.Empty(t, b.server.Connections())
			t.Logf("\t%s\tTest %d:\tShould forget the peer on both sides.", success, testID)
		}
	}
}

func Test_Self(t *testing.T) {
	a := newNode(t, chaintest.New(t), p2p.Config{})

	t.Log("Given the need to avoid connecting to the node itself.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the node dials its own host.", testID)
		{
			require.NoError(t, a.server.Dial(context.Background(), a.host))

			require.Eventually(t, func() bool { return len(a.server.Connections()) == 0 }, waitFor, tick)
			require.Equal(t, 0, a.handler.PeerCount())
			t.Logf("\t%s\tTest %d:\tShould close both ends of the connection.", success, testID)
		}
	}
}

func Test_SyncTimeout(t *testing.T) {
	a := newNode(t, chaintest.New(t), p2p.Config{SyncTimeout: 500 * time.Millisecond})

	// The scripted peer claims a chain the node doesn't know and never
	// answers the requests that follow.
	upgrader := websocket.Upgrader{}
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		payload, err := protocol.Encode(protocol.Handshake{
			Version: protocol.Version1,
			NodeID:  "silent",
			Sync:    protocol.SyncData{CurrentHeight: 500, TopID: database.Hash{1}},
		})
		if err != nil {
			return
		}

		frame := binary.BigEndian.AppendUint32(nil, uint32(protocol.CmdHandshake))
		if err := ws.WriteMessage(websocket.BinaryMessage, append(frame, payload...)); err != nil {
			return
		}

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer silent.Close()

	t.Log("Given the need to give up on peers that stop answering.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer never answers a sync request.", testID)
		{
			require.NoError(t, a.server.Dial(context.Background(), strings.TrimPrefix(silent.URL, "http://")))

			require.Eventually(t, func() bool {
				for _, info := range a.server.Connections() {
					if info.State == protocol.StateSynchronizing {
						return true
					}
				}
				return false
			}, waitFor, tick)
			t.Logf("\t%s\tTest %d:\tShould start synchronizing with the peer.", success, testID)

			require.Eventually(t, func() bool { return len(a.server.Connections()) == 0 }, waitFor, tick)
			require.Equal(t, 0, a.handler.PeerCount())
			t.Logf("\t%s\tTest %d:\tShould close the connection after the timeout.", success, testID)
		}
	}
}
