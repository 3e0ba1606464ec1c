// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ConcealNetwork/conceal-core-sub000/business/sys/validate"
	"github.com/ConcealNetwork/conceal-core-sub000/business/web/errs"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/miner"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/p2p"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/web"
	"go.uber.org/zap"
)

// PeerSignaler represents the behavior required to trigger a connection
// attempt to the known peers.
type PeerSignaler interface {
	SignalPeerUpdate()
}

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Core    *core.Core
	Handler *protocol.Handler
	P2P     *p2p.Server
	Miner   *miner.Miner
	Peers   *peer.PeerSet
	Worker  PeerSignaler
	Host    string
}

// P2P upgrades the connection of a peer into the node protocol.
func (h Handlers) P2P(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.P2P.Accept(w, r); err != nil {
		if errors.Is(err, p2p.ErrTooManyConnections) {
			h.Log.Infow("p2p", "traceid", web.GetTraceID(ctx), "remoteaddr", r.RemoteAddr, "ERROR", err)
			return nil
		}
		return err
	}
	return nil
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	stats := h.Core.Stats()

	status := peer.Status{
		Height:         stats.Height,
		TailID:         stats.TailID,
		Difficulty:     stats.Difficulty,
		PoolSize:       stats.PoolSize,
		ObservedHeight: h.Handler.ObservedHeight(),
		Synchronized:   h.Handler.IsSynchronized(),
		PeerCount:      h.Handler.PeerCount(),
		KnownPeers:     h.Peers.Copy(h.Host),
		Connections:    h.Handler.Connections(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// SubmitPeer adds a peer to the known peers and tries to connect to it.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req struct {
		Host string `json:"host" validate:"required,hostname_port"`
	}
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	if !h.Peers.Add(peer.New(req.Host)) {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	h.Log.Infow("add peer", "traceid", v.TraceID, "host", req.Host)
	h.Worker.SignalPeerUpdate()

	return web.Respond(ctx, w, nil, http.StatusCreated)
}

// =============================================================================

// MinerStatus returns the state of the local miner.
func (h Handlers) MinerStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Miner.Stats(), http.StatusOK)
}

// StartMining starts the local miner.
func (h Handlers) StartMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Address string `json:"miner_address" validate:"required"`
		Threads int    `json:"threads_count" validate:"required,gte=1,lte=256"`
	}
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	address, err := database.ToAddress(req.Address)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.Miner.Start(address, req.Threads); err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	return web.Respond(ctx, w, h.Miner.Stats(), http.StatusOK)
}

// StopMining stops the local miner.
func (h Handlers) StopMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.Miner.Stop(); err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	return web.Respond(ctx, w, h.Miner.Stats(), http.StatusOK)
}
