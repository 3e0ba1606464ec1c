// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ConcealNetwork/conceal-core-sub000/app/services/node/handlers/v1/private"
	"github.com/ConcealNetwork/conceal-core-sub000/app/services/node/handlers/v1/public"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/miner"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/p2p"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/events"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	Core    *core.Core
	Handler *protocol.Handler
	P2P     *p2p.Server
	Miner   *miner.Miner
	Peers   *peer.PeerSet
	Worker  private.PeerSignaler
	Host    string
	Evts    *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		Core:    cfg.Core,
		Handler: cfg.Handler,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
	app.Handle(http.MethodGet, version, "/tx/paymentid/:id", pbl.TransactionsByPaymentID)
	app.Handle(http.MethodGet, version, "/tx/:hash", pbl.TransactionByHash)
	app.Handle(http.MethodGet, version, "/tx/:hash/proof", pbl.TransactionProof)
	app.Handle(http.MethodPost, version, "/block/template", pbl.BlockTemplate)
	app.Handle(http.MethodPost, version, "/block/submit", pbl.SubmitBlock)
	app.Handle(http.MethodGet, version, "/block/hash/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/block/height/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/block/orphans/:height", pbl.OrphanBlocks)
	app.Handle(http.MethodGet, version, "/block/timestamp/:from/:to", pbl.BlocksByTimestamp)
	app.Handle(http.MethodPost, version, "/blocks/query", pbl.QueryBlocks)
	app.Handle(http.MethodGet, version, "/pool", pbl.Pool)
	app.Handle(http.MethodPost, version, "/pool/difference", pbl.PoolDifference)
	app.Handle(http.MethodPost, version, "/pool/changes", pbl.PoolChanges)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		Core:    cfg.Core,
		Handler: cfg.Handler,
		P2P:     cfg.P2P,
		Miner:   cfg.Miner,
		Peers:   cfg.Peers,
		Worker:  cfg.Worker,
		Host:    cfg.Host,
	}

	app.Handle(http.MethodGet, version, "/p2p", prv.P2P)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/peers", prv.SubmitPeer)
	app.Handle(http.MethodGet, version, "/node/miner", prv.MinerStatus)
	app.Handle(http.MethodPost, version, "/node/miner/start", prv.StartMining)
	app.Handle(http.MethodPost, version, "/node/miner/stop", prv.StopMining)
}
