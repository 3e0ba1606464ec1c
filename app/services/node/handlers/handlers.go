// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/ConcealNetwork/conceal-core-sub000/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/ConcealNetwork/conceal-core-sub000/app/services/node/handlers/v1"
	"github.com/ConcealNetwork/conceal-core-sub000/business/web/mid"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/miner"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/p2p"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/worker"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/events"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/web"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	Core     *core.Core
	Handler  *protocol.Handler
	P2P      *p2p.Server
	Miner    *miner.Miner
	Peers    *peer.PeerSet
	Worker   *worker.Worker
	Host     string
	Evts     *events.Events
}

func (cfg MuxConfig) routes() v1.Config {
	return v1.Config{
		Log:     cfg.Log,
		Core:    cfg.Core,
		Handler: cfg.Handler,
		P2P:     cfg.P2P,
		Miner:   cfg.Miner,
		Peers:   cfg.Peers,
		Worker:  cfg.Worker,
		Host:    cfg.Host,
		Evts:    cfg.Evts,
	}
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Accept CORS 'OPTIONS' preflight requests.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", h, mid.Cors("*"))

	v1.PublicRoutes(app, cfg.routes())

	return app
}

// PrivateMux constructs a http.Handler with the routes used by other nodes
// and the operator of the node.
func PrivateMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Panics(),
	)

	v1.PrivateRoutes(app, cfg.routes())

	return app
}

// DebugStandardLibraryMux registers all the debug routes from the standard library
// into a new mux bypassing the use of the DefaultServerMux. Using the
// DefaultServerMux would be a security risk since a dependency could inject a
// handler into our service without us knowing it.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}

// DebugMux registers all the debug standard library routes and then custom
// debug application routes for the service.
func DebugMux(build string, log *zap.SugaredLogger, c *core.Core) http.Handler {
	mux := DebugStandardLibraryMux()

	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		Core:  c,
	}
	mux.HandleFunc("/debug/readiness", cgh.Readiness)
	mux.HandleFunc("/debug/liveness", cgh.Liveness)

	return mux
}
