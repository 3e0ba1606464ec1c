package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/app/services/node/handlers"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/genesis"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/miner"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/p2p"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/worker"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/events"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Chain struct {
			Network        string `conf:"default:mainnet"`
			Definition     string `conf:"help:network definition file overriding the built in network"`
			DataDir        string `conf:"default:zblock"`
			Storage        string `conf:"default:disk,help:disk bolt or memory"`
			SelectStrategy string `conf:"default:fee"`
		}
		P2P struct {
			KnownPeers        []string      `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
			MaxConnections    int           `conf:"default:64"`
			LiteBlocks        bool          `conf:"default:true"`
			SyncTimeout       time.Duration `conf:"default:1m"`
			TimedSyncInterval time.Duration `conf:"default:1m"`
		}
		Miner struct {
			Address         string        `conf:"help:account address credited by the mined blocks"`
			Threads         int           `conf:"default:1"`
			StartOnBoot     bool          `conf:"default:false"`
			RefreshInterval time.Duration `conf:"default:5s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "conceal node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`   ____ ___  _   _  ____ _____    _    _       _   _  ___  ____  _____ `)
	fmt.Println(`  / ___/ _ \| \ | |/ ___| ____|  / \  | |     | \ | |/ _ \|  _ \| ____|`)
	fmt.Println(` | |  | | | |  \| | |   |  _|   / _ \ | |     |  \| | | | | | | |  _|  `)
	fmt.Println(` | |__| |_| | |\  | |___| |___ / ___ \| |___  | |\  | |_| | |_| | |___ `)
	fmt.Println(`  \____\___/|_| \_|\____|_____/_/   \_\_____| |_| \_|\___/|____/|_____|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Event Support

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// =========================================================================
	// Blockchain Support

	gen, err := genesis.Definition(cfg.Chain.Network)
	if cfg.Chain.Definition != "" {
		gen, err = genesis.Load(cfg.Chain.Definition)
	}
	if err != nil {
		return fmt.Errorf("loading network definition: %w", err)
	}

	cur, err := currency.New(gen)
	if err != nil {
		return fmt.Errorf("constructing currency: %w", err)
	}
	log.Infow("startup", "status", "currency", "network", gen.Network, "genesis", cur.GenesisHash())

	store, err := storage.Open(cfg.Chain.Storage, filepath.Join(cfg.Chain.DataDir, gen.Network))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	// The core owns the chain and the pool and is the only way in for the
	// protocol, the miner and the api.
	cr, err := core.New(core.Config{
		Currency:       cur,
		Crypto:         signature.Default,
		Storage:        store,
		SelectStrategy: cfg.Chain.SelectStrategy,
		EvHandler:      ev,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("constructing core: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "closing core")
		if err := cr.Close(); err != nil {
			log.Errorw("shutdown", "status", "closing core", "ERROR", err)
		}
	}()
	cr.AddObserver(evts)

	log.Infow("startup", "status", "chain loaded", "height", cr.Height())

	// =========================================================================
	// Network Support

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.P2P.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	handler := protocol.New(protocol.Config{
		Core:      cr,
		EvHandler: ev,
	})
	handler.AddObserver(evts)
	cr.SetRelay(handler)

	srv := p2p.New(p2p.Config{
		Handler:           handler,
		Peers:             peerSet,
		Host:              cfg.Web.PrivateHost,
		MaxConnections:    cfg.P2P.MaxConnections,
		LiteBlocks:        cfg.P2P.LiteBlocks,
		SyncTimeout:       cfg.P2P.SyncTimeout,
		TimedSyncInterval: cfg.P2P.TimedSyncInterval,
		EvHandler:         ev,
	})

	// =========================================================================
	// Miner Support

	mnr := miner.New(miner.Config{
		Core:            cr,
		RefreshInterval: cfg.Miner.RefreshInterval,
		EvHandler:       ev,
	})
	cr.SetMiner(mnr)
	cr.AddObserver(mnr)

	if cfg.Miner.StartOnBoot {
		address, err := database.ToAddress(cfg.Miner.Address)
		if err != nil {
			return fmt.Errorf("parsing miner address: %w", err)
		}
		if err := mnr.Start(address, cfg.Miner.Threads); err != nil {
			return fmt.Errorf("starting miner: %w", err)
		}
	}
	defer func() {
		if mnr.IsMining() {
			mnr.Stop()
		}
	}()

	// The worker runs the idle duties of the core and keeps the node
	// connected to its known peers.
	wrk := worker.Run(worker.Config{
		Core:      cr,
		Dialer:    srv,
		Peers:     peerSet,
		Host:      cfg.Web.PrivateHost,
		EvHandler: ev,
	})
	defer wrk.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, cr)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Core:     cr,
		Handler:  handler,
		P2P:      srv,
		Miner:    mnr,
		Peers:    peerSet,
		Worker:   wrk,
		Host:     cfg.Web.PrivateHost,
		Evts:     evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// The peer connections are hijacked so the http server doesn't
		// track them.
		log.Infow("shutdown", "status", "shutdown peer connections")
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorw("shutdown", "status", "shutdown peer connections", "ERROR", err)
		}
		handler.Stop()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
