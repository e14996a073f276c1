// main.go is the entry point for the sketch server. It wires together the
// store, the snapshot layer, the metrics endpoint and the network server.
//
// Startup Sequence
// ================
//
// The empty Store is created first. When persistence is enabled the snapshot
// file (if any) is loaded before the listener opens, so loading needs no
// coordination with clients. Only then does the server accept connections.
//
// Durability Policy
// =================
//
// Sketches live in memory. A background goroutine saves a full snapshot
// every -snapshot-interval, SAVE saves on demand, and a final save runs on
// shutdown. A crash loses at most the writes since the last save.
//
// Configuration
// =============
//
// Every option has a SKETCH_* environment variable; a command-line flag with
// the same meaning takes precedence. See config.go.

package main

import (
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type application struct {
	config      config
	logger      *slog.Logger
	listener    net.Listener
	store       *Store
	router      *Router
	metrics     *Metrics
	readyCh     chan struct{}
	shutdownCh  chan struct{}
	wg          sync.WaitGroup
	connLimiter chan struct{}
	isSaving    atomic.Bool
	startedUnix int64
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stdout, cfg.LogFormat)

	app := newApplication(cfg, logger)

	if cfg.Persistence {
		if err := app.loadSnapshot(); err != nil {
			logger.Error("failed to load snapshot", "error", err)
			os.Exit(1)
		}
		logger.Info("snapshot loaded", "file", cfg.SnapshotFile, "keys", app.store.Len())
	} else {
		logger.Info("persistence disabled, running in memory-only mode")
	}

	go app.serveMetrics(cfg.MetricsAddr)

	done := make(chan struct{})
	if cfg.Persistence && cfg.SnapshotInterval > 0 {
		go app.runSaver(cfg.SnapshotInterval, done)
	}

	// Final save on the way out, after in-flight clients are done.
	defer func() {
		close(done)
		if !cfg.Persistence {
			logger.Info("shutting down...")
			return
		}
		logger.Info("shutting down, saving snapshot...")
		if err := app.saveSnapshot(); err != nil {
			logger.Error("failed to save snapshot on exit", "error", err)
		}
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// newApplication assembles an application with an empty store and the full
// command table.
func newApplication(cfg config, logger *slog.Logger) *application {
	app := &application{
		config:      cfg,
		logger:      logger,
		store:       NewStore(),
		metrics:     NewMetrics(),
		connLimiter: make(chan struct{}, cfg.MaxConnections),
		startedUnix: time.Now().Unix(),
	}
	app.router = app.commands()
	return app
}
