// main.go is the entry point for the sieve server. It wires together the
// filter store, snapshot persistence, and network server, and manages the
// operational lifecycle.
//
// Startup Sequence
// ================
//
// The empty store is created first, then loadSnapshot() restores any
// persisted filters by re-adopting their raw word arrays. This happens
// before the listener starts, so the load path needs no locking. Only after
// the state is fully restored does the server accept connections.
//
// Durability Policy
// =================
//
// Writes are not persisted individually. A background goroutine snapshots
// the whole store at a fixed interval whenever writes have occurred since
// the last save. A crash loses at most one interval of additions. Losing
// additions to a bloom filter only weakens recall for those items; it never
// makes the filter report false negatives for items present in the snapshot
// that was loaded.
//
// Graceful Shutdown
// =================
//
// On exit we take a final synchronous snapshot if there are unsaved writes,
// so a clean restart begins exactly where the server left off.

package main

import (
	"flag"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type config struct {
	port             int
	maxConnections   int
	shutdownTimeout  time.Duration
	idleTimeout      time.Duration
	bfErrorRate      float64
	bfCapacity       int64
	persistence      bool
	snapshotFilename string
	saveInterval     time.Duration
}

type application struct {
	config      config
	logger      *slog.Logger
	listener    net.Listener
	store       *Store
	router      *Router
	metrics     *Metrics
	readyCh     chan struct{}
	wg          sync.WaitGroup
	connLimiter chan struct{}
	isSaving    atomic.Bool
	dirty       atomic.Bool
}

// markDirty records that in-memory state has diverged from the last
// snapshot. Called by every handler that mutates the store.
func (app *application) markDirty() {
	if app.config.persistence {
		app.dirty.Store(true)
	}
}

// defaultFilterEntry builds a filter from the server's default sizing flags.
// Used when BF.ADD auto-creates a key.
func (app *application) defaultFilterEntry() *filterEntry {
	return newFilterEntry(app.config.bfErrorRate, app.config.bfCapacity)
}

func main() {
	var cfg config

	flag.IntVar(&cfg.port, "port", 6479, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.Float64Var(&cfg.bfErrorRate, "bf-error-rate", 0.01, "Target false positive rate for auto-created filters")
	flag.Int64Var(&cfg.bfCapacity, "bf-capacity", 1000, "Expected element count for auto-created filters")
	flag.BoolVar(&cfg.persistence, "persistence", true, "Enable snapshot persistence (set false for in-memory only mode)")
	flag.StringVar(&cfg.snapshotFilename, "snapshot", "filters.sve", "Snapshot file path")
	flag.DurationVar(&cfg.saveInterval, "save-interval", 30*time.Second, "Interval between automatic snapshots of a dirty store")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	app := &application{
		config:      cfg,
		logger:      logger,
		store:       NewStore(),
		metrics:     NewMetrics(),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}

	app.router = app.commands()

	if cfg.persistence {
		if err := app.loadSnapshot(); err != nil {
			logger.Error("failed to load snapshot", "error", err)
			os.Exit(1) // Fatal: a corrupt snapshot could hide added items
		}
		logger.Info("snapshot loaded", "filters", app.store.Count(), "file", cfg.snapshotFilename)
	} else {
		logger.Info("persistence disabled, running in memory-only mode")
	}

	// Background Maintenance Loop: snapshot the store whenever writes have
	// accumulated since the last save.
	if cfg.persistence {
		go func() {
			ticker := time.NewTicker(cfg.saveInterval)
			defer ticker.Stop()

			for range ticker.C {
				if app.dirty.Load() {
					app.backgroundSave("auto")
				}
			}
		}()
	}

	// Final snapshot on the way out, synchronous so the process doesn't
	// exit mid-write.
	defer func() {
		if !cfg.persistence || !app.dirty.Load() {
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
