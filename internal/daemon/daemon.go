// Package daemon provides the long-running watch mode: it monitors both
// systems' task directories, triggers debounced sync runs when files
// change, runs a periodic full sync as a safety net, and sweeps expired
// state.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/engine"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/synclock"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/task"
)

// Config holds daemon tuning knobs.
type Config struct {
	// SyncInterval is how often a full two-direction sync runs even
	// without file activity.
	SyncInterval time.Duration

	// DebounceInterval batches rapid file changes into one sync run.
	DebounceInterval time.Duration

	// SweepInterval is how often expired conflicts and idempotency
	// records are cleaned up.
	SweepInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 2 * time.Second,
		SweepInterval:    time.Hour,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// NewRotatingLogger returns a logger writing to a size-capped, rotated
// file, for daemon runs detached from a terminal.
func NewRotatingLogger(path string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[daemon] ", log.LstdFlags)
}

// Daemon watches both systems' directories and keeps them in sync.
type Daemon struct {
	engine *engine.Engine
	kv     store.KV
	dirs   map[task.System]string
	config *Config

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[task.System]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnResult, when set, receives every completed batch summary.
	// The dashboard hooks in here.
	OnResult func(from task.System, result *engine.BatchResult)
}

// New creates a daemon watching the given per-system directories.
func New(e *engine.Engine, kv store.KV, dirs map[task.System]string, config *Config) (*Daemon, error) {
	if e == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	for _, sys := range []task.System{task.SystemTodoist, task.SystemThings} {
		if dirs[sys] == "" {
			return nil, fmt.Errorf("no watch directory for %s", sys)
		}
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:  e,
		kv:      kv,
		dirs:    dirs,
		config:  config,
		watcher: watcher,
		pending: make(map[task.System]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled. It performs an initial
// full sync, then reacts to file events and the periodic timers.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.fullSync()

	for sys, dir := range d.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sys, err)
		}
		if err := d.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s directory: %w", sys, err)
		}
	}
	d.config.Logger.Printf("Watching: %s, %s", d.dirs[task.SystemTodoist], d.dirs[task.SystemThings])

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processPending()
	go d.periodic()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents queues the owning system for a debounced sync on
// every relevant file event.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			sys, ok := d.systemFor(event.Name)
			if !ok {
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queue(sys)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) systemFor(path string) (task.System, bool) {
	dir := filepath.Dir(path)
	for sys, root := range d.dirs {
		if dir == root {
			return sys, true
		}
	}
	return "", false
}

func (d *Daemon) queue(sys task.System) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending[sys] = time.Now()
}

// processPending fires sync runs for systems whose last file event is
// older than the debounce interval.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runDue()
		}
	}
}

func (d *Daemon) runDue() {
	d.pendingMu.Lock()
	var due []task.System
	now := time.Now()
	for sys, queuedAt := range d.pending {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			due = append(due, sys)
			delete(d.pending, sys)
		}
	}
	d.pendingMu.Unlock()

	for _, sys := range due {
		d.syncFrom(sys)
	}
}

// syncFrom runs one directional sync. Lock contention means another
// run is already in flight; the change is re-queued instead of dropped.
func (d *Daemon) syncFrom(sys task.System) {
	result, err := d.engine.Sync(d.ctx, sys, "")
	if err != nil {
		if errors.Is(err, synclock.ErrSyncInProgress) {
			d.config.Logger.Printf("Sync from %s deferred: another run in progress", sys)
			d.queue(sys)
			return
		}
		d.config.Logger.Printf("Sync from %s failed: %v", sys, err)
		return
	}
	if d.OnResult != nil {
		d.OnResult(sys, result)
	}
}

func (d *Daemon) fullSync() {
	for _, sys := range []task.System{task.SystemTodoist, task.SystemThings} {
		d.syncFrom(sys)
	}
}

// periodic owns the slow timers: the safety-net full sync and the
// expired-state sweeps.
func (d *Daemon) periodic() {
	defer d.wg.Done()

	syncTicker := time.NewTicker(d.config.SyncInterval)
	defer syncTicker.Stop()
	sweepTicker := time.NewTicker(d.config.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-syncTicker.C:
			d.fullSync()
		case <-sweepTicker.C:
			d.sweep()
		}
	}
}

func (d *Daemon) sweep() {
	if n, err := d.engine.Conflicts().Sweep(d.ctx); err != nil {
		d.config.Logger.Printf("Conflict sweep failed: %v", err)
	} else if n > 0 {
		d.config.Logger.Printf("Swept %d expired conflicts", n)
	}

	if n, err := d.kv.ExpireSweep(d.ctx); err != nil {
		d.config.Logger.Printf("Store sweep failed: %v", err)
	} else if n > 0 {
		d.config.Logger.Printf("Swept %d expired store records", n)
	}
}
