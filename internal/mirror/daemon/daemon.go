// Package daemon supervises mirror engines for one or more store pairs.
//
// The daemon:
// 1. Opens both stores of every configured pair
// 2. Runs one sync engine per pair (each with its own background worker)
// 3. Watches the database files and nudges the owning engine on changes,
//    so convergence does not have to wait out a full poll interval
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jverity/tablemirror/internal/mirror/engine"
	"github.com/jverity/tablemirror/internal/mirror/schema"
	"github.com/jverity/tablemirror/internal/mirror/store"
)

// Pair configures one mirrored store pair.
type Pair struct {
	// Name identifies the pair in logs, the journal, and the dashboard.
	Name string
	// SrcPath and DstPath are the two database files.
	SrcPath string
	DstPath string
	// Table describes the mirrored table.
	Table schema.TableSpec
}

// Config holds daemon configuration.
type Config struct {
	// Pairs are the store pairs to keep converging.
	Pairs []Pair

	// EventHook, if set, receives every pass event from every pair.
	EventHook func(pair string, ev engine.SyncEvent)

	// ConflictHook, if set, receives every resolved conflict.
	ConflictHook func(pair string, c engine.ConflictRecord, winner engine.ChangeRecord)

	// SyncLogger is the logger handed to each engine's "sync" channel.
	// If nil, each engine uses its stderr default.
	SyncLogger *log.Logger

	// Logger for daemon activity.
	Logger *log.Logger
}

// pairState tracks one running pair.
type pairState struct {
	cfg   Pair
	src   *store.Store
	dst   *store.Store
	eng   *engine.Engine
	nudge chan struct{}
}

// Daemon orchestrates engines and file watching for the configured pairs.
type Daemon struct {
	config *Config
	logger *log.Logger

	pairs   []*pairState
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon. Use Start to begin mirroring.
func New(config *Config) (*Daemon, error) {
	if config == nil || len(config.Pairs) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}
	for i := range config.Pairs {
		p := &config.Pairs[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("%s<->%s", filepath.Base(p.SrcPath), filepath.Base(p.DstPath))
		}
		if err := p.Table.Validate(); err != nil {
			return nil, fmt.Errorf("pair %s: %w", p.Name, err)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  config,
		logger:  logger,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start opens every pair's stores, spawns their engines, and begins watching
// the database files. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Printf("Starting daemon with %d pair(s)", len(d.config.Pairs))

	for _, pc := range d.config.Pairs {
		if err := d.startPair(pc); err != nil {
			d.teardown()
			return err
		}
	}

	d.wg.Add(1)
	go d.watchFileEvents()

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// startPair opens one pair's stores and constructs its engine.
func (d *Daemon) startPair(pc Pair) error {
	src, err := store.Open(pc.SrcPath)
	if err != nil {
		return fmt.Errorf("pair %s: failed to open src: %w", pc.Name, err)
	}
	dst, err := store.Open(pc.DstPath)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("pair %s: failed to open dst: %w", pc.Name, err)
	}

	nudge := make(chan struct{}, 1)

	opts := []engine.Option{engine.WithNudge(nudge)}
	if d.config.SyncLogger != nil {
		opts = append(opts, engine.WithLogger(d.config.SyncLogger))
	}
	if hook := d.config.EventHook; hook != nil {
		name := pc.Name
		opts = append(opts, engine.WithEventHook(func(ev engine.SyncEvent) { hook(name, ev) }))
	}
	if hook := d.config.ConflictHook; hook != nil {
		name := pc.Name
		opts = append(opts, engine.WithConflictHook(func(c engine.ConflictRecord, w engine.ChangeRecord) { hook(name, c, w) }))
	}

	eng, err := engine.New(src, dst, pc.Table, opts...)
	if err != nil {
		_ = src.Close()
		_ = dst.Close()
		return fmt.Errorf("pair %s: %w", pc.Name, err)
	}

	for _, dir := range []string{filepath.Dir(pc.SrcPath), filepath.Dir(pc.DstPath)} {
		if err := d.watcher.Add(dir); err != nil {
			d.logger.Printf("Warning: failed to watch %s: %v", dir, err)
		}
	}

	d.pairs = append(d.pairs, &pairState{cfg: pc, src: src, dst: dst, eng: eng, nudge: nudge})
	d.logger.Printf("Mirroring %s (table %s)", pc.Name, pc.Table.Name)
	return nil
}

// Stop gracefully shuts down every engine and closes all stores.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.teardown()

	d.logger.Println("Daemon stopped")
	return nil
}

// teardown stops engines and closes stores for every started pair.
func (d *Daemon) teardown() {
	for _, p := range d.pairs {
		p.eng.Stop()
		if err := p.src.Close(); err != nil {
			d.logger.Printf("Error closing %s src: %v", p.cfg.Name, err)
		}
		if err := p.dst.Close(); err != nil {
			d.logger.Printf("Error closing %s dst: %v", p.cfg.Name, err)
		}
	}
	d.pairs = nil
}

// watchFileEvents forwards database file changes to the owning engine's
// nudge channel so the next pass starts promptly.
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
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			d.nudgeMatching(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// nudgeMatching nudges every pair whose database files the changed path
// belongs to. SQLite writes land in the main file or its -wal sidecar, so
// matching is by filename prefix.
func (d *Daemon) nudgeMatching(path string) {
	for _, p := range d.pairs {
		if !pathTouches(path, p.cfg.SrcPath) && !pathTouches(path, p.cfg.DstPath) {
			continue
		}
		select {
		case p.nudge <- struct{}{}:
		default:
			// A nudge is already pending; one pass covers any number
			// of buffered changes.
		}
	}
}

// pathTouches reports whether changed is dbPath or one of its sidecar
// files (-wal, -shm).
func pathTouches(changed, dbPath string) bool {
	changedAbs, err := filepath.Abs(changed)
	if err != nil {
		return false
	}
	dbAbs, err := filepath.Abs(dbPath)
	if err != nil {
		return false
	}
	return changedAbs == dbAbs || strings.HasPrefix(changedAbs, dbAbs+"-")
}
