// Package watcher ingests files dropped into an inbox directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors the inbox and hands settled files to the intake service
// through a bounded goroutine pool. A file is removed from the inbox only
// after it was ingested (or found to be a duplicate); for a split file that
// means after every chunk was created.
type Watcher struct {
	dir      string
	intake   driving.IntakeService
	debounce time.Duration
	poolSize int
	logger   *slog.Logger

	mu      sync.Mutex
	fs      *fsnotify.Watcher
	pool    *ants.Pool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup // event loop
	jobs    sync.WaitGroup // submitted ingestions

	// Debounce map to avoid ingesting a file that is still being written
	debounceMu  sync.Mutex
	debounceMap map[string]*time.Timer
	inflight    map[string]bool
}

// Config holds watcher configuration.
type Config struct {
	Dir      string
	Intake   driving.IntakeService
	Debounce time.Duration // default: 500ms
	PoolSize int           // concurrent ingestions (default: 2)
	Logger   *slog.Logger
}

// New creates a new inbox watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" || cfg.Intake == nil {
		return nil, fmt.Errorf("%w: watcher needs an inbox directory and an intake service", domain.ErrInvalidInput)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	return &Watcher{
		dir:         cfg.Dir,
		intake:      cfg.Intake,
		debounce:    debounce,
		poolSize:    poolSize,
		logger:      logger.With("component", "watcher"),
		debounceMap: make(map[string]*time.Timer),
		inflight:    make(map[string]bool),
	}, nil
}

// Start watches the inbox and queues every file already in it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs != nil {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	pool, err := ants.NewPool(w.poolSize)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		pool.Release()
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		pool.Release()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.fs = fsw
	w.pool = pool
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.stopped = false

	w.wg.Add(1)
	go w.processEvents()

	// Files that arrived while nothing was watching
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to scan inbox", "dir", w.dir, "error", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(filepath.Join(w.dir, e.Name()))
		}
	}

	w.logger.Info("inbox watcher started", "dir", w.dir, "pool_size", w.poolSize)
	return nil
}

// Stop stops watching, drops pending debounce timers and waits for running
// ingestions to finish.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.fs == nil || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fsw, pool := w.fs, w.pool
	w.mu.Unlock()

	_ = fsw.Close()
	w.wg.Wait()

	w.debounceMu.Lock()
	for path, timer := range w.debounceMap {
		timer.Stop()
		delete(w.debounceMap, path)
	}
	w.debounceMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.jobs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	w.cancel()
	pool.Release()

	w.mu.Lock()
	w.fs, w.pool = nil, nil
	w.mu.Unlock()

	w.logger.Info("inbox watcher stopped")
	return err
}

// processEvents processes file system events
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// Only Create and Write matter; removals are our own cleanup
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	if ignored(path) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceMap[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() { w.settled(path) })
}

// settled submits path once its debounce window has passed.
func (w *Watcher) settled(path string) {
	w.debounceMu.Lock()
	delete(w.debounceMap, path)
	if w.inflight[path] {
		w.debounceMu.Unlock()
		return
	}
	w.inflight[path] = true
	w.debounceMu.Unlock()

	w.mu.Lock()
	pool, stopped := w.pool, w.stopped
	if pool == nil || stopped {
		w.mu.Unlock()
		w.clearInflight(path)
		return
	}
	w.jobs.Add(1)
	w.mu.Unlock()

	err := pool.Submit(func() {
		defer w.jobs.Done()
		defer w.clearInflight(path)
		w.ingest(path)
	})
	if err != nil {
		w.jobs.Done()
		w.clearInflight(path)
		w.logger.Error("failed to submit ingestion", "path", path, "error", err)
	}
}

func (w *Watcher) clearInflight(path string) {
	w.debounceMu.Lock()
	delete(w.inflight, path)
	w.debounceMu.Unlock()
}

// ingest runs one file through intake and clears it from the inbox.
func (w *Watcher) ingest(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	result, err := w.intake.IngestFile(w.ctx, path)
	switch {
	case err == nil:
		w.logger.Info("ingested inbox file", "path", path, "documents", len(result.Documents), "split", result.Split)
	case errors.Is(err, domain.ErrAlreadyExists):
		w.logger.Info("inbox file is a duplicate", "path", path)
	default:
		// Left in place; a later write or restart picks it up again
		w.logger.Error("failed to ingest inbox file", "path", path, "error", err)
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("failed to remove ingested file", "path", path, "error", err)
	}
}

// ignored skips hidden files and partial downloads.
func ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".part", ".tmp", ".crdownload":
		return true
	}
	return false
}
