// Package watch maps file-system change events to test runs. Change events
// are debounced into batches; each changed file either runs directly (test
// files) or through its best-match companion test file.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/unitwatch/unitwatch/internal/discovery"
)

// Logger interface for debug logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// RunFunc receives the file path chosen for a run; the empty path means
// "run the whole suite".
type RunFunc func(path string)

// Config controls what the engine observes and how it reacts.
type Config struct {
	Root         string
	Glob         string        // watch glob, matched against root-relative paths
	Debounce     time.Duration // batching window for change events
	AffectedOnly bool          // false means any change runs the whole suite
}

// Engine is the watch state machine: disabled until Enable installs the
// observer, enabled until Disable tears it down and discards the pending
// batch.
type Engine struct {
	cfg    Config
	run    RunFunc
	logger Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	debounced func(func())
	pending   map[string]struct{}
	enabled   bool
	stopped   chan struct{}
}

// NewEngine creates a disabled watch engine delegating runs to run.
func NewEngine(cfg Config, run RunFunc, logger Logger) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 800 * time.Millisecond
	}
	return &Engine{cfg: cfg, run: run, logger: logger}
}

// Enable installs the file-system observer over the project tree and begins
// accumulating changed paths.
func (e *Engine) Enable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := e.addRecursive(watcher, e.cfg.Root); err != nil {
		_ = watcher.Close()
		return err
	}

	e.watcher = watcher
	e.debounced = debounce.New(e.cfg.Debounce)
	e.pending = make(map[string]struct{})
	e.stopped = make(chan struct{})
	e.enabled = true

	go e.loop(watcher, e.stopped)
	e.logger.Info("watch enabled over %s (%s)", e.cfg.Root, e.cfg.Glob)
	return nil
}

// Disable removes the observer and discards any pending batch.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return
	}
	e.enabled = false
	close(e.stopped)
	_ = e.watcher.Close()
	e.watcher = nil
	e.pending = nil
	e.logger.Info("watch disabled")
}

// Enabled reports the current state.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *Engine) loop(watcher *fsnotify.Watcher, stopped chan struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			e.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Error("watch error: %v", err)
		case <-stopped:
			return
		}
	}
}

func (e *Engine) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(e.cfg.Root, event.Name)
	if err != nil || discovery.IsExcludedPath(rel) {
		return
	}

	// New directories must be added to the observer; fsnotify does not
	// recurse on its own.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = e.addRecursive(watcher, event.Name)
			return
		}
	}

	if ok, _ := doublestar.Match(e.cfg.Glob, filepath.ToSlash(rel)); !ok {
		return
	}

	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}
	e.pending[event.Name] = struct{}{}
	debounced := e.debounced
	e.mu.Unlock()

	debounced(e.drain)
}

// drain runs the entire pending batch at once.
func (e *Engine) drain() {
	e.mu.Lock()
	if !e.enabled || len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = make(map[string]struct{})
	e.mu.Unlock()

	if !e.cfg.AffectedOnly {
		// One full-suite run per debounce window, however many files
		// changed.
		e.logger.Debug("watch: running full suite for %d changed file(s)", len(batch))
		e.run("")
		return
	}

	for path := range batch {
		target := e.resolveTarget(path)
		if target == "" {
			e.logger.Debug("watch: no companion test file for %s", path)
			continue
		}
		e.logger.Debug("watch: %s -> %s", path, target)
		e.run(target)
	}
}

// resolveTarget picks the test file to run for one changed file: the file
// itself when it follows the test-file naming convention, otherwise its
// best-match companion.
func (e *Engine) resolveTarget(path string) string {
	if isTestFile(filepath.Base(path)) {
		return path
	}
	return e.findCompanion(path)
}

// findCompanion searches the project for the two conventional naming
// transforms of the changed file's base name. When several candidates
// exist, the one with the shortest relative path to the changed file wins.
func (e *Engine) findCompanion(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".py")
	candidates := map[string]struct{}{
		"test_" + base + ".py": {},
		base + "_test.py":      {},
	}

	var best string
	bestDist := -1
	_ = filepath.WalkDir(e.cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if rel, err := filepath.Rel(e.cfg.Root, p); err == nil && discovery.IsExcludedPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := candidates[d.Name()]; !ok {
			return nil
		}
		dist := pathDistance(path, p)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = p, dist
		}
		return nil
	})
	return best
}

// isTestFile applies the test-file naming convention.
func isTestFile(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	base := strings.TrimSuffix(name, ".py")
	return strings.HasPrefix(base, "test") || strings.HasSuffix(base, "_test")
}

// pathDistance counts the segments of the relative path between two files.
func pathDistance(from, to string) int {
	rel, err := filepath.Rel(filepath.Dir(from), to)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}

// addRecursive watches dir and every non-excluded subdirectory.
func (e *Engine) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(e.cfg.Root, p); err == nil && rel != "." && discovery.IsExcludedPath(rel) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			e.logger.Debug("failed to watch %s: %v", p, err)
		}
		return nil
	})
}
