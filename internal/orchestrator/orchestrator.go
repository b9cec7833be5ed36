// Package orchestrator wires the engines together: discovery fills the
// catalog, the command builder and executor produce the output stream, the
// parser resolves statuses, and history records the session. The catalog
// store is constructed here and handed to every component that needs it.
package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/unitwatch/unitwatch/internal/catalog"
	"github.com/unitwatch/unitwatch/internal/command"
	"github.com/unitwatch/unitwatch/internal/config"
	"github.com/unitwatch/unitwatch/internal/discovery"
	"github.com/unitwatch/unitwatch/internal/executor"
	"github.com/unitwatch/unitwatch/internal/history"
	"github.com/unitwatch/unitwatch/internal/parser"
	"github.com/unitwatch/unitwatch/internal/watch"
)

// Logger interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// Orchestrator owns the shared catalog store and the engines around it.
type Orchestrator struct {
	settings  *config.Settings
	store     *catalog.Store
	discovery *discovery.Engine
	builder   *command.Builder
	executor  *executor.Engine
	history   *history.Engine
	logger    Logger

	mu         sync.Mutex
	discovered bool
	cancelled  bool
}

// New constructs the orchestration root and every engine it owns.
func New(settings *config.Settings, logger Logger) (*Orchestrator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	store := catalog.NewStore(logger)
	hist, err := history.NewEngine(settings.HistoryPath, settings.HistoryCapacity, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return &Orchestrator{
		settings: settings,
		store:    store,
		discovery: discovery.NewEngine(discovery.Config{
			Root:             settings.ProjectRoot,
			Glob:             settings.DiscoveryGlob,
			CasePrefix:       settings.CasePrefix,
			ExtraBaseClasses: settings.TestBaseClasses,
		}, store, logger),
		builder:  command.NewBuilder(settings),
		executor: executor.NewEngine(logger),
		history:  hist,
		logger:   logger,
	}, nil
}

// Close releases owned resources.
func (o *Orchestrator) Close() error {
	return o.history.Close()
}

// Store exposes the shared catalog store.
func (o *Orchestrator) Store() *catalog.Store { return o.store }

// History exposes the analytics engine.
func (o *Orchestrator) History() *history.Engine { return o.history }

// Discover runs full-project discovery and returns the hierarchy.
func (o *Orchestrator) Discover() (*discovery.Entity, error) {
	root, err := o.discovery.DiscoverAll()
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.discovered = true
	o.mu.Unlock()
	return root, nil
}

// RunOptions modify a single run.
type RunOptions struct {
	Profile string
	Debug   bool
	Bail    bool
}

// RunSummary is the outcome of one run.
type RunSummary struct {
	ExitCode  int
	Duration  time.Duration
	Cancelled bool
	Counts    map[catalog.Status]int
}

// Run executes the tests under target (empty means everything): statuses
// under the target reset to pending, the invocation streams through the
// parser, and finalization guarantees nothing is left pending.
func (o *Orchestrator) Run(target string, opts RunOptions) (*RunSummary, error) {
	o.mu.Lock()
	o.cancelled = false
	needDiscovery := !o.discovered
	o.mu.Unlock()

	if needDiscovery {
		if _, err := o.Discover(); err != nil {
			return nil, err
		}
	}

	leaf := false
	if target != "" {
		ent := o.discovery.Hierarchy().Find(target)
		if ent == nil {
			return nil, fmt.Errorf("unknown target %q", target)
		}
		leaf = ent.IsLeaf()
	}

	inv, err := o.builder.Build(target, command.Options{
		Profile: opts.Profile,
		Debug:   opts.Debug,
		Bail:    opts.Bail,
	})
	if err != nil {
		return nil, err
	}
	// A bad interpreter path errors out here, before any status changes.
	if err := checkExecutable(inv.Argv[0]); err != nil {
		return nil, err
	}

	prev := o.store.StatusesUnder(target)
	o.store.ResetSubtree(target)
	profileName := opts.Profile
	if profileName == "" {
		profileName = o.settings.Profile
	}
	o.history.StartSession(target, profileName)

	p := parser.New(o.store, o.logger, parser.Config{
		Target:       target,
		TargetIsLeaf: leaf,
		OnResult: func(res parser.Result) {
			o.history.RecordTest(history.TestRunRecord{
				CanonicalID:  res.CanonicalID,
				Status:       res.Status,
				DurationMs:   res.Duration.Milliseconds(),
				ErrorMessage: res.Message,
				Timestamp:    time.Now(),
			})
		},
	})

	ticker := time.NewTicker(parser.TickInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				p.Tick()
			case <-done:
				return
			}
		}
	}()

	o.logger.Info("running %s", inv)
	start := time.Now()
	exitCode := 0
	runErr := o.executor.Run(inv, p.Feed, func(code int) { exitCode = code })
	ticker.Stop()
	close(done)

	o.mu.Lock()
	cancelled := o.cancelled
	o.mu.Unlock()

	if runErr != nil {
		// The spawn failed: rewind the catalog to its pre-run statuses
		// and drop the session that never ran anything.
		o.store.RestoreStatuses(target, prev)
		o.history.AbandonSession()
		return nil, runErr
	}

	p.Flush(exitCode, inv.FailFast(), cancelled)
	o.history.EndSession()

	return &RunSummary{
		ExitCode:  exitCode,
		Duration:  time.Since(start),
		Cancelled: cancelled,
		Counts:    o.store.CountersUnder(target),
	}, nil
}

// Cancel requests the in-flight run stop; still-pending tests finalize as
// skipped.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.cancelled = true
	o.mu.Unlock()
	o.executor.Cancel()
}

// RunChangedFile is the watch delegate: it re-discovers the file and runs
// its module. The empty path runs the whole suite.
func (o *Orchestrator) RunChangedFile(path string) {
	target := ""
	if path != "" {
		if _, err := o.discovery.DiscoverOne(path); err != nil {
			o.logger.Error("failed to re-discover %s: %v", path, err)
		}
		mod, err := o.discovery.ModuleID(path)
		if err != nil {
			o.logger.Error("cannot map %s to a module: %v", path, err)
			return
		}
		target = mod
	}
	if _, err := o.Run(target, RunOptions{}); err != nil {
		o.logger.Error("watch run failed: %v", err)
	}
}

// WatchEngine constructs the watch engine wired to this orchestrator.
func (o *Orchestrator) WatchEngine() *watch.Engine {
	return watch.NewEngine(watch.Config{
		Root:         o.settings.ProjectRoot,
		Glob:         o.settings.WatchGlob,
		Debounce:     time.Duration(o.settings.WatchDebounceMs) * time.Millisecond,
		AffectedOnly: o.settings.AffectedOnly(),
	}, o.RunChangedFile, o.logger)
}

// checkExecutable verifies the interpreter can actually be spawned.
func checkExecutable(name string) error {
	if strings.ContainsRune(name, os.PathSeparator) {
		info, err := os.Stat(name)
		if err != nil {
			return fmt.Errorf("interpreter %s not found: %w", name, err)
		}
		if info.IsDir() {
			return fmt.Errorf("interpreter %s is a directory", name)
		}
		if info.Mode()&0111 == 0 {
			return fmt.Errorf("interpreter %s is not executable", name)
		}
		return nil
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("interpreter %s not found: %w", name, err)
	}
	return nil
}
