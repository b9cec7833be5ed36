// Package catalog implements the shared status store keyed by canonical
// test identifier. All components write into one injected Store instance;
// change notification is debounced so a burst of parser writes produces a
// single redraw signal.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// notifyDebounce is the window that batches rapid-fire status writes into
// one change notification.
const notifyDebounce = 150 * time.Millisecond

// Logger interface for debug logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Store maps canonical identifiers to their current Record. It is safe for
// concurrent use; a single mutex serializes all access.
type Store struct {
	mu        sync.Mutex
	records   map[string]*Record
	listeners []func()
	debounced func(func())
	logger    Logger
}

// NewStore creates an empty store.
func NewStore(logger Logger) *Store {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Store{
		records:   make(map[string]*Record),
		debounced: debounce.New(notifyDebounce),
		logger:    logger,
	}
}

// Subscribe registers a change listener. Listeners are invoked outside the
// store lock, once per debounce window.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Register creates a record with status unknown if none exists for id.
// Re-discovery calls this repeatedly; it never downgrades an existing
// status.
func (s *Store) Register(id string) {
	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.records[id] = &Record{Status: StatusUnknown}
	}
	s.mu.Unlock()
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// SetStatus sets the status for id, creating the record if needed.
func (s *Store) SetStatus(id string, status Status) {
	s.mu.Lock()
	rec := s.ensureLocked(id)
	rec.Status = status
	s.mu.Unlock()
	s.notify()
}

// SetFailure marks id failed and records the failure detail.
func (s *Store) SetFailure(id, message string, diff *Diff) {
	s.mu.Lock()
	rec := s.ensureLocked(id)
	rec.Status = StatusFailed
	rec.LastFailureMessage = message
	rec.LastDiff = diff
	s.mu.Unlock()
	s.notify()
}

// SetDuration records the most recent measured duration for id.
func (s *Store) SetDuration(id string, d time.Duration) {
	s.mu.Lock()
	rec := s.ensureLocked(id)
	rec.LastDuration = d
	rec.HasDuration = true
	s.mu.Unlock()
	s.notify()
}

// ResetSubtree sets the target id and every descendant id to pending.
// Descendants are identified by the dot-path prefix; an empty target resets
// every record. Applied before each run so no stale terminal status is
// visible while the run is in flight.
func (s *Store) ResetSubtree(target string) {
	s.mu.Lock()
	for id, rec := range s.records {
		if underTarget(id, target) {
			rec.Status = StatusPending
		}
	}
	if target != "" {
		s.ensureLocked(target).Status = StatusPending
	}
	s.mu.Unlock()
	s.notify()
}

// PendingUnder returns the sorted ids under target whose status is still
// pending. Finalization uses this to resolve every outstanding identifier.
func (s *Store) PendingUnder(target string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.records {
		if rec.Status == StatusPending && underTarget(id, target) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// StatusesUnder returns the current status of every id under target. A run
// snapshots these before its pending reset so a failed spawn can rewind.
func (s *Store) StatusesUnder(target string) map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status)
	for id, rec := range s.records {
		if underTarget(id, target) {
			out[id] = rec.Status
		}
	}
	return out
}

// RestoreStatuses rewinds every record under target to its status in prev.
// Records under target that prev does not mention were created after the
// snapshot and are removed.
func (s *Store) RestoreStatuses(target string, prev map[string]Status) {
	s.mu.Lock()
	for id, rec := range s.records {
		if !underTarget(id, target) {
			continue
		}
		st, ok := prev[id]
		if !ok {
			delete(s.records, id)
			continue
		}
		rec.Status = st
	}
	s.mu.Unlock()
	s.notify()
}

// CountersUnder tallies statuses for every id under target.
func (s *Store) CountersUnder(target string) map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for id, rec := range s.records {
		if underTarget(id, target) {
			counts[rec.Status]++
		}
	}
	return counts
}

// Snapshot returns a copy of every record.
func (s *Store) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = *rec
	}
	return out
}

// Clear removes every record. This is the only way records are deleted;
// stale entries for removed tests otherwise survive so their history keeps
// its context.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.mu.Unlock()
	s.notify()
}

// FlushNotifications invokes listeners immediately, bypassing the debounce
// window. Called when a run is known to be fully complete.
func (s *Store) FlushNotifications() {
	for _, fn := range s.snapshotListeners() {
		fn()
	}
}

func (s *Store) ensureLocked(id string) *Record {
	rec, ok := s.records[id]
	if !ok {
		rec = &Record{Status: StatusUnknown}
		s.records[id] = rec
	}
	return rec
}

func (s *Store) notify() {
	s.debounced(s.FlushNotifications)
}

func (s *Store) snapshotListeners() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(), len(s.listeners))
	copy(out, s.listeners)
	return out
}

// underTarget reports whether id equals target or is a dot-path descendant
// of it. The empty target covers everything.
func underTarget(id, target string) bool {
	if target == "" {
		return true
	}
	return id == target || strings.HasPrefix(id, target+".")
}

type noopLogger struct{}

func (n *noopLogger) Debug(format string, args ...interface{}) {}
func (n *noopLogger) Error(format string, args ...interface{}) {}
