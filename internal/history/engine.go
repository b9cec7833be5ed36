// Package history persists completed run sessions and computes derived
// analytics: flakiness, slowest tests, and most-failing tests.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/unitwatch/unitwatch/internal/catalog"
)

var sessionsBucket = []byte("sessions")

// Logger interface for debug logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Engine records run sessions into a bounded FIFO ring backed by a bbolt
// database. An unavailable or corrupt database degrades to empty in-memory
// history rather than failing activation.
type Engine struct {
	mu       sync.Mutex
	sessions []*Session
	open     *Session
	capacity int
	db       *bolt.DB
	entropy  io.Reader
	logger   Logger
}

// NewEngine opens (or creates) the history database at path and loads the
// retained sessions.
func NewEngine(path string, capacity int, logger Logger) (*Engine, error) {
	if capacity <= 0 {
		capacity = 1
	}
	e := &Engine{
		capacity: capacity,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:   logger,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Error("failed to create history directory: %v", err)
		return e, nil
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		logger.Error("history storage unavailable, starting empty: %v", err)
		return e, nil
	}
	e.db = db
	e.load()
	return e, nil
}

// Close closes the underlying database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// StartSession opens a new session. Any session left open is sealed first.
func (e *Engine) StartSession(target, profile string) *Session {
	e.mu.Lock()
	if e.open != nil {
		e.sealLocked()
	}
	s := &Session{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String(),
		Target:    target,
		Profile:   profile,
		StartTime: time.Now(),
	}
	e.open = s
	e.mu.Unlock()
	return s
}

// RecordTest appends one outcome to the open session, opening one first if
// none is.
func (e *Engine) RecordTest(rec TestRunRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == nil {
		e.open = &Session{
			ID:        ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String(),
			StartTime: time.Now(),
		}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	e.open.Records = append(e.open.Records, rec)
	e.open.Total++
	switch rec.Status {
	case catalog.StatusPassed:
		e.open.Passed++
	case catalog.StatusFailed:
		e.open.Failed++
	case catalog.StatusSkipped:
		e.open.Skipped++
	}
}

// EndSession seals the open session: its duration is computed, the oldest
// session is evicted if the ring is over capacity, and the result is
// persisted.
func (e *Engine) EndSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealLocked()
}

// AbandonSession discards the open session without sealing or persisting
// it. Used when the run it was opened for never actually started.
func (e *Engine) AbandonSession() {
	e.mu.Lock()
	e.open = nil
	e.mu.Unlock()
}

// Sessions returns the retained sessions, oldest first.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Clear discards all retained sessions, in memory and on disk.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = nil
	e.open = nil
	if e.db == nil {
		return nil
	}
	return e.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(sessionsBucket) == nil {
			return nil
		}
		return tx.DeleteBucket(sessionsBucket)
	})
}

// Flakiness computes the pass/fail transition rate for one identifier
// across its chronologically sorted history. It requires at least three
// records; a test that is always red or always green scores 0.
func (e *Engine) Flakiness(id string) (float64, bool) {
	records := e.recordsFor(id)
	if len(records) < 3 {
		return 0, false
	}
	transitions := 0
	for i := 1; i < len(records); i++ {
		if records[i].Status != records[i-1].Status {
			transitions++
		}
	}
	return float64(transitions) / float64(len(records)-1), true
}

// Flakiest returns the top-n identifiers by flakiness score.
func (e *Engine) Flakiest(n int) []FlakyTest {
	byID := e.recordsByID()
	var rows []FlakyTest
	for id, records := range byID {
		if len(records) < 3 {
			continue
		}
		transitions := 0
		for i := 1; i < len(records); i++ {
			if records[i].Status != records[i-1].Status {
				transitions++
			}
		}
		score := float64(transitions) / float64(len(records)-1)
		if score > 0 {
			rows = append(rows, FlakyTest{CanonicalID: id, Score: score, Runs: len(records)})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].CanonicalID < rows[j].CanonicalID
	})
	return capRows(rows, n)
}

// Slowest returns the top-n identifiers by arithmetic mean duration across
// all retained sessions.
func (e *Engine) Slowest(n int) []SlowTest {
	var rows []SlowTest
	for id, records := range e.recordsByID() {
		var total float64
		count := 0
		for _, rec := range records {
			if rec.DurationMs > 0 {
				total += float64(rec.DurationMs)
				count++
			}
		}
		if count == 0 {
			continue
		}
		rows = append(rows, SlowTest{CanonicalID: id, MeanMs: total / float64(count), Runs: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MeanMs != rows[j].MeanMs {
			return rows[i].MeanMs > rows[j].MeanMs
		}
		return rows[i].CanonicalID < rows[j].CanonicalID
	})
	return capRows(rows, n)
}

// MostFailing returns the top-n identifiers by failure ratio.
func (e *Engine) MostFailing(n int) []FailingTest {
	var rows []FailingTest
	for id, records := range e.recordsByID() {
		failures := 0
		for _, rec := range records {
			if rec.Status == catalog.StatusFailed {
				failures++
			}
		}
		if failures == 0 {
			continue
		}
		rows = append(rows, FailingTest{
			CanonicalID: id,
			FailureRate: float64(failures) / float64(len(records)),
			Failures:    failures,
			Runs:        len(records),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FailureRate != rows[j].FailureRate {
			return rows[i].FailureRate > rows[j].FailureRate
		}
		return rows[i].CanonicalID < rows[j].CanonicalID
	})
	return capRows(rows, n)
}

// ExportJSON writes the retained sessions as a JSON document identical in
// shape to the persisted records.
func (e *Engine) ExportJSON(w io.Writer) error {
	sessions := e.Sessions()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sessions); err != nil {
		return fmt.Errorf("failed to export history: %w", err)
	}
	return nil
}

// sealLocked finishes the open session and persists it.
func (e *Engine) sealLocked() {
	if e.open == nil {
		return
	}
	s := e.open
	e.open = nil
	s.EndTime = time.Now()

	e.sessions = append(e.sessions, s)
	var evicted []*Session
	for len(e.sessions) > e.capacity {
		evicted = append(evicted, e.sessions[0])
		e.sessions = e.sessions[1:]
	}
	e.persist(s, evicted)
}

func (e *Engine) persist(s *Session, evicted []*Session) {
	if e.db == nil {
		return
	}
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(s.ID), data); err != nil {
			return err
		}
		for _, old := range evicted {
			if err := bucket.Delete([]byte(old.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to persist session %s: %v", s.ID, err)
	}
}

// load reads retained sessions; corrupt entries are skipped.
func (e *Engine) load() {
	err := e.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var s Session
			if err := json.Unmarshal(v, &s); err != nil {
				e.logger.Error("skipping corrupt session %s: %v", string(k), err)
				return nil
			}
			e.sessions = append(e.sessions, &s)
			return nil
		})
	})
	if err != nil {
		e.logger.Error("failed to load history, starting empty: %v", err)
		e.sessions = nil
		return
	}
	// ULID keys sort chronologically.
	sort.Slice(e.sessions, func(i, j int) bool { return e.sessions[i].ID < e.sessions[j].ID })
	for len(e.sessions) > e.capacity {
		e.sessions = e.sessions[1:]
	}
}

// recordsFor returns id's records across sessions in chronological order,
// filtered to pass/fail outcomes.
func (e *Engine) recordsFor(id string) []TestRunRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []TestRunRecord
	for _, s := range e.sessions {
		for _, rec := range s.Records {
			if rec.CanonicalID == id && passOrFail(rec.Status) {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (e *Engine) recordsByID() map[string][]TestRunRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	byID := make(map[string][]TestRunRecord)
	for _, s := range e.sessions {
		for _, rec := range s.Records {
			if passOrFail(rec.Status) {
				byID[rec.CanonicalID] = append(byID[rec.CanonicalID], rec)
			}
		}
	}
	return byID
}

func passOrFail(s catalog.Status) bool {
	return s == catalog.StatusPassed || s == catalog.StatusFailed
}

func capRows[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
