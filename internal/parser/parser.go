// Package parser turns the runner's chunked, ANSI-colored output stream
// into per-test outcomes written to the catalog store. Feed only buffers;
// complete lines are extracted and classified on a periodic tick, and a
// final flush resolves everything still outstanding from the exit code.
package parser

import (
	"strings"
	"sync"
	"time"

	"github.com/unitwatch/unitwatch/internal/catalog"
)

// TickInterval is the cadence at which buffered lines are extracted and
// classified during a run.
const TickInterval = 200 * time.Millisecond

// Logger interface for debug logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Result is a finished outcome for one identifier, emitted for history
// recording as it is parsed.
type Result struct {
	CanonicalID string
	Status      catalog.Status
	Duration    time.Duration
	HasDuration bool
	Message     string
}

// Config scopes a parser to one run.
type Config struct {
	Target       string       // canonical id under observation; empty means everything
	TargetIsLeaf bool         // suite-terminal lines resolve the target itself only when it is a leaf
	OnResult     func(Result) // optional history hook
}

// Parser is the per-run outcome extraction state machine.
type Parser struct {
	mu     sync.Mutex
	store  *catalog.Store
	logger Logger
	cfg    Config

	buf          []byte
	pending      string // pending test identifier register
	pendingSince time.Time

	// Summary-block failure capture
	blockID    string
	blockLines []string

	emitted map[string]bool
}

// New creates a parser writing into store.
func New(store *catalog.Store, logger Logger, cfg Config) *Parser {
	return &Parser{
		store:   store,
		logger:  logger,
		cfg:     cfg,
		emitted: make(map[string]bool),
	}
}

// Feed appends a chunk to the buffer. No line-level work happens here; the
// stream arrives with no line-boundary guarantee.
func (p *Parser) Feed(chunk []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, chunk...)
	p.mu.Unlock()
}

// Tick extracts every complete line currently buffered and classifies each
// independently.
func (p *Parser) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := lastNewline(p.buf)
	if idx < 0 {
		return
	}
	complete := string(p.buf[:idx+1])
	p.buf = p.buf[idx+1:]
	p.classifyLines(complete)
}

// Flush drains the buffer, including any trailing partial line, and then
// resolves every identifier under the target that is still pending:
// success exit means assumed passed, a non-zero exit under fail-fast means
// skipped, any other non-zero exit means unknown, and cancellation means
// skipped regardless of exit code.
func (p *Parser) Flush(exitCode int, failFast, cancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remainder := string(p.buf)
	p.buf = nil
	p.classifyLines(remainder)
	p.closeFailureBlock()

	final := catalog.StatusUnknown
	switch {
	case cancelled:
		final = catalog.StatusSkipped
	case exitCode == 0:
		// The runner reports failures explicitly; silence plus a clean
		// exit is a pass.
		final = catalog.StatusPassed
	case failFast:
		// Tests after the first failure never ran.
		final = catalog.StatusSkipped
	}

	for _, id := range p.store.PendingUnder(p.cfg.Target) {
		p.store.SetStatus(id, final)
		p.emit(Result{CanonicalID: id, Status: final})
	}
	p.store.FlushNotifications()
}

// classifyLines applies every line of text; callers hold the lock.
func (p *Parser) classifyLines(text string) {
	for _, raw := range strings.Split(text, "\n") {
		line := stripANSI(strings.TrimRight(raw, "\r"))
		p.applyLine(line)
	}
}

func (p *Parser) applyLine(line string) {
	c := classify(line)
	switch c.kind {
	case lineTestHeader:
		p.pending = c.id
		p.pendingSince = time.Now()

	case lineTestResult:
		var started time.Time
		if p.pending == c.id {
			started = p.pendingSince
			p.pending = ""
		}
		p.resolve(c, started)

	case lineBareResult:
		if p.pending == "" {
			return
		}
		c.id = p.pending
		p.pending = ""
		p.resolve(c, p.pendingSince)

	case lineSummaryFailure:
		// Authoritative fallback: the summary block names failures even
		// when their per-line verdict was absent or malformed.
		p.closeFailureBlock()
		p.store.SetFailure(c.id, c.marker+": "+c.id, nil)
		p.blockID = c.id
		p.blockLines = nil
		if !p.emitted[c.id] {
			p.emit(Result{CanonicalID: c.id, Status: catalog.StatusFailed, Message: c.marker + ": " + c.id})
		}

	case lineSuiteFailed:
		if p.cfg.TargetIsLeaf && p.cfg.Target != "" {
			p.store.SetFailure(p.cfg.Target, "suite reported failures", nil)
			p.emit(Result{CanonicalID: p.cfg.Target, Status: catalog.StatusFailed})
		}

	case lineSuiteOK:
		if p.cfg.TargetIsLeaf && p.cfg.Target != "" {
			p.store.SetStatus(p.cfg.Target, catalog.StatusPassed)
			p.emit(Result{CanonicalID: p.cfg.Target, Status: catalog.StatusPassed})
		}

	case lineSeparator:
		// The dash separator right after a FAIL:/ERROR: header precedes
		// the traceback; only a block with accumulated lines is complete.
		if len(p.blockLines) > 0 {
			p.closeFailureBlock()
		}

	default:
		if p.blockID != "" {
			p.blockLines = append(p.blockLines, line)
		}
		// Otherwise ignored: parsing is best-effort and never fails on
		// unexpected transcript lines.
	}
}

// resolve applies a transcript verdict for one identifier. started, when
// non-zero, is when the test's header line was seen; it supplies the
// wall-clock duration fallback for transcripts without inline durations.
func (p *Parser) resolve(c classified, started time.Time) {
	res := Result{CanonicalID: c.id, Status: c.result}
	switch c.result {
	case catalog.StatusFailed:
		res.Message = c.marker + ": " + c.id
		p.store.SetFailure(c.id, res.Message, nil)
	default:
		p.store.SetStatus(c.id, c.result)
	}

	switch {
	case c.hasDuration:
		res.Duration = time.Duration(c.duration * float64(time.Second))
		res.HasDuration = true
	case !started.IsZero():
		res.Duration = time.Since(started)
		res.HasDuration = true
	}
	if res.HasDuration {
		p.store.SetDuration(c.id, res.Duration)
	}
	p.emit(res)
}

// closeFailureBlock attaches the accumulated traceback (and any extracted
// expected/actual pair) to the failing identifier.
func (p *Parser) closeFailureBlock() {
	if p.blockID == "" {
		return
	}
	id := p.blockID
	p.blockID = ""
	message := strings.TrimSpace(strings.Join(p.blockLines, "\n"))
	p.blockLines = nil
	if message == "" {
		return
	}
	p.store.SetFailure(id, message, extractDiff(message))
}

// extractDiff pulls an actual/expected pair out of an AssertionError line
// of the form `AssertionError: <actual> != <expected>`.
func extractDiff(message string) *catalog.Diff {
	for _, line := range strings.Split(message, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "AssertionError: ")
		if !ok {
			continue
		}
		actual, expected, found := strings.Cut(rest, " != ")
		if !found {
			return nil
		}
		return &catalog.Diff{Expected: strings.TrimSpace(expected), Actual: strings.TrimSpace(actual)}
	}
	return nil
}

func (p *Parser) emit(res Result) {
	p.emitted[res.CanonicalID] = true
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(res)
	}
}

func lastNewline(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == '\n' {
			return i
		}
	}
	return -1
}
