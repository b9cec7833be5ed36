package parser

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/unitwatch/unitwatch/internal/catalog"
)

// lineKind is the token a transcript line lexes to. Ambiguous or malformed
// lines always land on lineUnrecognized rather than depending on match
// order.
type lineKind int

const (
	lineUnrecognized lineKind = iota
	lineTestHeader            // `name (dotted.path)` with no trailing result
	lineTestResult            // `name (dotted.path) ... ok`
	lineBareResult            // `... ok` resolving the pending register
	lineSummaryFailure        // `FAIL: name (dotted.path)` in the summary block
	lineSuiteOK               // `OK` / `OK (skipped=2)`
	lineSuiteFailed           // `FAILED (failures=1, errors=2)`
	lineSeparator             // `====` / `----` block delimiters
)

// classified is the lexed form of one line.
type classified struct {
	kind        lineKind
	id          string
	result      catalog.Status
	marker      string // raw result word, kept for failure placeholders
	duration    float64
	hasDuration bool
}

// classify lexes a single ANSI-stripped line.
func classify(line string) classified {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return classified{kind: lineUnrecognized}
	}

	if isSeparator(trimmed) {
		return classified{kind: lineSeparator}
	}

	for _, marker := range []string{"FAIL: ", "ERROR: "} {
		if rest, ok := strings.CutPrefix(trimmed, marker); ok {
			if id, _, ok := parseTestRef(rest); ok {
				return classified{
					kind:   lineSummaryFailure,
					id:     id,
					result: catalog.StatusFailed,
					marker: strings.TrimSuffix(marker, ": "),
				}
			}
			return classified{kind: lineUnrecognized}
		}
	}

	if trimmed == "OK" || strings.HasPrefix(trimmed, "OK (") {
		return classified{kind: lineSuiteOK}
	}
	if strings.HasPrefix(trimmed, "FAILED (") &&
		(strings.Contains(trimmed, "failures=") || strings.Contains(trimmed, "errors=")) {
		return classified{kind: lineSuiteFailed}
	}

	head, tail, hasEllipsis := strings.Cut(trimmed, " ... ")
	if !hasEllipsis && strings.HasSuffix(trimmed, " ...") {
		head, tail, hasEllipsis = strings.TrimSuffix(trimmed, " ..."), "", true
	}

	id, _, headIsRef := parseTestRef(head)

	if hasEllipsis {
		result, marker, dur, hasDur, resultOK := parseResult(tail)
		switch {
		case headIsRef && resultOK:
			return classified{kind: lineTestResult, id: id, result: result, marker: marker, duration: dur, hasDuration: hasDur}
		case headIsRef:
			// Result not on this line yet (slow test, or output
			// interleaved before the verdict).
			return classified{kind: lineTestHeader, id: id}
		case resultOK:
			return classified{kind: lineBareResult, result: result, marker: marker, duration: dur, hasDuration: hasDur}
		default:
			return classified{kind: lineUnrecognized}
		}
	}

	if headIsRef {
		return classified{kind: lineTestHeader, id: id}
	}
	return classified{kind: lineUnrecognized}
}

// parseTestRef parses `name (dotted.path)` and derives the canonical id:
// the dotted path, qualified with .name unless already suffixed by it.
func parseTestRef(s string) (id, name string, ok bool) {
	s = strings.TrimSpace(s)
	sp := strings.IndexByte(s, ' ')
	if sp <= 0 {
		return "", "", false
	}
	name = s[:sp]
	if !identLike(name) {
		return "", "", false
	}
	rest := strings.TrimSpace(s[sp+1:])
	if !strings.HasPrefix(rest, "(") {
		return "", "", false
	}
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return "", "", false
	}
	path := rest[1:end]
	if path == "" || !dottedPathLike(path) {
		return "", "", false
	}
	id = path
	if !strings.HasSuffix(path, "."+name) {
		id = path + "." + name
	}
	return id, name, true
}

// parseResult maps the text after the ellipsis to a status. The optional
// trailing `(0.123s)` duration some runners emit is captured when present.
func parseResult(tail string) (status catalog.Status, marker string, duration float64, hasDuration bool, ok bool) {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return "", "", 0, false, false
	}
	word := tail
	rest := ""
	if sp := strings.IndexByte(tail, ' '); sp > 0 {
		word, rest = tail[:sp], strings.TrimSpace(tail[sp+1:])
	}

	switch word {
	case "ok":
		status, marker, ok = catalog.StatusPassed, word, true
	case "skipped":
		status, marker, ok = catalog.StatusSkipped, word, true
	case "FAIL":
		status, marker, ok = catalog.StatusFailed, word, true
	case "ERROR":
		status, marker, ok = catalog.StatusFailed, word, true
	case "expected":
		if strings.HasPrefix(rest, "failure") {
			status, marker, ok = catalog.StatusPassed, "expected failure", true
		}
	case "unexpected":
		if strings.HasPrefix(rest, "success") {
			status, marker, ok = catalog.StatusFailed, "unexpected success", true
		}
	}
	if !ok {
		return "", "", 0, false, false
	}

	if open := strings.LastIndexByte(rest, '('); open >= 0 {
		inner := rest[open+1:]
		if closeIdx := strings.IndexByte(inner, ')'); closeIdx > 0 {
			if secs, err := strconv.ParseFloat(strings.TrimSuffix(inner[:closeIdx], "s"), 64); err == nil {
				duration, hasDuration = secs, true
			}
		}
	}
	return status, marker, duration, hasDuration, true
}

func isSeparator(s string) bool {
	if len(s) < 10 {
		return false
	}
	first := s[0]
	if first != '=' && first != '-' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != first {
			return false
		}
	}
	return true
}

func identLike(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return !unicode.IsDigit(rune(s[0]))
}

func dottedPathLike(s string) bool {
	for _, seg := range strings.Split(s, ".") {
		if !identLike(seg) {
			return false
		}
	}
	return true
}
