package discovery

import (
	"strings"
	"unicode"
)

// defaultBaseClasses are the built-in test base identifiers. A class whose
// declared parent list mentions one of these (after reducing qualified names
// to their final segment) opens a test group.
var defaultBaseClasses = []string{
	"TestCase",
	"SimpleTestCase",
	"TransactionTestCase",
	"LiveServerTestCase",
	"StaticLiveServerTestCase",
	"APITestCase",
	"APISimpleTestCase",
	"APITransactionTestCase",
	"IsolatedAsyncioTestCase",
}

// groupMarkerPrefix is the name prefix that marks a class as a test group
// even without a recognized base class.
const groupMarkerPrefix = "Test"

// scannedCase is a case declaration found inside a group.
type scannedCase struct {
	Name string
	Line int
}

// scannedGroup is a test-shaped class and the cases declared inside it.
type scannedGroup struct {
	Name   string
	Line   int
	indent int
	Cases  []scannedCase
}

// scanner performs the restricted lexical scan over one source file. It is
// not a Python parser: it only recognizes test-shaped class and def
// declarations, tracked with a single current-group register.
type scanner struct {
	casePrefix  string
	baseClasses map[string]struct{}
}

func newScanner(casePrefix string, extraBases []string) *scanner {
	bases := make(map[string]struct{}, len(defaultBaseClasses)+len(extraBases))
	for _, b := range defaultBaseClasses {
		bases[b] = struct{}{}
	}
	for _, b := range extraBases {
		if b = strings.TrimSpace(b); b != "" {
			bases[b] = struct{}{}
		}
	}
	if casePrefix == "" {
		casePrefix = "test"
	}
	return &scanner{casePrefix: casePrefix, baseClasses: bases}
}

// hasTestMarker is the cheap pre-check that lets full-project discovery skip
// the line scan for files that cannot contain a test class.
func (sc *scanner) hasTestMarker(content string) bool {
	if !strings.Contains(content, "class ") {
		return false
	}
	if strings.Contains(content, "class "+groupMarkerPrefix) {
		return true
	}
	for base := range sc.baseClasses {
		if strings.Contains(content, base) {
			return true
		}
	}
	return false
}

// scan walks the file's lines once, maintaining the current enclosing group.
func (sc *scanner) scan(content string) []scannedGroup {
	var groups []scannedGroup
	var current *scannedGroup

	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := indentOf(line)

		if name, parents, ok := parseClassDecl(trimmed); ok {
			if current != nil {
				groups = append(groups, *current)
				current = nil
			}
			if sc.groupQualifies(name, parents) {
				current = &scannedGroup{Name: name, Line: i + 1, indent: indent}
			}
			continue
		}

		// Any statement at or left of the group's indentation ends its
		// scope.
		if current != nil && indent <= current.indent {
			groups = append(groups, *current)
			current = nil
		}

		if current != nil {
			if name, ok := parseCaseDecl(trimmed); ok && strings.HasPrefix(name, sc.casePrefix) {
				current.Cases = append(current.Cases, scannedCase{Name: name, Line: i + 1})
			}
		}
	}
	if current != nil {
		groups = append(groups, *current)
	}
	return groups
}

// groupQualifies applies the two group-opening rules: a recognized
// test-marker name prefix, or literal inheritance from a known base.
func (sc *scanner) groupQualifies(name string, parents []string) bool {
	if strings.HasPrefix(name, groupMarkerPrefix) {
		return true
	}
	for _, p := range parents {
		if _, ok := sc.baseClasses[finalSegment(p)]; ok {
			return true
		}
	}
	return false
}

// parseClassDecl recognizes `class Name:` and `class Name(Base, ...):`.
func parseClassDecl(trimmed string) (name string, parents []string, ok bool) {
	if !strings.HasPrefix(trimmed, "class ") {
		return "", nil, false
	}
	rest := strings.TrimSpace(trimmed[len("class "):])
	end := len(rest)
	for i, r := range rest {
		if r == '(' || r == ':' || unicode.IsSpace(r) {
			end = i
			break
		}
	}
	name = rest[:end]
	if !validIdentifier(name) {
		return "", nil, false
	}

	if open := strings.IndexByte(rest, '('); open >= 0 {
		closeIdx := strings.IndexByte(rest[open:], ')')
		if closeIdx < 0 {
			// Malformed or multi-line parent list; take what is there.
			closeIdx = len(rest) - open
		}
		for _, p := range strings.Split(rest[open+1:open+closeIdx], ",") {
			p = strings.TrimSpace(p)
			if p == "" || strings.Contains(p, "=") {
				continue // keyword arguments such as metaclass=
			}
			parents = append(parents, p)
		}
	}
	return name, parents, true
}

// parseCaseDecl recognizes `def name(` and the asynchronous variant
// `async def name(`.
func parseCaseDecl(trimmed string) (string, bool) {
	rest, found := strings.CutPrefix(trimmed, "async ")
	if found {
		trimmed = strings.TrimSpace(rest)
	}
	rest, found = strings.CutPrefix(trimmed, "def ")
	if !found {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	end := strings.IndexByte(rest, '(')
	if end < 0 {
		return "", false
	}
	name := rest[:end]
	if !validIdentifier(name) {
		return "", false
	}
	return name, true
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// finalSegment reduces a qualified name like unittest.TestCase to TestCase.
func finalSegment(s string) string {
	if idx := strings.LastIndexByte(s, '.'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
