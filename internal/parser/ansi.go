package parser

import "regexp"

// ansiPattern matches CSI color/cursor sequences; the runner emits them
// freely once it detects a terminal.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// stripANSI removes escape sequences before classification.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
