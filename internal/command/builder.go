// Package command turns a target identifier and an argument profile into a
// concrete test-runner invocation.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/unitwatch/unitwatch/internal/config"
)

// venvProbes are the conventional virtual-environment interpreter locations
// probed when the configured interpreter is the bare default name.
var venvProbes = []string{
	filepath.Join("venv", "bin", "python"),
	filepath.Join(".venv", "bin", "python"),
}

// debugIncompatibleFlags are stripped when a debugger attach is requested:
// parallel workers and output buffering both break live debugging.
var debugIncompatibleFlags = map[string]bool{
	"--parallel": true,
	"--buffer":   true,
	"-b":         true,
}

// Invocation is a fully resolved command ready to execute.
type Invocation struct {
	Argv []string
	Dir  string
	Env  []string // additions on top of the parent environment
}

// String renders the invocation for logs and error messages.
func (i *Invocation) String() string {
	return shellescape.QuoteCommand(i.Argv)
}

// FailFast reports whether the invocation aborts the suite at the first
// failure. Finalization semantics depend on this.
func (i *Invocation) FailFast() bool {
	for _, arg := range i.Argv {
		if arg == "--failfast" {
			return true
		}
	}
	return false
}

// Options modify how a single invocation is built.
type Options struct {
	Profile string // overrides the settings' active profile when non-empty
	Debug   bool   // strip flags incompatible with a debugger attach
	Bail    bool   // append --failfast
}

// Builder constructs invocations from settings. It holds no runtime state.
type Builder struct {
	settings *config.Settings
}

// NewBuilder creates a builder over the given settings.
func NewBuilder(settings *config.Settings) *Builder {
	return &Builder{settings: settings}
}

// Build produces the invocation for target. The empty target means "run
// everything". Beyond template substitution it applies the profile
// resolution order, debug stripping, and the forced verbosity flag the
// output parser depends on.
func (b *Builder) Build(target string, opts Options) (*Invocation, error) {
	s := b.settings

	args := b.resolveArgs(opts.Profile)
	if opts.Debug {
		args = stripDebugIncompatible(args)
	}
	// The parser attributes outcomes from the verbose per-test report
	// lines; a quiet run would leave it blind. Hard dependency.
	if !hasVerbosity(args) {
		args = append(args, "-v", "2")
	}
	if opts.Bail && !containsArg(args, "--failfast") {
		args = append(args, "--failfast")
	}

	argv, err := expandTemplate(s.Template, map[string][]string{
		"interpreter": {b.resolveInterpreter()},
		"entrypoint":  {s.Entrypoint},
		"target":      targetArgs(target),
		"args":        args,
	})
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}

	return &Invocation{Argv: argv, Dir: s.ProjectRoot, Env: env}, nil
}

// resolveArgs applies the priority order: ad-hoc args, then the named
// profile, then empty.
func (b *Builder) resolveArgs(profileOverride string) []string {
	s := b.settings
	if len(s.Args) > 0 {
		return append([]string(nil), s.Args...)
	}
	name := s.Profile
	if profileOverride != "" {
		name = profileOverride
	}
	if args, ok := s.Profiles[name]; ok {
		return append([]string(nil), args...)
	}
	return nil
}

// resolveInterpreter probes the conventional virtualenv locations when the
// configured interpreter is the bare default name; otherwise the configured
// value is used verbatim.
func (b *Builder) resolveInterpreter() string {
	s := b.settings
	if s.Interpreter != config.DefaultInterpreter {
		return s.Interpreter
	}
	for _, probe := range venvProbes {
		candidate := filepath.Join(s.ProjectRoot, probe)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return s.Interpreter
}

// expandTemplate substitutes {placeholder} tokens in the whitespace-split
// template. A placeholder expands to zero or more argv entries.
func expandTemplate(template string, values map[string][]string) ([]string, error) {
	var argv []string
	for _, tok := range strings.Fields(template) {
		if strings.HasPrefix(tok, "{") && strings.HasSuffix(tok, "}") {
			name := tok[1 : len(tok)-1]
			expansion, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("unknown template placeholder %q", tok)
			}
			argv = append(argv, expansion...)
			continue
		}
		argv = append(argv, tok)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("template %q produced an empty invocation", template)
	}
	return argv, nil
}

func targetArgs(target string) []string {
	if target == "" {
		return nil
	}
	return []string{target}
}

func stripDebugIncompatible(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		flag, _, hasValue := strings.Cut(args[i], "=")
		if !debugIncompatibleFlags[flag] {
			out = append(out, args[i])
			continue
		}
		// --parallel may carry its worker count as the next token.
		if flag == "--parallel" && !hasValue && i+1 < len(args) && isNumeric(args[i+1]) {
			i++
		}
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hasVerbosity(args []string) bool {
	for _, arg := range args {
		if arg == "-v" || arg == "--verbosity" || strings.HasPrefix(arg, "--verbosity=") || strings.HasPrefix(arg, "-v=") {
			return true
		}
	}
	return false
}

func containsArg(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}
