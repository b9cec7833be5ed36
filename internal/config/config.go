// Package config holds the settings surface consumed from the project's
// .unitwatch.yaml file, with defaults matching a stock Django layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is looked up relative to the project root.
	DefaultConfigFile = ".unitwatch.yaml"

	// DefaultInterpreter is the bare interpreter name that triggers
	// virtual-environment probing in the command builder.
	DefaultInterpreter = "python"

	DefaultEntrypoint      = "manage.py"
	DefaultDiscoveryGlob   = "**/test*.py"
	DefaultCasePrefix      = "test"
	DefaultTemplate        = "{interpreter} {entrypoint} test {target} {args}"
	DefaultWatchGlob       = "**/*.py"
	DefaultWatchDebounceMs = 800
	DefaultHistoryCapacity = 50
)

// Settings is the full configuration surface of the tool. Zero values are
// filled in by Load; a Settings literal in tests should go through
// ApplyDefaults before use.
type Settings struct {
	ProjectRoot string `yaml:"project_root"`

	// Invocation
	Interpreter string              `yaml:"interpreter"`
	Entrypoint  string              `yaml:"entrypoint"`
	Template    string              `yaml:"template"`
	Profiles    map[string][]string `yaml:"profiles"`
	Profile     string              `yaml:"profile"`
	Args        []string            `yaml:"args"`
	Env         map[string]string   `yaml:"env"`

	// Discovery
	DiscoveryGlob   string   `yaml:"discovery_glob"`
	CasePrefix      string   `yaml:"case_prefix"`
	TestBaseClasses []string `yaml:"test_base_classes"`

	// Watch
	WatchGlob       string `yaml:"watch_glob"`
	WatchDebounceMs int    `yaml:"watch_debounce_ms"`
	RunAffectedOnly *bool  `yaml:"run_affected_only"`

	// History
	HistoryCapacity int    `yaml:"history_capacity"`
	HistoryPath     string `yaml:"history_path"`
}

// Load reads the settings file at path, or returns defaults if path is empty
// and no .unitwatch.yaml exists under root.
func Load(root, path string) (*Settings, error) {
	s := &Settings{ProjectRoot: root}

	if path == "" {
		candidate := filepath.Join(root, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if s.ProjectRoot == "" {
			s.ProjectRoot = root
		}
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyDefaults fills every unset field with its default value.
func (s *Settings) ApplyDefaults() {
	if s.ProjectRoot == "" {
		s.ProjectRoot = "."
	}
	if s.Interpreter == "" {
		s.Interpreter = DefaultInterpreter
	}
	if s.Entrypoint == "" {
		s.Entrypoint = DefaultEntrypoint
	}
	if s.Template == "" {
		s.Template = DefaultTemplate
	}
	if s.DiscoveryGlob == "" {
		s.DiscoveryGlob = DefaultDiscoveryGlob
	}
	if s.CasePrefix == "" {
		s.CasePrefix = DefaultCasePrefix
	}
	if s.WatchGlob == "" {
		s.WatchGlob = DefaultWatchGlob
	}
	if s.WatchDebounceMs <= 0 {
		s.WatchDebounceMs = DefaultWatchDebounceMs
	}
	if s.RunAffectedOnly == nil {
		affected := true
		s.RunAffectedOnly = &affected
	}
	if s.HistoryCapacity <= 0 {
		s.HistoryCapacity = DefaultHistoryCapacity
	}
	if s.HistoryPath == "" {
		s.HistoryPath = filepath.Join(s.ProjectRoot, ".unitwatch", "history.db")
	}
	if s.Profiles == nil {
		s.Profiles = map[string][]string{}
	}
	if s.Env == nil {
		s.Env = map[string]string{}
	}
}

// Validate rejects settings that cannot produce a usable invocation.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Interpreter) == "" {
		return fmt.Errorf("interpreter must not be empty")
	}
	if strings.TrimSpace(s.Entrypoint) == "" {
		return fmt.Errorf("entrypoint must not be empty")
	}
	if !strings.Contains(s.Template, "{interpreter}") || !strings.Contains(s.Template, "{entrypoint}") {
		return fmt.Errorf("template must reference {interpreter} and {entrypoint}: %q", s.Template)
	}
	// An active profile that is not defined is not an error: it resolves
	// to an empty argument list at build time.
	return nil
}

// ActiveArgs resolves the argument list per the priority order: ad-hoc args
// override the named profile; a missing profile yields an empty list.
func (s *Settings) ActiveArgs() []string {
	if len(s.Args) > 0 {
		return s.Args
	}
	if args, ok := s.Profiles[s.Profile]; ok {
		return args
	}
	return nil
}

// AffectedOnly reports whether the watch engine should run only affected
// tests rather than the whole suite.
func (s *Settings) AffectedOnly() bool {
	return s.RunAffectedOnly == nil || *s.RunAffectedOnly
}
