package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()

	s, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, root, s.ProjectRoot)
	assert.Equal(t, "python", s.Interpreter)
	assert.Equal(t, "manage.py", s.Entrypoint)
	assert.Equal(t, "{interpreter} {entrypoint} test {target} {args}", s.Template)
	assert.Equal(t, "**/test*.py", s.DiscoveryGlob)
	assert.Equal(t, "test", s.CasePrefix)
	assert.Equal(t, "**/*.py", s.WatchGlob)
	assert.Equal(t, 800, s.WatchDebounceMs)
	assert.Equal(t, 50, s.HistoryCapacity)
	assert.Equal(t, filepath.Join(root, ".unitwatch", "history.db"), s.HistoryPath)
	assert.True(t, s.AffectedOnly())
}

func TestLoadFromProjectRoot(t *testing.T) {
	root := t.TempDir()
	content := `
interpreter: python3
entrypoint: runtests.py
profiles:
  ci: ["--parallel", "4"]
  quick: ["--keepdb"]
profile: quick
env:
  DJANGO_SETTINGS_MODULE: settings.test
watch_debounce_ms: 250
run_affected_only: false
history_capacity: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), []byte(content), 0644))

	s, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, "python3", s.Interpreter)
	assert.Equal(t, "runtests.py", s.Entrypoint)
	assert.Equal(t, []string{"--keepdb"}, s.ActiveArgs())
	assert.Equal(t, "settings.test", s.Env["DJANGO_SETTINGS_MODULE"])
	assert.Equal(t, 250, s.WatchDebounceMs)
	assert.False(t, s.AffectedOnly())
	assert.Equal(t, 5, s.HistoryCapacity)
}

func TestLoadExplicitPath(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpreter: pypy3\n"), 0644))

	s, err := Load(root, path)
	require.NoError(t, err)
	assert.Equal(t, "pypy3", s.Interpreter)
	assert.Equal(t, root, s.ProjectRoot)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(t.TempDir(), "/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMalformedYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultConfigFile), []byte("interpreter: [unclosed\n"), 0644))

	_, err := Load(root, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(s *Settings) {},
		},
		{
			name:    "blank interpreter",
			mutate:  func(s *Settings) { s.Interpreter = "   " },
			wantErr: "interpreter",
		},
		{
			name:    "blank entrypoint",
			mutate:  func(s *Settings) { s.Entrypoint = " " },
			wantErr: "entrypoint",
		},
		{
			name:    "template missing placeholders",
			mutate:  func(s *Settings) { s.Template = "pytest {target}" },
			wantErr: "template",
		},
		{
			name:   "undefined active profile is allowed",
			mutate: func(s *Settings) { s.Profile = "nope" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Settings{}
			s.ApplyDefaults()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestActiveArgsPrecedence(t *testing.T) {
	s := &Settings{
		Profiles: map[string][]string{"ci": {"--parallel", "4"}},
		Profile:  "ci",
	}
	assert.Equal(t, []string{"--parallel", "4"}, s.ActiveArgs())

	s.Args = []string{"--keepdb"}
	assert.Equal(t, []string{"--keepdb"}, s.ActiveArgs())

	s.Args = nil
	s.Profile = "missing"
	assert.Nil(t, s.ActiveArgs())
}
