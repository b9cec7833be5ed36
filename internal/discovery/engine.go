// Package discovery builds the hierarchical catalog of test entities by
// scanning project source files. Discovery is incremental: a changed file
// replaces only its own subtree.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/unitwatch/unitwatch/internal/catalog"
)

// excludedSegments are path segments that never contain project tests.
var excludedSegments = map[string]struct{}{
	".git":          {},
	".hg":           {},
	".svn":          {},
	".tox":          {},
	".venv":         {},
	"venv":          {},
	"env":           {},
	"node_modules":  {},
	"__pycache__":   {},
	"build":         {},
	"dist":          {},
	".mypy_cache":   {},
	".pytest_cache": {},
	".unitwatch":    {},
	".idea":         {},
}

// IsExcludedPath reports whether any segment of the slash-separated relative
// path is a cache, dependency, or version-control directory.
func IsExcludedPath(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, ok := excludedSegments[seg]; ok {
			return true
		}
	}
	return false
}

// Logger interface for debug logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// Config specifies where and what the engine scans.
type Config struct {
	Root             string
	Glob             string
	CasePrefix       string
	ExtraBaseClasses []string
}

// Engine scans the project and maintains per-file subtrees. Every
// discovered group and case registers an unknown record in the catalog
// store; discovery never downgrades an existing status.
type Engine struct {
	root   string
	glob   string
	sc     *scanner
	store  *catalog.Store
	logger Logger

	mu    sync.Mutex
	files map[string]*Entity // rel path -> file subtree
}

// NewEngine creates a discovery engine over the given store.
func NewEngine(cfg Config, store *catalog.Store, logger Logger) *Engine {
	return &Engine{
		root:   cfg.Root,
		glob:   cfg.Glob,
		sc:     newScanner(cfg.CasePrefix, cfg.ExtraBaseClasses),
		store:  store,
		logger: logger,
		files:  make(map[string]*Entity),
	}
}

// DiscoverAll scans every file matching the glob and rebuilds the full
// hierarchy. Files that fail to read are skipped and logged; discovery of
// the rest continues.
func (e *Engine) DiscoverAll() (*Entity, error) {
	matches, err := doublestar.Glob(os.DirFS(e.root), e.glob)
	if err != nil {
		return nil, fmt.Errorf("failed to expand discovery glob %q: %w", e.glob, err)
	}
	sort.Strings(matches)

	files := make(map[string]*Entity)
	for _, rel := range matches {
		if IsExcludedPath(rel) {
			continue
		}
		subtree, err := e.parseFile(rel)
		if err != nil {
			e.logger.Error("failed to discover %s: %v", rel, err)
			continue
		}
		if subtree != nil {
			files[rel] = subtree
		}
	}

	e.mu.Lock()
	e.files = files
	e.mu.Unlock()

	if len(files) == 0 {
		e.logger.Info("discovery found no test files under %s matching %q", e.root, e.glob)
	}
	return e.Hierarchy(), nil
}

// DiscoverOne re-parses a single file and replaces its subtree. Returns the
// new subtree, or nil if the file no longer produces any runnable entity
// (in which case it disappears from the hierarchy).
func (e *Engine) DiscoverOne(path string) (*Entity, error) {
	rel, err := e.relPath(path)
	if err != nil {
		return nil, err
	}
	if ok, _ := doublestar.Match(e.glob, rel); !ok || IsExcludedPath(rel) {
		e.Forget(path)
		return nil, nil
	}

	subtree, err := e.parseFile(rel)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if subtree == nil {
		delete(e.files, rel)
	} else {
		e.files[rel] = subtree
	}
	e.mu.Unlock()
	return subtree, nil
}

// Forget drops the subtree for a file, e.g. after deletion. Catalog records
// for its descendants are left in place.
func (e *Engine) Forget(path string) {
	rel, err := e.relPath(path)
	if err != nil {
		return
	}
	e.mu.Lock()
	delete(e.files, rel)
	e.mu.Unlock()
}

// Hierarchy assembles the current file subtrees into one tree rooted at the
// project directory. Directory nodes are looked up by their path-so-far so
// duplicate segments across files collapse into a single structural node.
func (e *Engine) Hierarchy() *Entity {
	e.mu.Lock()
	rels := make([]string, 0, len(e.files))
	for rel := range e.files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	subtrees := make(map[string]*Entity, len(rels))
	for _, rel := range rels {
		subtrees[rel] = e.files[rel]
	}
	e.mu.Unlock()

	root := &Entity{Name: filepath.Base(absOrSelf(e.root)), Kind: KindDirectory}
	dirs := map[string]*Entity{"": root}

	for _, rel := range rels {
		parent := root
		pathSoFar := ""
		segments := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
		if filepath.Dir(rel) != "." {
			for _, seg := range segments {
				if pathSoFar == "" {
					pathSoFar = seg
				} else {
					pathSoFar = pathSoFar + "/" + seg
				}
				dir, ok := dirs[pathSoFar]
				if !ok {
					dir = &Entity{
						Name:        seg,
						Kind:        KindDirectory,
						CanonicalID: strings.ReplaceAll(pathSoFar, "/", "."),
					}
					dirs[pathSoFar] = dir
					parent.Children = append(parent.Children, dir)
				}
				parent = dir
			}
		}
		parent.Children = append(parent.Children, subtrees[rel])
	}

	for _, dir := range dirs {
		sortChildren(dir.Children)
	}
	return root
}

// ModuleID maps a file path to its dot-delimited module identifier.
func (e *Engine) ModuleID(path string) (string, error) {
	rel, err := e.relPath(path)
	if err != nil {
		return "", err
	}
	return moduleID(rel), nil
}

// parseFile scans one file and builds its subtree, registering records for
// every runnable entity. Returns nil if the file has no runnable children.
func (e *Engine) parseFile(rel string) (*Entity, error) {
	data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	content := string(data)
	if !e.sc.hasTestMarker(content) {
		return nil, nil
	}

	groups := e.sc.scan(content)
	if len(groups) == 0 {
		return nil, nil
	}

	module := moduleID(rel)
	file := &Entity{
		Name:        filepath.Base(rel),
		Kind:        KindFile,
		CanonicalID: module,
		Location:    &Location{File: rel, Line: 1},
	}
	for _, g := range groups {
		groupID := module + "." + g.Name
		group := &Entity{
			Name:        g.Name,
			Kind:        KindGroup,
			CanonicalID: groupID,
			Location:    &Location{File: rel, Line: g.Line},
		}
		e.store.Register(groupID)
		for _, c := range g.Cases {
			caseID := groupID + "." + c.Name
			group.Children = append(group.Children, &Entity{
				Name:        c.Name,
				Kind:        KindCase,
				CanonicalID: caseID,
				Location:    &Location{File: rel, Line: c.Line},
			})
			e.store.Register(caseID)
		}
		sortChildren(group.Children)
		file.Children = append(file.Children, group)
	}
	sortChildren(file.Children)
	return file, nil
}

func (e *Engine) relPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	absRoot, err := filepath.Abs(e.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root: %w", err)
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside the project root", path)
	}
	return filepath.ToSlash(rel), nil
}

// moduleID converts users/tests.py into users.tests.
func moduleID(rel string) string {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ".py")
	return strings.ReplaceAll(rel, "/", ".")
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
