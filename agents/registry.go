package agents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegistryOptions configures stage-set discovery.
type RegistryOptions struct {
	Workspace string
	Paths     []string
	Logger    *zap.Logger
}

// Registry tracks the built-in stage set plus any stage files found on the
// search paths, and supports hot reloading.
type Registry struct {
	opts      RegistryOptions
	mu        sync.RWMutex
	sets      map[string]*StageSet
	listeners []chan struct{}

	// loadedState is the stage file fingerprint taken by the last Load.
	loadedState string
}

// NewRegistry builds a registry holding only the built-in stage set.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Registry{opts: opts}
	r.sets = map[string]*StageSet{DefaultStageSetName: DefaultStageSet()}
	return r
}

// Load scans the configured directories for stage files. Invalid files are
// logged and skipped; a file may replace the built-in set by reusing its
// name.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadedState = r.fingerprint()
	r.sets = map[string]*StageSet{DefaultStageSetName: DefaultStageSet()}
	for _, dir := range r.searchPaths() {
		r.loadDir(dir)
	}
	r.notify()
	return nil
}

// Reload rescans the filesystem and notifies subscribers.
func (r *Registry) Reload() error {
	return r.Load()
}

// List returns summaries of available stage sets sorted by name.
func (r *Registry) List() []StageSetSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	summaries := make([]StageSetSummary, 0, len(r.sets))
	for _, set := range r.sets {
		summaries = append(summaries, summarizeStageSet(set, r.opts.Workspace))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// Get retrieves a stage set by name.
func (r *Registry) Get(name string) (*StageSet, error) {
	if name == "" {
		name = DefaultStageSetName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[name]
	if !ok {
		return nil, ErrStageSetNotFound
	}
	return set, nil
}

// Watch returns a channel signalled after every Load. Signals coalesce: a
// slow reader sees one pending notification, not one per reload.
func (r *Registry) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.listeners = append(r.listeners, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) notify() {
	for _, ch := range r.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *Registry) loadDir(dir string) {
	for _, path := range stageFilesIn(dir) {
		set, err := LoadStageSet(path)
		if err != nil {
			r.opts.Logger.Warn("skipping stage file", zap.String("path", path), zap.Error(err))
			continue
		}
		if prev, ok := r.sets[set.Name]; ok && prev.SourcePath != "" {
			r.opts.Logger.Warn("stage set defined twice; later file wins",
				zap.String("name", set.Name),
				zap.String("previous", prev.SourcePath),
				zap.String("path", path),
			)
		}
		r.sets[set.Name] = set
	}
}

// stageFilesIn lists *.yaml and *.yml files directly under dir.
func stageFilesIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files
}

// StageFiles lists the stage files currently on the search path.
func (r *Registry) StageFiles() []string {
	var files []string
	for _, dir := range r.searchPaths() {
		files = append(files, stageFilesIn(dir)...)
	}
	return files
}

// searchPaths returns the existing stage directories, deduplicated.
func (r *Registry) searchPaths() []string {
	paths := r.opts.Paths
	if len(paths) == 0 {
		paths = DefaultStagePaths(r.opts.Workspace)
	}
	seen := make(map[string]bool, len(paths))
	var dirs []string
	for _, path := range paths {
		path = expandPath(path, r.opts.Workspace)
		if seen[path] {
			continue
		}
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			continue
		}
		seen[path] = true
		dirs = append(dirs, path)
	}
	return dirs
}

// StartWatcher polls the stage directories and reloads whenever the stage
// files on disk differ from what the last Load saw, including removals. It
// returns immediately; polling stops when stop is closed.
func (r *Registry) StartWatcher(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if r.fingerprint() == r.loadedFingerprint() {
					continue
				}
				r.opts.Logger.Info("stage files changed, reloading")
				_ = r.Load()
			}
		}
	}()
}

func (r *Registry) loadedFingerprint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedState
}

// fingerprint summarizes path, size and mtime of every stage file.
func (r *Registry) fingerprint() string {
	var b strings.Builder
	for _, path := range r.StageFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s|%d|%d\n", path, info.Size(), info.ModTime().UnixNano())
	}
	return b.String()
}

// ErrStageSetNotFound indicates lookup failure.
var ErrStageSetNotFound = errors.New("stage set not found")

// StageSetSummary is a lightweight view of an available stage set.
type StageSetSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Stages      []string `json:"stages"`
	Required    []string `json:"required,omitempty"`
	Source      string   `json:"source"`
}

func summarizeStageSet(s *StageSet, workspace string) StageSetSummary {
	source := s.SourcePath
	if source == "" {
		source = "built-in"
	} else if workspace != "" {
		if rel, err := filepath.Rel(workspace, source); err == nil {
			source = rel
		}
	}
	names := make([]string, 0, len(s.Stages))
	for _, st := range s.Stages {
		names = append(names, st.Name)
	}
	return StageSetSummary{
		Name:        s.Name,
		Description: s.Description,
		Stages:      names,
		Required:    append([]string(nil), s.Required...),
		Source:      source,
	}
}
