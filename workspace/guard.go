package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Guard watches the workspace between iterations and records modifications
// made by anything other than the loop itself. Concurrent instances over the
// same workspace are unsupported; the guard makes that visible instead of
// silently corrupting state.
type Guard struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	changed map[string]bool
	done    chan struct{}
}

// NewGuard creates a Guard over the workspace root.
func NewGuard(root string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{root: root, logger: logger}
}

// Arm starts watching. Watches are per-directory, added recursively; new
// subdirectories created while armed are picked up from their create events.
func (g *Guard) Arm() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.watcher != nil {
		return fmt.Errorf("guard already armed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	err = filepath.WalkDir(g.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch workspace: %w", err)
	}

	g.watcher = watcher
	g.changed = make(map[string]bool)
	g.done = make(chan struct{})
	go g.watch(watcher, g.done)

	return nil
}

func (g *Guard) watch(watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			g.record(event, watcher)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("Workspace watcher error", "error", err)
		}
	}
}

func (g *Guard) record(event fsnotify.Event, watcher *fsnotify.Watcher) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
		}
	}

	rel, err := filepath.Rel(g.root, event.Name)
	if err != nil {
		rel = event.Name
	}

	g.mu.Lock()
	g.changed[filepath.ToSlash(rel)] = true
	g.mu.Unlock()
}

// Disarm stops watching and returns the paths modified while armed.
func (g *Guard) Disarm() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.watcher == nil {
		return nil
	}

	close(g.done)
	g.watcher.Close()
	g.watcher = nil

	paths := make([]string, 0, len(g.changed))
	for p := range g.changed {
		paths = append(paths, p)
	}
	g.changed = nil
	sort.Strings(paths)

	if len(paths) > 0 {
		g.logger.Warn("Workspace was modified externally while the loop was idle",
			"paths", paths)
	}
	return paths
}
