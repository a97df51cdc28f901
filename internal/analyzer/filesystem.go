package analyzer

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentrymon/sentrymon/internal/events"
)

const debounceWindow = 200 * time.Millisecond

var sensitiveFiles = []string{"/etc/passwd", "/etc/shadow", "/etc/sudoers", "/etc/hosts"}

var ignoredGlobs = []string{"*.tmp", "*.log", "*.cache", "proc/*"}

// Filesystem is the Filesystem Watcher (spec.md §4.5). It watches every
// configured directory recursively via fsnotify and coalesces bursts of
// events per path within a debounce window before classifying and
// emitting.
type Filesystem struct {
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	out     chan events.Event
}

// NewFilesystem creates a Filesystem watcher over the given directories.
// Watching is recursive: every subdirectory discovered (at start or via a
// Create event) is added too.
func NewFilesystem(directories []string) (*Filesystem, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	f := &Filesystem{
		watcher: w,
		pending: make(map[string]*time.Timer),
		out:     make(chan events.Event, 256),
	}
	for _, dir := range directories {
		if err := f.addRecursive(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return f, nil
}

func (f *Filesystem) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: skip paths we can't stat
		}
		if info.IsDir() {
			return f.watcher.Add(path)
		}
		return nil
	})
}

// Run drains fsnotify events until ctx-equivalent stop is closed,
// debouncing bursts per path and sending classified events on the
// channel Events returns.
func (f *Filesystem) Run(stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ignoredPath(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				_ = f.addRecursive(ev.Name)
			}
			f.debounce(ev.Name)
		case <-f.watcher.Errors:
			// Watcher errors are read and dropped here: they produce
			// neither an event nor a metric.
		case <-stop:
			return
		}
	}
}

func (f *Filesystem) debounce(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.pending[path]; ok {
		t.Stop()
	}
	f.pending[path] = time.AfterFunc(debounceWindow, func() {
		f.mu.Lock()
		delete(f.pending, path)
		f.mu.Unlock()
		f.out <- classify(path)
	})
}

func classify(path string) events.Event {
	sev := events.Medium
	if isSensitiveFile(path) {
		sev = events.High
	}
	return events.New(events.TypeFileSystemChange, sev, "filesystem", "", "",
		"host path changed: "+path, map[string]any{"path": path})
}

func isSensitiveFile(path string) bool {
	for _, s := range sensitiveFiles {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}

func ignoredPath(path string) bool {
	base := filepath.Base(path)
	for _, g := range ignoredGlobs {
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		if strings.HasSuffix(g, "/*") && strings.HasPrefix(path, strings.TrimSuffix(g, "*")) {
			return true
		}
	}
	return false
}

// Events returns the channel classified events are delivered on.
func (f *Filesystem) Events() <-chan events.Event {
	return f.out
}

// Close stops the underlying fsnotify watcher.
func (f *Filesystem) Close() error {
	return f.watcher.Close()
}
