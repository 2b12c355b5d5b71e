package interp

import (
	"context"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// MacroWatcher watches the macro directory for files that were
// previously reported missing by an ExecuteMacro request (spec.md
// §4.3 "Missing macros are silently skipped unless the firmware asked
// to be told"), logging a structured note when one later appears. It
// is a diagnostic aid: the firmware still owns retrying the macro, the
// watcher only makes the eventual fix visible in the daemon's logs.
type MacroWatcher struct {
	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu      sync.Mutex
	missing map[string]bool
}

// NewMacroWatcher starts watching dir (non-recursively, matching the
// flat macro layout spec.md §4.4 assumes).
func NewMacroWatcher(dir string, logger *log.Logger) (*MacroWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &MacroWatcher{watcher: w, logger: logger, missing: map[string]bool{}}, nil
}

// NoteMissing records that name was just reported missing, so a
// subsequent creation of that name gets logged.
func (m *MacroWatcher) NoteMissing(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[filepath.Base(name)] = true
}

// Run drains filesystem events until ctx is canceled.
func (m *MacroWatcher) Run(ctx context.Context) {
	defer m.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)

			m.mu.Lock()
			wasMissing := m.missing[name]
			delete(m.missing, name)
			m.mu.Unlock()

			if wasMissing {
				m.logger.Printf("macro %s appeared after being reported missing", name)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Printf("macro directory watch error: %v", err)
		}
	}
}
