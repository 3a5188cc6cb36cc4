package descriptor

import (
	"context"
	"strings"
	"sync"
	"time"

	"loom/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent is emitted by a Watcher whenever the descriptor set in the
// watched directory changes. It carries a fresh load of the full set so that
// consumers can rebuild their graph from scratch.
type ChangeEvent struct {
	Components []Component
	Timestamp  time.Time

	// Err is set when the directory changed but could not be re-loaded
	// (for example a half-written YAML file). Components is nil in that case.
	Err error
}

// Watcher watches a descriptor directory and emits debounced ChangeEvents.
// Rapid successive writes (editors, rsync) collapse into a single reload.
type Watcher struct {
	dir              string
	debounceInterval time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for the given descriptor directory. A zero
// debounce interval defaults to 500ms.
func NewWatcher(dir string, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		dir:              dir,
		debounceInterval: debounceInterval,
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching and delivers events to changes until the context is
// cancelled or Stop is called. The changes channel is not closed by the
// watcher.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}

	w.watcher = fsw
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.processEvents(ctx, changes)

	logging.Info("Descriptor", "Watching %s for descriptor changes", w.dir)
	return nil
}

// Stop stops watching. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
}

func (w *Watcher) processEvents(ctx context.Context, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(changes)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Descriptor", err, "Descriptor watcher error")
		}
	}
}

// scheduleReload (re)arms the debounce timer; when it fires the directory is
// re-loaded once for the whole burst of events.
func (w *Watcher) scheduleReload(changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceInterval, func() {
		components, err := LoadDir(w.dir)
		event := ChangeEvent{Components: components, Timestamp: time.Now(), Err: err}
		if err != nil {
			event.Components = nil
			logging.Warn("Descriptor", "Reload after change failed: %v", err)
		} else {
			logging.Debug("Descriptor", "Reloaded %d components after change", len(components))
		}
		select {
		case changes <- event:
		case <-w.stopCh:
		}
	})
}

func isYAMLFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
