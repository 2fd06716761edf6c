package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cytolabs/dcpipe/pkg/log"
)

// DefaultSettleDelay is how long a stack file must stay quiet after
// its last write before it is handed to the processing callback.
// Acquisition software writes measurement files incrementally.
const DefaultSettleDelay = 500 * time.Millisecond

// StackWatcher monitors a directory for newly written stack files and
// invokes a handler for each once writes have settled.
type StackWatcher struct {
	dir     string
	ext     string
	settle  time.Duration
	handler func(path string)
	logger  log.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewStackWatcher creates a watcher for files with the given extension
// (for example ".dcs") under dir. A non-positive settle delay selects
// the default.
func NewStackWatcher(dir, ext string, settle time.Duration, handler func(string), logger log.Logger) *StackWatcher {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &StackWatcher{
		dir:     dir,
		ext:     ext,
		settle:  settle,
		handler: handler,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}
}

// Run watches until the context is cancelled. Handler invocations run
// on timer goroutines; the handler is responsible for its own
// serialization.
func (w *StackWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching for stack files",
		log.String("dir", w.dir),
		log.String("ext", w.ext),
	)

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(event.Name), w.ext) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounce(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("stack watcher error", log.Err(err))
		}
	}
}

// debounce (re)arms the settle timer for one file.
func (w *StackWatcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.logger.Info("stack file settled", log.String("path", path))
		w.handler(path)
	})
}

func (w *StackWatcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
