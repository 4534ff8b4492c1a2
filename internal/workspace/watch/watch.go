// Package watch reports saved Haskell sources under a project root after
// their events have settled.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeFunc is called once per settled file.
type ChangeFunc func(ctx context.Context, path string) error

// skippedDirs are never watched.
var skippedDirs = map[string]bool{
	".stack-work":   true,
	".git":          true,
	"dist-newstyle": true,
	"node_modules":  true,
}

// Watcher watches every directory under root and debounces .hs events.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	onChange ChangeFunc
	logger   zerolog.Logger
	pending  map[string]time.Time
	running  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Watcher for root. Call Start to begin watching.
func New(root string, debounce time.Duration, onChange ChangeFunc, logger zerolog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("watch: nil change func")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		root:     root,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With().Str("component", "watch").Logger(),
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start registers the directory tree and starts the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Info().Str("root", w.root).Int("dirs", len(w.watcher.WatchList())).Msg("watching sources")

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the OS watcher. Pending events are
// discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.watcher.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Debug().Err(err).Str("dir", path).Msg("skipping unreadable path")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("dir", path).Msg("cannot watch directory")
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tickInterval(w.debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case <-ticker.C:
			w.flushSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skippedDirs[filepath.Base(event.Name)] {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch new directory")
				}
			}
			return
		}
	}
	if !strings.HasSuffix(event.Name, ".hs") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("source event")
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushSettled(ctx context.Context) {
	now := time.Now()
	var settled []string
	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(settled)
	for _, path := range settled {
		if err := w.onChange(ctx, path); err != nil {
			w.logger.Warn().Err(err).Str("file", path).Msg("change handler failed")
		}
	}
}

func tickInterval(debounce time.Duration) time.Duration {
	interval := debounce / 4
	if interval < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	if interval > 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return interval
}
