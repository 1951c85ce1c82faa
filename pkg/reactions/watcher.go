package reactions

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// RuleWatcher reloads the engine's rule table when the rules file changes.
// It watches the parent directory so editors that replace the file by rename
// are picked up.
type RuleWatcher struct {
	path     string
	engine   *Engine
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func NewRuleWatcher(path string, engine *Engine, logger *slog.Logger) (*RuleWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}

	return &RuleWatcher{
		path:     filepath.Clean(path),
		engine:   engine,
		watcher:  fsw,
		debounce: defaultDebounce,
		logger:   logger.With("module", "reaction_rules_watcher"),
		done:     make(chan struct{}),
	}, nil
}

// Start loads the current file and begins watching for changes until ctx is
// done or Stop is called.
func (w *RuleWatcher) Start(ctx context.Context) error {
	if err := w.reload(ctx); err != nil {
		return err
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go w.loop(ctx)

	w.logger.InfoContext(ctx, "Watching reaction rules", "path", w.path)

	return nil
}

// Stop closes the watcher. It is safe to call once.
func (w *RuleWatcher) Stop() error {
	return w.watcher.Close()
}

// Done is closed once the event loop has exited.
func (w *RuleWatcher) Done() <-chan struct{} {
	return w.done
}

func (w *RuleWatcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()

			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.stopTimer()

				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.logger.WarnContext(ctx, "Rules watcher error", "error", err)
		}
	}
}

func (w *RuleWatcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.reload(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Keeping previous reaction rules", "error", err)
		}
	})
}

func (w *RuleWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *RuleWatcher) reload(ctx context.Context) error {
	rules, err := LoadRules(w.path)
	if err != nil {
		return err
	}

	w.engine.SetRules(rules)
	w.logger.InfoContext(ctx, "Reaction rules loaded", "path", w.path, "rules", len(rules))

	return nil
}
