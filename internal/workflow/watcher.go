package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce lets a burst of writes (temp file + rename) settle
// before the cache is dropped.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher invalidates a Matcher when rule documents change on disk, so rules
// edited outside the API take effect without a restart.
type Watcher struct {
	dir      string
	matcher  *Matcher
	debounce time.Duration
}

func NewWatcher(dir string, matcher *Matcher) *Watcher {
	return &Watcher{dir: dir, matcher: matcher, debounce: DefaultWatchDebounce}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rule directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	slog.InfoContext(ctx, "watching workflow rules", "dir", w.dir)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				slog.DebugContext(ctx, "workflow rules changed on disk", "file", event.Name)
				w.matcher.Invalidate()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "fsnotify error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
