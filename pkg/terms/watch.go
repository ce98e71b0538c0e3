package terms

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay debounces editor save patterns (write + rename, multiple
// writes) into a single edit.
const settleDelay = 500 * time.Millisecond

// WaitForEdit blocks until the approval buffer at path is saved by the
// user, then returns once writes have settled. Watching the parent
// directory instead of the file survives editors that replace the file on
// save.
func WaitForEdit(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var settle *time.Timer
	var settled <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-settled:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(settleDelay)
			settled = settle.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}
