package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watch calls fn after Go sources under root change, once per burst of
// events separated by less than debounce. It returns when ctx is done.
func watch(ctx context.Context, root string, debounce time.Duration, logger *slog.Logger, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addDirs(watcher, root); err != nil {
		return err
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addDirs(watcher, event.Name); err != nil {
						logger.Warn("failed to watch directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !relevant(event) {
				continue
			}
			logger.Debug("source changed", "event", event.Op.String(), "file", event.Name)
			fire = time.After(debounce)

		case <-fire:
			fire = nil
			fn()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("file watcher error", "error", err)
		}
	}
}

// addDirs watches root and every package directory below it.
func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// skipDir reports directories the go tool ignores.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
		name == "testdata" || name == "vendor" || name == "node_modules"
}

func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".go") || strings.HasSuffix(event.Name, "_test.go") {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
