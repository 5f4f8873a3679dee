package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 200 * time.Millisecond

// watchDescriptors calls rebuild whenever a descriptor under paths is
// written, until ctx is done. A failing rebuild is logged and watching
// continues.
func watchDescriptors(ctx context.Context, logger *zap.Logger, paths []string, rebuild func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Files are watched through their directory so editors that replace
	// the file on save keep triggering events.
	files := make(map[string]bool)
	wholeDirs := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		dir := abs
		if info.IsDir() {
			wholeDirs[abs] = true
		} else {
			files[abs] = true
			dir = filepath.Dir(abs)
		}
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			dirs[dir] = true
		}
	}

	relevant := func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			return false
		}
		return wholeDirs[filepath.Dir(name)] || files[name]
	}

	logger.Info("Watching for changes", zap.Strings("paths", paths))

	var debounce <-chan time.Time
	var changed string
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !relevant(event.Name) {
				continue
			}
			changed = event.Name
			debounce = time.After(watchDebounce)
		case <-debounce:
			debounce = nil
			logger.Info("Change detected", zap.String("file", filepath.Base(changed)))
			if err := rebuild(); err != nil {
				logger.Error("Rebuild failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", zap.Error(err))
		}
	}
}
