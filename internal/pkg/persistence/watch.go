package persistence

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"go.uber.org/zap"
)

// Watch reports paths of given files whenever they are written, created or renamed into place.
// Parent directories are watched since atomic saves replace the file itself.
func Watch(ctx context.Context, paths ...string) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher failed: %w", err)
	}

	var wanted = make(map[string]bool, len(paths))
	var dirs = make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		err = watcher.Add(dir)
		if err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watching %s failed: %w", dir, err)
		}
	}

	var changes = make(chan string)
	go func() {
		<-ctx.Done()
		err := watcher.Close()
		if err != nil {
			log.Info(fmt.Sprintf("closing watcher failed: %v", err), logger.Debug)
		}
	}()

	go func() {
		defer close(changes)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				name, err := filepath.Abs(event.Name)
				if err != nil || !wanted[name] {
					continue
				}
				log.Info("document change detected", zap.String("path", name), logger.Debug)
				select {
				case changes <- name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Info(fmt.Sprintf("watcher error: %s", err), logger.Warning)
			}
		}
	}()

	return changes, nil
}
