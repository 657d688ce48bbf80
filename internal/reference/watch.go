package reference

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates cached reference tables when files under the data
// directory change. Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch monitors the data directory tree. Changed files are invalidated after
// a short debounce and onChange, when set, receives their paths. Files
// referenced by absolute paths outside the data directory are not watched.
func (s *Store) Watch(ctx context.Context, onChange func(path string)) (*Watcher, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("reference: watch %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("reference: watch %s: not a directory", s.root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reference: watch: %w", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	addDir := func(dir string) {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("reference watch add failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}
	root := s.Resolve(s.root)
	if err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("reference watch walk failed", slog.String("path", path), slog.Any("error", walkErr))
			return nil
		}
		if d.IsDir() {
			addDir(path)
		}
		return nil
	}); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("reference: traverse %s: %w", root, err)
	}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				s.logger.Warn("reference watch close failed", slog.Any("error", err))
			}
		}()

		const debounce = 25 * time.Millisecond
		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-fire:
				fire = nil
				for path := range pending {
					if s.Invalidate(path) {
						s.logger.Info("reference table invalidated", slog.String("path", path))
					}
					if onChange != nil {
						onChange(path)
					}
				}
				pending = map[string]struct{}{}
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(name); err == nil && info.IsDir() {
						addDir(name)
						continue
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				pending[name] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("reference watch error", slog.Any("error", err))
			}
		}
	}()

	return w, nil
}
