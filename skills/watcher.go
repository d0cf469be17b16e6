package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce batches bursts of filesystem events (editors often write a
// file several times in a row) into a single reload.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads the loader whenever the skills directory changes, so new
// or edited skills show up without restarting the session.
type Watcher struct {
	loader *Loader
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// Watch starts watching the loader's directory and its skill subdirectories.
// Returns an error when the directory cannot be watched at all.
func Watch(loader *Loader, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		loader: loader,
		fsw:    fsw,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := fsw.Add(loader.Dir()); err != nil {
		fsw.Close()
		return nil, err
	}
	if entries, err := os.ReadDir(loader.Dir()); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				// Best effort; a missing subdirectory only delays discovery
				// until the parent directory produces an event.
				fsw.Add(filepath.Join(loader.Dir(), e.Name()))
			}
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Stop ends the watch and waits for the event loop to exit.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.fsw.Add(event.Name)
				}
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("skills watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		w.loader.Reload()
		if w.logger != nil {
			w.logger.Debug("skills reloaded", "count", len(w.loader.List()))
		}
	})
}
