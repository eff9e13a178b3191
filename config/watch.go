package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes of the config file.
type Watcher struct {
	fsw      *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	debounce *time.Timer
}

// Watch calls onChange after cfile was written or replaced. Bursts of events
// within settle are reported once. The directory is watched, not the file, so
// editors replacing the file by rename are noticed too.
func Watch(cfile string, settle time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	abs, err := filepath.Abs(cfile)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				w.schedule(settle, onChange)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()
	return w, nil
}

func (w *Watcher) schedule(settle time.Duration, onChange func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(settle, func() {
		select {
		case <-w.done:
		default:
			slog.Info("Config file changed")
			onChange()
		}
	})
}

// Close stops watching. Pending notifications are dropped.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
