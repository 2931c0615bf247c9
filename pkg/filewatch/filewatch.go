// Package filewatch is a small fsnotify wrapper: watch one file, debounce
// write events, invoke a callback.
package filewatch

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceInterval = 200 * time.Millisecond

// Watcher invokes a callback when the watched file is written or created.
type Watcher struct {
	path     string
	callback func(path string)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	stateMu   sync.Mutex
	isRunning bool
}

func New(path string, callback func(path string)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	return &Watcher{
		path:     filepath.Clean(path),
		callback: callback,
	}, nil
}

// Start watches the file's parent directory; watching the directory
// instead of the file survives editors that replace the file on save.
func (w *Watcher) Start() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.isRunning {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.isRunning = true

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop halts watching. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.stateMu.Lock()
	if !w.isRunning {
		w.stateMu.Unlock()
		return
	}
	w.isRunning = false
	close(w.stopCh)
	w.stateMu.Unlock()

	w.wg.Wait()
	w.watcher.Close()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce bursts of writes into one callback.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.callback(w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("file watch error")
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
