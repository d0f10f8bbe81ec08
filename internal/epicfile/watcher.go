package epicfile

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-invokes a callback when a catalog file changes on disk. Editors
// replace files rather than writing in place, so the watch covers the file's
// directory and filters events down to the target name.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches path and calls onChange after each write or create,
// debounced so an editor's save burst triggers one reload.
func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
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
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.onChange()
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
