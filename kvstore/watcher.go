package kvstore

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// A Watcher reports external modifications of a file-backed store, so a
// running token can pick up a store file replaced from outside (for example
// a restored backup).
type Watcher struct {
	path     string
	fw       *fsnotify.Watcher
	onChange func()
}

// NewWatcher creates a watcher for the store file at path. Each time the
// file is rewritten, onChange is invoked from the watcher's goroutine; the
// callback should re-post any real work onto the token's scheduler loop.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, fw: fw, onChange: onChange}, nil
}

// Run monitors the store path until the watcher closes or ctx ends.
// Run should be run in a separate goroutine.
func (w *Watcher) Run(ctx context.Context) {
	w.fw.Add(w.path)
	defer w.fw.Close()

	for {
		select {
		case evt, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Rename != 0 {
				// Atomic writers replace the file; re-arm on the new inode.
				w.fw.Remove(w.path)
				w.fw.Add(w.path)
			} else if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.onChange()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: Error watching %q: %v", w.path, err)
		case <-ctx.Done():
			return
		}
	}
}
