// Package notify watches files for changes so long-running processes can
// pick up edits without a restart.
package notify

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher calls a callback whenever a single file is written, created
// or replaced. The parent directory is watched so that editors which save
// by rename are seen too.
type FileWatcher struct {
	path     string
	name     string
	callback func(path string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher creates a watcher for path.
func NewFileWatcher(path string, callback func(path string)) *FileWatcher {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &FileWatcher{
		path:     abs,
		name:     filepath.Base(abs),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The file itself need not exist yet, but its
// directory must. Call Stop() to clean up.
func (fw *FileWatcher) Start() error {
	dir := filepath.Dir(fw.path)
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	fw.watcher = w

	go fw.loop()
	log.Printf("notify: watching %s for changes", fw.path)
	return nil
}

// Stop shuts down the watcher. Safe to call more than once.
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		if fw.watcher == nil {
			close(fw.done)
			return
		}
		_ = fw.watcher.Close()
		<-fw.done
	})
}

func (fw *FileWatcher) loop() {
	defer close(fw.done)
	for {
		select {
		case evt, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != fw.name {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if _, err := os.Stat(fw.path); err != nil {
					continue // renamed away; the replacement arrives as a Create
				}
				if fw.callback != nil {
					fw.callback(fw.path)
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}
