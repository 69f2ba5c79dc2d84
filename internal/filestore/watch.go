package filestore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/smazurov/nvrlite/internal/logging"
)

// index is an in-memory mirror of the recordings folder kept warm by
// fsnotify, so listing doesn't re-stat every file once the folder grows.
// It is a read-path cache only; it is built from disk when Watch starts
// and afterwards updated only from filesystem events.
type index struct {
	mu    sync.RWMutex
	files map[string]FileInfo
}

func (ix *index) list(ext string) []FileInfo {
	ix.mu.RLock()
	out := make([]FileInfo, 0, len(ix.files))
	for _, fi := range ix.files {
		if matchExt(fi.Name, ext) {
			out = append(out, fi)
		}
	}
	ix.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

func (ix *index) put(fi FileInfo) {
	ix.mu.Lock()
	ix.files[fi.Name] = fi
	ix.mu.Unlock()
}

func (ix *index) forget(name string) {
	ix.mu.Lock()
	delete(ix.files, name)
	ix.mu.Unlock()
}

// Watch builds the index from disk and keeps it updated from filesystem
// events until the watcher is closed. Returns a close function. On any
// watcher setup failure the store silently stays in scan-on-demand mode.
func (s *Store) Watch() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.folder); err != nil {
		watcher.Close()
		return nil, err
	}

	files, err := s.scan("")
	if err != nil {
		watcher.Close()
		return nil, err
	}

	ix := &index{files: make(map[string]FileInfo, len(files))}
	for _, fi := range files {
		ix.files[fi.Name] = fi
	}
	s.index = ix

	logger := logging.GetLogger("filestore")
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.onEvent(ix, ev)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", "error", err)
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
		s.index = nil
	}, nil
}

func (s *Store) onEvent(ix *index, ev fsnotify.Event) {
	name := filepath.Base(ev.Name)

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		ix.forget(name)
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		fi, err := os.Stat(ev.Name)
		if err != nil || !fi.Mode().IsRegular() {
			ix.forget(name)
			return
		}
		ix.put(FileInfo{
			Name:            name,
			SizeBytes:       fi.Size(),
			LastModifiedUTC: fi.ModTime().UTC(),
		})
	}
}
