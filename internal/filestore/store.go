// Package filestore manages the recordings folder: listing, stat and
// removal of files, with strict basename-only path handling so no request
// can ever reach outside the configured folder.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Error kinds surfaced to the control plane.
var (
	// ErrUnsafePath marks a file parameter that is not a plain basename.
	ErrUnsafePath = errors.New("unsafe file parameter")
	// ErrNotFound marks a file that does not exist in the folder.
	ErrNotFound = errors.New("file not found")
)

// FileInfo describes one recording file.
type FileInfo struct {
	Name            string
	SizeBytes       int64
	LastModifiedUTC time.Time
}

// Store serves file operations rooted at a single folder.
type Store struct {
	folder string
	index  *index
}

// New creates a store rooted at folder. The folder is created if missing.
func New(folder string) (*Store, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings folder: %w", err)
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve recordings folder: %w", err)
	}
	return &Store{folder: abs}, nil
}

// Folder returns the absolute recordings folder path.
func (s *Store) Folder() string {
	return s.folder
}

// resolve validates name as a bare basename and resolves it under the
// folder. The resolved path is guaranteed to stay inside the folder.
func (s *Store) resolve(name string) (string, error) {
	if name == "" ||
		strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	path := filepath.Join(s.folder, name)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if abs != path || filepath.Dir(abs) != s.folder {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return abs, nil
}

// List returns regular files, newest first. With ext set, only files with
// that extension (without dot) are returned.
func (s *Store) List(ext string) ([]FileInfo, error) {
	if s.index != nil {
		return s.index.list(ext), nil
	}
	return s.scan(ext)
}

// scan reads the folder from disk.
func (s *Store) scan(ext string) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return nil, fmt.Errorf("read recordings folder: %w", err)
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !matchExt(e.Name(), ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:            e.Name(),
			SizeBytes:       fi.Size(),
			LastModifiedUTC: fi.ModTime().UTC(),
		})
	}

	sortNewestFirst(out)
	return out, nil
}

func matchExt(name, ext string) bool {
	if ext == "" {
		return true
	}
	return strings.EqualFold(strings.TrimPrefix(filepath.Ext(name), "."), ext)
}

func sortNewestFirst(files []FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].LastModifiedUTC.Equal(files[j].LastModifiedUTC) {
			return files[i].LastModifiedUTC.After(files[j].LastModifiedUTC)
		}
		return files[i].Name > files[j].Name
	})
}

// Stat returns metadata for one file.
func (s *Store) Stat(name string) (FileInfo, error) {
	path, err := s.resolve(name)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return FileInfo{}, fmt.Errorf("stat %q: %w", name, err)
	}
	if !fi.Mode().IsRegular() {
		return FileInfo{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return FileInfo{
		Name:            name,
		SizeBytes:       fi.Size(),
		LastModifiedUTC: fi.ModTime().UTC(),
	}, nil
}

// Remove deletes one file.
func (s *Store) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return fmt.Errorf("remove %q: %w", name, err)
	}
	if s.index != nil {
		s.index.forget(name)
	}
	return nil
}
