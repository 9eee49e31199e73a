package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"romdl/internal/romdl"
)

// OSFilesystemManager is the local disk implementation of
// romdl.FilesystemManager.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a filesystem manager for the real disk.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

// Stat returns fresh file info for path.
func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// FindFiles walks root and returns its regular files with names relative
// to root. Symlinks, devices and other special files are skipped.
func (m *OSFilesystemManager) FindFiles(root string, skip romdl.EntryMatcher) ([]romdl.LocalFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	var files []romdl.LocalFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if skip != nil && skip.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		files = append(files, romdl.LocalFile{Path: p, Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}

// Remove deletes the file at path. A missing file is not an error.
func (m *OSFilesystemManager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes path and everything below it.
func (m *OSFilesystemManager) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

var _ romdl.FilesystemManager = (*OSFilesystemManager)(nil)
