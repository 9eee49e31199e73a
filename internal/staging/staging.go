package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"romdl/internal/romdl"
)

const (
	// scratchDirName is the per-download directory archives are extracted
	// into.
	scratchDirName = "extract"

	// partSuffix marks a file that is still being transferred.
	partSuffix = ".part"
)

// workspace implements romdl.Workspace under a single root directory.
// Every download owns <root>/<id>/ and nothing outside it.
//
// Directory structure:
//
//	<root>/
//	  <download_id>/
//	    <file_name>.part   (transfer target)
//	    extract/           (scratch directory for archives)
type workspace struct {
	root string
	mu   sync.Mutex
}

var _ romdl.Workspace = (*workspace)(nil)

func (w *workspace) dir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid download id %q", id)
	}
	return filepath.Join(w.root, id), nil
}

// TempPath returns the transfer target for id, creating its directory.
func (w *workspace) TempPath(id, fileName string) (string, error) {
	dir, err := w.dir(id)
	if err != nil {
		return "", err
	}
	name := filepath.Base(filepath.Clean("/" + filepath.FromSlash(fileName)))
	if name == string(filepath.Separator) || name == "." {
		return "", fmt.Errorf("invalid file name %q", fileName)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating workspace for %s: %w", id, err)
	}
	return filepath.Join(dir, name+partSuffix), nil
}

// ScratchDir returns an empty extraction directory for id. Leftovers from a
// previous attempt are removed first.
func (w *workspace) ScratchDir(id string) (string, error) {
	dir, err := w.dir(id)
	if err != nil {
		return "", err
	}
	scratch := filepath.Join(dir, scratchDirName)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.RemoveAll(scratch); err != nil {
		return "", fmt.Errorf("clearing scratch dir for %s: %w", id, err)
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("creating scratch dir for %s: %w", id, err)
	}
	return scratch, nil
}

// Cleanup removes everything held for id. A missing directory is not an
// error.
func (w *workspace) Cleanup(id string) error {
	dir, err := w.dir(id)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cleaning workspace for %s: %w", id, err)
	}
	return nil
}

// Sweep removes every download directory whose id is not in keep and
// returns the number removed. The live queue is not persisted, so at
// startup everything left over is garbage.
func (w *workspace) Sweep(keep map[string]bool) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading workspace: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, e.Name())); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Root returns the workspace root directory.
func (w *workspace) Root() string {
	return w.root
}
