package staging

import (
	"fmt"
	"os"
)

// TempWorkspace keeps in-flight downloads in a private temporary directory
// that is removed on Close. Useful for tests and one-shot runs.
type TempWorkspace struct {
	*workspace
}

// NewTempWorkspace creates a workspace in a new directory under the
// system temp dir.
func NewTempWorkspace() (*TempWorkspace, error) {
	dir, err := os.MkdirTemp("", "romdl-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp workspace: %w", err)
	}
	return &TempWorkspace{workspace: &workspace{root: dir}}, nil
}

// Close removes the workspace directory and everything in it.
func (w *TempWorkspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return os.RemoveAll(w.root)
}
