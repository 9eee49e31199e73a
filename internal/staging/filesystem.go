package staging

import (
	"fmt"
	"os"
)

// FileSystemWorkspace keeps in-flight downloads under a configured
// directory that survives restarts.
type FileSystemWorkspace struct {
	*workspace
}

// NewFileSystemWorkspace creates a workspace rooted at dir, creating it if
// needed.
func NewFileSystemWorkspace(dir string) (*FileSystemWorkspace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return &FileSystemWorkspace{workspace: &workspace{root: dir}}, nil
}

// Close is a no-op; the directory is kept.
func (w *FileSystemWorkspace) Close() error {
	return nil
}
