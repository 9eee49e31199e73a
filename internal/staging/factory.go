package staging

import (
	"fmt"

	"romdl/internal/config"
	"romdl/internal/romdl"
)

// Workspace is a romdl.Workspace that owns resources until closed.
type Workspace interface {
	romdl.Workspace
	Sweep(keep map[string]bool) (int, error)
	Root() string
	Close() error
}

// NewWorkspaceFromConfig creates a Workspace implementation based on the config type.
func NewWorkspaceFromConfig(cfg config.StagingConfig) (Workspace, error) {
	switch cfg.Type {
	case "memory":
		return NewTempWorkspace()
	case "filesystem":
		if cfg.TempDir == "" {
			return nil, fmt.Errorf("filesystem staging requires temp_dir to be set")
		}
		return NewFileSystemWorkspace(cfg.TempDir)
	default:
		return nil, fmt.Errorf("unknown staging type: %s", cfg.Type)
	}
}
