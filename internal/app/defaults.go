package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"romdl/internal/config"
)

// Environment variables read by romdl.
const (
	EnvConfigPath   = "ROMDL_CONFIG_PATH"
	EnvHome         = "ROMDL_HOME"
	EnvServerURL    = "ROMDL_SERVER_URL"
	EnvSessionToken = "ROMDL_SESSION_TOKEN"
)

// LoadEnv reads KEY=VALUE pairs from the given .env files into the process
// environment. Variables that are already set win. Missing files are
// skipped.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ROMDL_CONFIG_PATH: config file location (default: ~/.config/romdl.toml)
//   - ROMDL_HOME: base directory for romdl data (default: ~/.local/share/romdl)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// ApplyEnv overrides server settings in cfg from the environment, so the
// session token can stay out of the config file.
func ApplyEnv(cfg *config.Config) {
	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv(EnvSessionToken); v != "" {
		cfg.Server.SessionToken = v
	}
}

// getConfigPath returns the config file path, checking ROMDL_CONFIG_PATH env var first,
// then falling back to the default ~/.config/romdl.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "romdl.toml"), nil
}

// getBaseDir returns the base directory for romdl data, checking ROMDL_HOME env var first,
// then falling back to the XDG default ~/.local/share/romdl.
func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "romdl"), nil
}
