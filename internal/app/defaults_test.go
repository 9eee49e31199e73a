package app

import (
	"os"
	"path/filepath"
	"testing"

	"romdl/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("ROMDL_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("ROMDL_HOME", "/custom/romdl")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/romdl" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/romdl")
		}
		if defaults["log_dir"] != "/custom/romdl/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/romdl/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("ROMDL_CONFIG_PATH", "")
		t.Setenv("ROMDL_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "romdl.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "romdl")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("sets unset variables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("ROMDL_SESSION_TOKEN=from-file\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("ROMDL_SESSION_TOKEN", "")
		os.Unsetenv("ROMDL_SESSION_TOKEN")

		if err := LoadEnv(path); err != nil {
			t.Fatalf("LoadEnv() error = %v", err)
		}
		if got := os.Getenv("ROMDL_SESSION_TOKEN"); got != "from-file" {
			t.Errorf("ROMDL_SESSION_TOKEN = %q, want %q", got, "from-file")
		}
	})

	t.Run("existing variables win", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("ROMDL_SERVER_URL=http://file\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("ROMDL_SERVER_URL", "http://shell")

		if err := LoadEnv(path); err != nil {
			t.Fatalf("LoadEnv() error = %v", err)
		}
		if got := os.Getenv("ROMDL_SERVER_URL"); got != "http://shell" {
			t.Errorf("ROMDL_SERVER_URL = %q, want %q", got, "http://shell")
		}
	})

	t.Run("missing file is skipped", func(t *testing.T) {
		if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
			t.Errorf("LoadEnv() error = %v, want nil", err)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ROMDL_SERVER_URL", "http://romm.lan")
	t.Setenv("ROMDL_SESSION_TOKEN", "")

	cfg := config.NewConfig(t.TempDir())
	cfg.Server.SessionToken = "from-config"
	ApplyEnv(cfg)

	if cfg.Server.URL != "http://romm.lan" {
		t.Errorf("Server.URL = %q, want %q", cfg.Server.URL, "http://romm.lan")
	}
	if cfg.Server.SessionToken != "from-config" {
		t.Errorf("Server.SessionToken = %q, want unchanged", cfg.Server.SessionToken)
	}
}
