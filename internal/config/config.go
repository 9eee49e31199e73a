package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for romdl.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Staging  StagingConfig  `toml:"staging"`
	Storage  StorageConfig  `toml:"storage"`
	Download DownloadConfig `toml:"download"`
}

// ServerConfig points at the RomM server files are downloaded from.
type ServerConfig struct {
	URL          string `toml:"url"`
	SessionToken string `toml:"session_token"`
}

// DatabaseConfig represents configuration for the settings and history store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig represents configuration for the local download workspace.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type    string `toml:"type"`               // "memory" or "filesystem"
	TempDir string `toml:"temp_dir,omitempty"` // only used for type=filesystem
}

// StorageConfig holds credentials for s3:// storage locations. It is
// unused for file:// and mem:// locations.
type StorageConfig struct {
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty"`
}

// DownloadConfig tunes transfers and post-processing.
type DownloadConfig struct {
	ArchiveSuffixes     []string `toml:"archive_suffixes"`
	Ignore              []string `toml:"ignore"`
	SampleInterval      Duration `toml:"sample_interval"`
	SpeedWindow         int      `toml:"speed_window"`
	PollAbsentInterval  Duration `toml:"poll_absent_interval"`
	PollPartialInterval Duration `toml:"poll_partial_interval"`
}

// Duration is a time.Duration written as a string such as "3s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DefaultIgnore lists archive entries that are never moved to a
// destination folder.
var DefaultIgnore = []string{"__MACOSX/*", ".DS_Store", "Thumbs.db"}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Staging: StagingConfig{
			Type:    "filesystem",
			TempDir: filepath.Join(baseDir, "tmp"),
		},
		Download: DownloadConfig{
			ArchiveSuffixes:     []string{".zip"},
			Ignore:              DefaultIgnore,
			SampleInterval:      Duration{3 * time.Second},
			SpeedWindow:         5,
			PollAbsentInterval:  Duration{100 * time.Millisecond},
			PollPartialInterval: Duration{time.Second},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path. The file holds
// the server session token, so it is only readable by its owner.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
