package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
	RawDir       string `toml:"raw_dir"`
	LogDir       string `toml:"log_dir"`
}

// Workflow contains configuration for dispatcher timing and intervals.
type Workflow struct {
	PollInterval       int  `toml:"poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	HeartbeatInterval  int  `toml:"heartbeat_interval"`
	StaleTimeout       int  `toml:"stale_timeout"`
	Eager              bool `toml:"eager"`
}

// Classification contains the batch processor defaults shared by all kinds.
type Classification struct {
	ThreadCount  int `toml:"thread_count"`
	BatchSize    int `toml:"batch_size"`
	PollInterval int `toml:"poll_interval"`
}

// Classifier configures a single classifier kind. An empty Endpoint means the
// in-process model is used when one exists for the kind.
type Classifier struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Batch          bool   `toml:"batch"`
	ThreadCount    int    `toml:"thread_count"`
	BatchSize      int    `toml:"batch_size"`
}

// ThumbnailSize describes one generated thumbnail variant.
type ThumbnailSize struct {
	Width   int    `toml:"width"`
	Height  int    `toml:"height"`
	Crop    string `toml:"crop"`
	Quality int    `toml:"quality"`
}

// Thumbnails contains configuration for the thumbnail stage.
type Thumbnails struct {
	Sizes []ThumbnailSize `toml:"sizes"`
}

// Raw contains configuration for RAW to JPEG conversion.
type Raw struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Notifications configures ntfy alerts for pipeline failures. An empty
// NtfyTopic disables them.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Photonix.
//
// Configuration sections by subsystem:
//   - Paths: database, thumbnail, raw output and log directories
//   - Workflow: dispatcher sweep interval, heartbeats and stale reclaim
//   - Classification: default batch processor sizing
//   - Classifiers: per-kind enablement and remote inference endpoints
//   - Thumbnails: generated thumbnail variants
//   - Raw: external RAW converter command
//   - Notifications: ntfy topic for failure alerts
//   - Logging: log format and level
type Config struct {
	Paths          Paths                 `toml:"paths"`
	Workflow       Workflow              `toml:"workflow"`
	Classification Classification        `toml:"classification"`
	Classifiers    map[string]Classifier `toml:"classifiers"`
	Thumbnails     Thumbnails            `toml:"thumbnails"`
	Raw            Raw                   `toml:"raw"`
	Notifications  Notifications         `toml:"notifications"`
	Logging        Logging               `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/photonix/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("photonix.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ThumbnailDir, c.Paths.RawDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database shared by the task store and catalog.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "photonix.db")
}

// ClassifierFor returns the effective settings for a classifier kind, falling
// back to the [classification] defaults for sizing.
func (c *Config) ClassifierFor(kind string) Classifier {
	settings, ok := c.Classifiers[kind]
	if !ok {
		settings = Classifier{Enabled: true}
	}
	if settings.ThreadCount <= 0 {
		settings.ThreadCount = c.Classification.ThreadCount
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = c.Classification.BatchSize
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = defaultClassifierTimeoutSeconds
	}
	return settings
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
