package testsupport

import (
	"fmt"
	"path/filepath"
	"testing"

	"photonix/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ThumbnailDir = filepath.Join(base, "thumbnails")
	cfg.Paths.RawDir = filepath.Join(base, "raw")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.Eager = true

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return &cfg
}

// WithClassification overrides the batch processor sizing.
func WithClassification(threads, batchSize int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Classification.ThreadCount = threads
		cfg.Classification.BatchSize = batchSize
	}
}

// WithClassifierDisabled switches a classifier kind off globally.
func WithClassifierDisabled(kind string) ConfigOption {
	return func(cfg *config.Config) {
		settings := cfg.Classifiers[kind]
		settings.Enabled = false
		cfg.Classifiers[kind] = settings
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// SubjectID returns a stable synthetic subject identifier.
func SubjectID(i int) string {
	return fmt.Sprintf("photo-%03d", i)
}
