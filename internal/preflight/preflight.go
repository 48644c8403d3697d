package preflight

import (
	"context"

	"photonix/internal/classify"
	"photonix/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Remote classifiers are only probed when enabled with an endpoint.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Thumbnail directory", cfg.Paths.ThumbnailDir),
		CheckDirectoryAccess("RAW cache directory", cfg.Paths.RawDir),
		CheckFreeSpace("Data free space", cfg.Paths.DataDir, MinFreeBytes),
	}

	for _, kind := range classify.Kinds() {
		settings := cfg.ClassifierFor(string(kind))
		if !settings.Enabled || settings.Endpoint == "" {
			continue
		}
		results = append(results, CheckClassifierEndpoint(ctx, string(kind), settings.Endpoint))
	}
	return results
}
