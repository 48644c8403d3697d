package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"photonix/internal/classify"
	"photonix/internal/classify/builtin"
	"photonix/internal/classify/remote"
	"photonix/internal/config"
	"photonix/internal/logging"
)

// BuildRegistry assembles the classifiers the configuration enables. A kind
// with an endpoint is served by the remote inference client; color and event
// fall back to the built-in models. Other kinds without an endpoint stay
// unregistered and are never fanned out.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) (*classify.Registry, error) {
	logger = logging.NewComponentLogger(logger, "registry")
	registry := classify.NewRegistry()
	for _, kind := range classify.Kinds() {
		settings := cfg.ClassifierFor(string(kind))
		if !settings.Enabled {
			logger.Debug("classifier disabled", logging.String(logging.FieldClassifier, string(kind)))
			continue
		}
		model := localModel(kind)
		source := "builtin"
		if settings.Endpoint != "" {
			model = remote.New(kind, settings.Endpoint, time.Duration(settings.TimeoutSeconds)*time.Second, settings.Batch)
			source = settings.Endpoint
		}
		if model == nil {
			logger.Info("classifier has no model; skipping",
				logging.String(logging.FieldClassifier, string(kind)),
				logging.String(logging.FieldEventType, "classifier_unavailable"),
			)
			continue
		}
		if err := registry.Register(classify.Classifier{Kind: kind, Model: model}); err != nil {
			return nil, fmt.Errorf("register %s: %w", kind, err)
		}
		logger.Debug("classifier registered",
			logging.String(logging.FieldClassifier, string(kind)),
			logging.String("source", source),
		)
	}
	return registry, nil
}

func localModel(kind classify.Kind) classify.Model {
	switch kind {
	case classify.KindColor:
		return builtin.NewColorModel()
	case classify.KindEvent:
		return builtin.NewEventModel()
	default:
		return nil
	}
}
