package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateClassification(); err != nil {
		return err
	}
	if err := c.validateThumbnails(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.ThumbnailDir == "" {
		return errors.New("paths.thumbnail_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.StaleTimeout < 0 {
		return errors.New("workflow.stale_timeout must not be negative")
	}
	if c.Workflow.StaleTimeout > 0 && c.Workflow.StaleTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.stale_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateClassification() error {
	if c.Classification.ThreadCount <= 0 {
		return errors.New("classification.thread_count must be positive")
	}
	if c.Classification.BatchSize <= 0 {
		return errors.New("classification.batch_size must be positive")
	}
	if c.Classification.PollInterval <= 0 {
		return errors.New("classification.poll_interval must be positive")
	}
	for kind, settings := range c.Classifiers {
		if !slices.Contains(KnownClassifiers, kind) {
			return fmt.Errorf("classifiers.%s: unknown classifier kind", kind)
		}
		if settings.Endpoint != "" {
			parsed, err := url.Parse(settings.Endpoint)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return fmt.Errorf("classifiers.%s.endpoint must be an absolute URL", kind)
			}
		}
		if settings.ThreadCount < 0 || settings.BatchSize < 0 {
			return fmt.Errorf("classifiers.%s: thread_count and batch_size must not be negative", kind)
		}
	}
	return nil
}

func (c *Config) validateThumbnails() error {
	if len(c.Thumbnails.Sizes) == 0 {
		return errors.New("thumbnails.sizes must contain at least one size")
	}
	for i, size := range c.Thumbnails.Sizes {
		if size.Width <= 0 || size.Height <= 0 {
			return fmt.Errorf("thumbnails.sizes[%d]: width and height must be positive", i)
		}
		switch size.Crop {
		case "cover", "contain":
		default:
			return fmt.Errorf("thumbnails.sizes[%d]: unsupported crop %q", i, size.Crop)
		}
		if size.Quality < 1 || size.Quality > 100 {
			return fmt.Errorf("thumbnails.sizes[%d]: quality must be between 1 and 100", i)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" {
		parsed, err := url.Parse(c.Notifications.NtfyTopic)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return errors.New("notifications.ntfy_topic must be an absolute URL")
		}
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
