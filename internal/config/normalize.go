package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeClassifiers()
	c.normalizeThumbnails()
	c.normalizeLogging()
	c.Raw.Command = strings.TrimSpace(c.Raw.Command)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ThumbnailDir) == "" {
		c.Paths.ThumbnailDir = defaultThumbnailDir
	}
	if c.Paths.ThumbnailDir, err = expandPath(c.Paths.ThumbnailDir); err != nil {
		return fmt.Errorf("paths.thumbnail_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RawDir) == "" {
		c.Paths.RawDir = defaultRawDir
	}
	if c.Paths.RawDir, err = expandPath(c.Paths.RawDir); err != nil {
		return fmt.Errorf("paths.raw_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeClassifiers() {
	normalized := make(map[string]Classifier, len(c.Classifiers))
	for kind, settings := range c.Classifiers {
		settings.Endpoint = strings.TrimRight(strings.TrimSpace(settings.Endpoint), "/")
		normalized[strings.ToLower(strings.TrimSpace(kind))] = settings
	}
	c.Classifiers = normalized
}

func (c *Config) normalizeThumbnails() {
	for i := range c.Thumbnails.Sizes {
		size := &c.Thumbnails.Sizes[i]
		size.Crop = strings.ToLower(strings.TrimSpace(size.Crop))
		if size.Crop == "" {
			size.Crop = "cover"
		}
		if size.Quality == 0 {
			size.Quality = 75
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
