package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"photonix/internal/catalog"
	"photonix/internal/config"
	"photonix/internal/logging"
	"photonix/internal/queue"
	"photonix/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes to stderr so command output on stdout stays clean.
func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	})
}

// withStores opens the task store and catalog for the duration of fn.
func (c *commandContext) withStores(fn func(*queue.Store, *catalog.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	cat, err := catalog.Open(cfg)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open catalog: %w", err)
	}
	fnErr := fn(store, cat)
	return errors.Join(fnErr, cat.Close(), store.Close())
}

// withDispatcher builds the classifier registry and a dispatcher over the
// stores for the duration of fn.
func (c *commandContext) withDispatcher(fn func(*workflow.Dispatcher, *queue.Store, *catalog.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return err
	}
	return c.withStores(func(store *queue.Store, cat *catalog.Store) error {
		registry, err := workflow.BuildRegistry(cfg, logger)
		if err != nil {
			return err
		}
		return fn(workflow.NewDispatcher(cfg, store, cat, registry, logger), store, cat)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
