package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"photonix/internal/catalog"
	"photonix/internal/config"
	"photonix/internal/logging"
	"photonix/internal/preflight"
	"photonix/internal/queue"
	"photonix/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the daemon and blocks until SIGINT, SIGTERM or ctx cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("photonix-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update photonix.log link: %v\n", err)
	}
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "photonix.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	cat, err := catalog.Open(cfg)
	if err != nil {
		_ = store.Close()
		logger.Error("open catalog", logging.Error(err))
		return err
	}
	registry, err := workflow.BuildRegistry(cfg, logger)
	if err != nil {
		_ = store.Close()
		_ = cat.Close()
		return err
	}
	dispatcher := workflow.NewDispatcher(cfg, store, cat, registry, logger)

	d, err := New(cfg, store, cat, logger, dispatcher)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and directory permissions"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("photonix daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "photonix.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		key := strings.ReplaceAll(strings.ToLower(status.Name), " ", "_")
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_command", status.Command),
		)
	}
	for name, settings := range cfg.Classifiers {
		if settings.Enabled && settings.Endpoint != "" {
			attrs = append(attrs, logging.String("classifier."+name, settings.Endpoint))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
