package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"photonix/internal/catalog"
	"photonix/internal/config"
	"photonix/internal/logging"
	"photonix/internal/preflight"
	"photonix/internal/queue"
	"photonix/internal/stage"
	"photonix/internal/workflow"
)

// Daemon coordinates the background dispatcher and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	catalog    *catalog.Store
	dispatcher *workflow.Dispatcher

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, cat *catalog.Store, logger *slog.Logger, dispatcher *workflow.Dispatcher) (*Daemon, error) {
	if cfg == nil || store == nil || cat == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, stores, and dispatcher")
	}
	lockPath := LockPath(cfg)
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		catalog:    cat,
		dispatcher: dispatcher,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// LockPath returns the single-instance lock file for cfg.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "photonixd.lock")
}

// Probe reports whether another process currently holds the daemon lock.
func Probe(cfg *config.Config) (bool, error) {
	lock := flock.New(LockPath(cfg))
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if !locked {
		return true, nil
	}
	return false, lock.Unlock()
}

// Start acquires the daemon lock, runs preflight checks and starts the
// dispatcher in polling mode.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another photonix daemon instance is already running")
	}

	if failed := failedPreflight(preflight.RunAll(ctx, d.cfg)); len(failed) > 0 {
		_ = d.lock.Unlock()
		return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.dispatcher.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("photonix daemon started", logging.String("lock", d.lockPath))
	for _, h := range stage.NotReady(d.dispatcher.Status(ctx).StageHealth) {
		logging.WarnWithContext(d.logger, "stage not ready", "stage_not_ready",
			logging.String("stage", h.Name),
			logging.String("detail", h.Detail),
			logging.String(logging.FieldErrorHint, "run `photonix status` for dependency details"),
		)
	}
	return nil
}

// failedPreflight returns the failing checks. Remote classifiers that are
// down only produce warnings at runtime, so they are not fatal here.
func failedPreflight(results []preflight.Result) []string {
	var failed []string
	for _, result := range results {
		if result.Passed || strings.HasPrefix(result.Name, "Classifier ") {
			continue
		}
		failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Detail))
	}
	return failed
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.dispatcher.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("photonix daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return errors.Join(d.catalog.Close(), d.store.Close())
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.dispatcher.Status(ctx),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
}
