package daemon_test

import (
	"context"
	"strings"
	"testing"

	"photonix/internal/config"
	"photonix/internal/daemon"
	"photonix/internal/testsupport"
	"photonix/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	cat := testsupport.MustOpenCatalog(t, cfg)
	registry, err := workflow.BuildRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	d, err := daemon.New(cfg, store, cat, nil, workflow.NewDispatcher(cfg, store, cat, registry, nil))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected daemon and workflow running, got %+v", status)
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", status.DatabasePath)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running || status.Workflow.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("expected second daemon to start once the lock is free: %v", err)
	}
}

func TestStartFailsPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	cfg.Paths.ThumbnailDir = cfg.Paths.ThumbnailDir + "-missing"

	err := d.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Thumbnail directory") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon must not run after a failed preflight")
	}
}
