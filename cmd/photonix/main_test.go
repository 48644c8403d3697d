package main

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"photonix/internal/config"
	"photonix/internal/testsupport"
)

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(cfg), "photonix.toml")
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nthumbnail_dir = %q\nraw_dir = %q\nlog_dir = %q\n\n[workflow]\neager = %t\n\n[logging]\nlevel = \"error\"\n",
		cfg.Paths.DataDir,
		cfg.Paths.ThumbnailDir,
		cfg.Paths.RawDir,
		cfg.Paths.LogDir,
		cfg.Workflow.Eager,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func setupCLI(t *testing.T) (*config.Config, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	return cfg, writeTestConfig(t, cfg)
}

var addedPhoto = regexp.MustCompile(`as photo ([0-9a-f-]+) \(pipeline (\w+)\)`)

func TestLibraryCommands(t *testing.T) {
	_, configPath := setupCLI(t)

	out, _, err := runCLI(t, []string{"library", "add", "Family", "--classifiers", "color,event"}, configPath)
	if err != nil {
		t.Fatalf("library add: %v", err)
	}
	requireContains(t, out, "with classifiers: color, event")

	if _, _, err := runCLI(t, []string{"library", "add", "Travel", "--classifiers", "sparkle"}, configPath); err == nil {
		t.Fatal("expected unknown classifier kind to be rejected")
	}

	out, _, err = runCLI(t, []string{"library", "disable", "Family", "event"}, configPath)
	if err != nil {
		t.Fatalf("library disable: %v", err)
	}
	requireContains(t, out, "Library Family classifiers: color")

	out, _, err = runCLI(t, []string{"library", "list"}, configPath)
	if err != nil {
		t.Fatalf("library list: %v", err)
	}
	requireContains(t, out, "Family")
	if strings.Contains(out, "event") {
		t.Fatalf("expected event classifier disabled, got %q", out)
	}
}

func TestPhotoAddRunsEagerPipeline(t *testing.T) {
	cfg, configPath := setupCLI(t)
	if _, _, err := runCLI(t, []string{"library", "add", "Family", "--classifiers", "color"}, configPath); err != nil {
		t.Fatalf("library add: %v", err)
	}

	photoPath := filepath.Join(testsupport.BaseDir(cfg), "red.jpg")
	testsupport.WriteJPEG(t, photoPath, 64, 48, color.RGBA{R: 220, G: 10, B: 10, A: 255})

	out, _, err := runCLI(t, []string{"photo", "add", "--library", "Family", photoPath}, configPath)
	if err != nil {
		t.Fatalf("photo add: %v", err)
	}
	match := addedPhoto.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("unexpected photo add output %q", out)
	}
	if match[2] != "completed" {
		t.Fatalf("expected eager pipeline to complete process_raw, got %s", match[2])
	}

	out, _, err = runCLI(t, []string{"photo", "tags", match[1]}, configPath)
	if err != nil {
		t.Fatalf("photo tags: %v", err)
	}
	requireContains(t, out, "Red")
	requireContains(t, out, "color")

	out, _, err = runCLI(t, []string{"queue", "status"}, configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "classify.color")
	requireContains(t, out, "classify_images")

	out, _, err = runCLI(t, []string{"queue", "list", "--status", "failed"}, configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "No tasks")
}

func TestPhotoAddValidatesInput(t *testing.T) {
	cfg, configPath := setupCLI(t)
	if _, _, err := runCLI(t, []string{"library", "add", "Family"}, configPath); err != nil {
		t.Fatalf("library add: %v", err)
	}
	missing := filepath.Join(testsupport.BaseDir(cfg), "missing.jpg")

	if _, _, err := runCLI(t, []string{"photo", "add", missing}, configPath); err == nil || !strings.Contains(err.Error(), "--library") {
		t.Fatalf("expected --library error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"photo", "add", "--library", "Family", missing}, configPath); err == nil {
		t.Fatal("expected missing file to be rejected")
	}
	if _, _, err := runCLI(t, []string{"photo", "add", "--library", "Family", "--lat", "1", missing}, configPath); err == nil || !strings.Contains(err.Error(), "--lon") {
		t.Fatalf("expected coordinate pairing error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"photo", "add", "--library", "Nowhere", missing}, configPath); err == nil {
		t.Fatal("expected unknown library to be rejected")
	}
}

func TestQueueRetryAfterFailure(t *testing.T) {
	cfg, configPath := setupCLI(t)
	if _, _, err := runCLI(t, []string{"library", "add", "Family", "--classifiers", "color"}, configPath); err != nil {
		t.Fatalf("library add: %v", err)
	}
	photoPath := filepath.Join(testsupport.BaseDir(cfg), "gone.jpg")
	testsupport.WriteJPEG(t, photoPath, 16, 16, color.White)

	out, _, err := runCLI(t, []string{"photo", "add", "--library", "Family", photoPath}, configPath)
	if err != nil {
		t.Fatalf("photo add: %v", err)
	}
	match := addedPhoto.FindStringSubmatch(out)
	if match == nil || match[2] != "completed" {
		t.Fatalf("unexpected photo add output %q", out)
	}

	if err := os.Remove(photoPath); err != nil {
		t.Fatalf("remove photo: %v", err)
	}
	if _, _, err := runCLI(t, []string{"photo", "reprocess", match[1]}, configPath); err != nil {
		t.Fatalf("photo reprocess: %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "list", "--status", "failed"}, configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "process_raw")

	out, _, err = runCLI(t, []string{"queue", "retry"}, configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Retried 1 task(s)")
}

func TestSweepAndBatchCommands(t *testing.T) {
	_, configPath := setupCLI(t)

	out, _, err := runCLI(t, []string{"sweep", "--until-idle"}, configPath)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "Stages completed")

	out, _, err = runCLI(t, []string{"batch", "run", "color"}, configPath)
	if err != nil {
		t.Fatalf("batch run: %v", err)
	}
	requireContains(t, out, "classify.color: 0 completed")

	if _, _, err := runCLI(t, []string{"batch", "run", "face"}, configPath); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected unregistered kind error, got %v", err)
	}
}

func TestQueueHealth(t *testing.T) {
	_, configPath := setupCLI(t)
	out, _, err := runCLI(t, []string{"queue", "health"}, configPath)
	if err != nil {
		t.Fatalf("queue health: %v", err)
	}
	requireContains(t, out, "Database exists: yes")
	requireContains(t, out, "tasks table present: yes")
}

func TestConfigInitAndValidate(t *testing.T) {
	_, configPath := setupCLI(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected existing config to be protected without --overwrite")
	}
}

func TestStatusReportsPipeline(t *testing.T) {
	_, configPath := setupCLI(t)
	out, _, err := runCLI(t, []string{"status"}, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "color, event")
	requireContains(t, out, "0 pending")
	if strings.Contains(out, ansiReset) {
		t.Fatalf("expected plain output for non-terminal writer, got %q", out)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	_, configPath := setupCLI(t)
	out, _, err := runCLI(t, []string{"test-notify"}, configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications are disabled")
}

func TestLogsCommandFiltersLines(t *testing.T) {
	cfg, configPath := setupCLI(t)
	logPath := filepath.Join(cfg.Paths.LogDir, "photonix.log")
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := "stage started task_id=t1\nstage started task_id=t2\nstage completed task_id=t1\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--match", "task_id=t1"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "t2") || strings.Count(out, "task_id=t1") != 2 {
		t.Fatalf("unexpected filtered output %q", out)
	}
}
