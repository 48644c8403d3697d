package workflow_test

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"photonix/internal/catalog"
	"photonix/internal/classify"
	"photonix/internal/config"
	"photonix/internal/notifications"
	"photonix/internal/queue"
	"photonix/internal/stage"
	"photonix/internal/testsupport"
	"photonix/internal/workflow"
)

type env struct {
	cfg        *config.Config
	store      *queue.Store
	cat        *catalog.Store
	dispatcher *workflow.Dispatcher
}

func newEnv(t *testing.T, cfg *config.Config, opts ...workflow.Option) env {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	cat := testsupport.MustOpenCatalog(t, cfg)
	registry, err := workflow.BuildRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	return env{
		cfg:        cfg,
		store:      store,
		cat:        cat,
		dispatcher: workflow.NewDispatcher(cfg, store, cat, registry, nil, opts...),
	}
}

func (e env) parentFor(t *testing.T, photoID string) *queue.Task {
	t.Helper()
	parent, err := e.store.LatestForSubject(context.Background(), queue.TypeClassifyImages, photoID)
	if err != nil || parent == nil {
		t.Fatalf("classify_images task for %s: %v %v", photoID, parent, err)
	}
	return parent
}

func withEndpoint(kind, endpoint string) testsupport.ConfigOption {
	return func(cfg *config.Config) {
		settings := cfg.Classifiers[kind]
		settings.Endpoint = endpoint
		cfg.Classifiers[kind] = settings
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	registry, err := workflow.BuildRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	kinds := registry.Kinds()
	if len(kinds) != 2 || kinds[0] != classify.KindColor || kinds[1] != classify.KindEvent {
		t.Fatalf("expected only built-in kinds, got %v", kinds)
	}

	cfg = testsupport.NewConfig(t,
		testsupport.WithClassifierDisabled("color"),
		withEndpoint("face", "http://127.0.0.1:9/"),
	)
	registry, _ = workflow.BuildRegistry(cfg, nil)
	kinds = registry.Kinds()
	if len(kinds) != 2 || kinds[0] != classify.KindEvent || kinds[1] != classify.KindFace {
		t.Fatalf("expected event and remote face, got %v", kinds)
	}
}

func TestEagerModeRunsWholePipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"labels":[{"label":"serene","score":0.962}]}`))
	}))
	defer srv.Close()

	e := newEnv(t, testsupport.NewConfig(t, withEndpoint("style", srv.URL)))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color", "event", "style")
	photo, file := testsupport.NewJPEGPhoto(t, e.cat, lib.ID, t.TempDir(), color.RGBA{R: 255, A: 255})

	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated: %v", err)
	}

	for _, taskType := range []queue.Type{queue.TypeProcessRaw, queue.TypeGenerateThumbnails} {
		task, _ := e.store.LatestForSubject(ctx, taskType, photo.ID)
		if task == nil || task.Status != queue.StatusCompleted {
			t.Fatalf("expected %s completed, got %+v", taskType, task)
		}
	}
	parent := e.parentFor(t, photo.ID)
	if parent.Status != queue.StatusCompleted || parent.ErrorMessage != "" {
		t.Fatalf("unexpected parent %+v", parent)
	}
	children, _ := e.store.Children(ctx, parent.ID)
	if len(children) != 3 {
		t.Fatalf("expected color, event and style children, got %d", len(children))
	}

	tags, err := e.cat.PhotoTags(ctx, photo.ID)
	if err != nil {
		t.Fatalf("PhotoTags: %v", err)
	}
	found := map[string]float64{}
	for _, tag := range tags {
		found[tag.Name] = tag.Confidence
	}
	if found["Red"] < 0.9 {
		t.Fatalf("expected dominant Red colour tag, got %+v", found)
	}
	if found["serene"] != 0.962 {
		t.Fatalf("expected serene style tag, got %+v", found)
	}

	files, _ := e.cat.PhotoFiles(ctx, photo.ID)
	if !files[0].RawProcessed || files[0].ID != file.ID {
		t.Fatalf("expected file marked processed, got %+v", files[0])
	}
	thumbs, err := os.ReadDir(e.cfg.Paths.ThumbnailDir + "/photofile")
	if err != nil || len(thumbs) != 2 {
		t.Fatalf("expected one directory per thumbnail size, got %v %v", thumbs, err)
	}
}

func TestMissingPhotoFileFailsRawStage(t *testing.T) {
	e := newEnv(t, testsupport.NewConfig(t))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color")
	photo, _ := testsupport.NewPhoto(t, e.cat, lib.ID)

	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated: %v", err)
	}
	task, _ := e.store.LatestForSubject(ctx, queue.TypeProcessRaw, photo.ID)
	if task.Status != queue.StatusFailed || !strings.Contains(task.ErrorMessage, "subject not found") {
		t.Fatalf("unexpected raw task %+v", task)
	}
	if next, _ := e.store.LatestForSubject(ctx, queue.TypeGenerateThumbnails, photo.ID); next != nil {
		t.Fatalf("failed stage must not create a successor, got %+v", next)
	}
	status := e.dispatcher.Status(ctx)
	if !strings.Contains(status.LastError, "subject not found") {
		t.Fatalf("expected last error recorded, got %q", status.LastError)
	}
}

func TestReprocessFailsWhenSourceRemoved(t *testing.T) {
	e := newEnv(t, testsupport.NewConfig(t))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color")
	photo, file := testsupport.NewJPEGPhoto(t, e.cat, lib.ID, t.TempDir(), color.White)

	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated: %v", err)
	}
	first, _ := e.store.LatestForSubject(ctx, queue.TypeProcessRaw, photo.ID)
	if first.Status != queue.StatusCompleted {
		t.Fatalf("expected first pass completed, got %+v", first)
	}

	if err := os.Remove(file.Path); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated again: %v", err)
	}
	again, _ := e.store.LatestForSubject(ctx, queue.TypeProcessRaw, photo.ID)
	if again.ID == first.ID || again.Status != queue.StatusFailed || !strings.Contains(again.ErrorMessage, "subject not found") {
		t.Fatalf("expected a failed process_raw for the removed source, got %+v", again)
	}
}

func TestSweepRecoversPendingParent(t *testing.T) {
	e := newEnv(t, testsupport.NewConfig(t))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color")
	photo, _ := testsupport.NewPhoto(t, e.cat, lib.ID)
	parent, err := e.store.Create(ctx, queue.TypeClassifyImages, photo.ID, lib.ID, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	report, err := e.dispatcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.FannedOut != 1 || report.ClassifyFailed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	got, _ := e.store.Get(ctx, parent.ID)
	if got.Status != queue.StatusCompleted || got.ErrorMessage != "1 of 1 classifiers failed: color" {
		t.Fatalf("unexpected parent %+v", got)
	}
}

func TestSweepSettlesStartedParent(t *testing.T) {
	e := newEnv(t, testsupport.NewConfig(t))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color", "event")
	photo, _ := testsupport.NewPhoto(t, e.cat, lib.ID)
	parent, _ := e.store.Create(ctx, queue.TypeClassifyImages, photo.ID, lib.ID, "")
	children, err := e.dispatcher.Orchestrator().FanOut(ctx, parent)
	if err != nil || len(children) != 2 {
		t.Fatalf("FanOut: %v %v", children, err)
	}
	// Simulate a crash between the last child finishing and the fan-in.
	for _, child := range children {
		if _, err := e.store.Start(ctx, child.ID); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := e.store.Complete(ctx, child.ID); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if got, _ := e.store.Get(ctx, parent.ID); got.Status != queue.StatusStarted {
		t.Fatalf("expected parent still started, got %s", got.Status)
	}

	report, err := e.dispatcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Settled != 1 {
		t.Fatalf("expected one settled parent, got %+v", report)
	}
	if got, _ := e.store.Get(ctx, parent.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("expected parent completed, got %+v", got)
	}
}

type fakeHandler struct {
	mu       sync.Mutex
	executed []string
	err      error
}

func (h *fakeHandler) Prepare(context.Context, *queue.Task) error { return nil }

func (h *fakeHandler) Execute(_ context.Context, task *queue.Task) error {
	h.mu.Lock()
	h.executed = append(h.executed, task.SubjectID)
	h.mu.Unlock()
	return h.err
}

func (h *fakeHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("fake") }

func (h *fakeHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.executed)
}

func TestStageWaitsForActivePredecessor(t *testing.T) {
	raw, thumbs := &fakeHandler{}, &fakeHandler{}
	e := newEnv(t, testsupport.NewConfig(t),
		workflow.WithStageHandler(queue.TypeProcessRaw, raw),
		workflow.WithStageHandler(queue.TypeGenerateThumbnails, thumbs),
	)
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat)
	photo, _ := testsupport.NewPhoto(t, e.cat, lib.ID)

	rawTask, _ := e.store.Create(ctx, queue.TypeProcessRaw, photo.ID, lib.ID, "")
	if _, err := e.store.Start(ctx, rawTask.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	thumbTask, _ := e.store.Create(ctx, queue.TypeGenerateThumbnails, photo.ID, lib.ID, "")

	if _, err := e.dispatcher.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if thumbs.calls() != 0 {
		t.Fatal("thumbnail stage ran while process_raw was active")
	}
	if got, _ := e.store.Get(ctx, thumbTask.ID); got.Status != queue.StatusPending {
		t.Fatalf("expected thumbnail task pending, got %s", got.Status)
	}

	if _, err := e.store.Complete(ctx, rawTask.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	report, err := e.dispatcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if thumbs.calls() != 1 || report.StagesRun != 1 {
		t.Fatalf("expected thumbnail stage to run once, calls=%d report=%+v", thumbs.calls(), report)
	}
	// No classifier is enabled for the library, so the parent completes empty.
	parent := e.parentFor(t, photo.ID)
	if parent.Status != queue.StatusCompleted {
		t.Fatalf("expected empty parent completed, got %+v", parent)
	}
}

func TestStageFailureIsRecorded(t *testing.T) {
	raw := &fakeHandler{err: errors.New("converter crashed")}
	e := newEnv(t, testsupport.NewConfig(t), workflow.WithStageHandler(queue.TypeProcessRaw, raw))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color")
	photo, _ := testsupport.NewPhoto(t, e.cat, lib.ID)

	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated: %v", err)
	}
	task, _ := e.store.LatestForSubject(ctx, queue.TypeProcessRaw, photo.ID)
	if task.Status != queue.StatusFailed || task.ErrorMessage != "converter crashed" {
		t.Fatalf("unexpected task %+v", task)
	}

	// A retried task runs again on the next sweep.
	raw.err = nil
	if _, err := e.store.RetryFailed(ctx, task.ID); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if _, err := e.dispatcher.SweepUntilIdle(ctx); err != nil {
		t.Fatalf("SweepUntilIdle: %v", err)
	}
	task, _ = e.store.Get(ctx, task.ID)
	if task.Status != queue.StatusCompleted || raw.calls() != 2 {
		t.Fatalf("expected retried task completed, got %+v after %d calls", task, raw.calls())
	}
}

func TestRunBatchValidatesKind(t *testing.T) {
	e := newEnv(t, testsupport.NewConfig(t))
	ctx := context.Background()
	if err := e.dispatcher.RunBatch(ctx, "nonsense", false); !errors.Is(err, classify.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := e.dispatcher.RunBatch(ctx, "face", false); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected unregistered error, got %v", err)
	}
	if err := e.dispatcher.RunBatch(ctx, "Event", false); err != nil {
		t.Fatalf("RunBatch event: %v", err)
	}
}

func TestPollingModeDrainsQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t, func(cfg *config.Config) {
		cfg.Workflow.Eager = false
		cfg.Workflow.PollInterval = 1
	})
	e := newEnv(t, cfg)
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color", "event")
	photo, _ := testsupport.NewJPEGPhoto(t, e.cat, lib.ID, t.TempDir(), color.RGBA{B: 255, A: 255})

	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated: %v", err)
	}
	if task, _ := e.store.LatestForSubject(ctx, queue.TypeProcessRaw, photo.ID); task.Status != queue.StatusPending {
		t.Fatalf("polling mode must not run stages inline, got %s", task.Status)
	}

	if err := e.dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.dispatcher.Stop()
	if err := e.dispatcher.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.After(15 * time.Second)
	for {
		parent, _ := e.store.LatestForSubject(ctx, queue.TypeClassifyImages, photo.ID)
		if parent != nil && parent.Status == queue.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the pipeline to finish")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if status := e.dispatcher.Status(ctx); !status.Running || len(status.StageHealth) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
	e.dispatcher.Stop()
	if e.dispatcher.Status(ctx).Running {
		t.Fatal("expected dispatcher stopped")
	}
}

func TestAddPhotoRegistersAndRuns(t *testing.T) {
	e := newEnv(t, testsupport.NewConfig(t))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "event")
	dir := t.TempDir()
	path := dir + "/new-year.jpg"
	testsupport.WriteJPEG(t, path, 64, 64, color.White)
	taken := time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC)

	photo, task, err := e.dispatcher.AddPhoto(ctx, catalog.NewPhoto{LibraryID: lib.ID, Path: path, TakenAt: &taken})
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	if task.Type != queue.TypeProcessRaw {
		t.Fatalf("expected process_raw root task, got %s", task.Type)
	}
	tags, _ := e.cat.PhotoTags(ctx, photo.ID)
	if len(tags) != 1 || tags[0].Type != catalog.TagEvent {
		t.Fatalf("expected one event tag, got %+v", tags)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   map[notifications.Event]notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = make(map[notifications.Event]notifications.Payload)
	}
	r.events = append(r.events, event)
	r.last[event] = payload
	return nil
}

func TestFailuresAreNotified(t *testing.T) {
	notifier := &recordingNotifier{}
	e := newEnv(t, testsupport.NewConfig(t), workflow.WithNotifier(notifier))
	ctx := context.Background()
	lib := testsupport.NewLibrary(t, e.cat, "color")

	photo, _ := testsupport.NewPhoto(t, e.cat, lib.ID)
	if _, err := e.dispatcher.OnSubjectCreated(ctx, photo.ID, lib.ID); err != nil {
		t.Fatalf("OnSubjectCreated: %v", err)
	}
	other, _ := testsupport.NewPhoto(t, e.cat, lib.ID)
	if _, err := e.store.Create(ctx, queue.TypeClassifyImages, other.ID, lib.ID, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.dispatcher.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	stage := notifier.last[notifications.EventStageFailed]
	if stage == nil || stage["stage"] != string(queue.TypeProcessRaw) || stage["photoID"] != photo.ID {
		t.Fatalf("expected stage failure notification, got %+v", notifier.last)
	}
	classifier := notifier.last[notifications.EventClassifierFailed]
	if classifier == nil || classifier["kind"] != "color" || classifier["failed"] != 1 {
		t.Fatalf("expected classifier failure notification, got %+v", notifier.last)
	}
}
