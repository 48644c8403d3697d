package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"photonix/internal/queue"
	"photonix/internal/testsupport"
)

const epsilon = 2 * time.Second

func within(t *testing.T, label string, got, want time.Time) {
	t.Helper()
	diff := got.Sub(want)
	if diff < -epsilon || diff > epsilon {
		t.Fatalf("%s: %v not within %v of %v", label, got, epsilon, want)
	}
}

func TestCreateProducesPendingRootTask(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task, err := store.Create(ctx, queue.TypeProcessRaw, "photo-1", "lib-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected task id to be assigned")
	}
	if task.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.StartedAt != nil || task.FinishedAt != nil {
		t.Fatalf("expected no started/finished timestamps, got %v %v", task.StartedAt, task.FinishedAt)
	}
	within(t, "updated_at", task.UpdatedAt, task.CreatedAt)
	if !task.IsRoot() {
		t.Fatal("expected root task")
	}
	if task.LibraryID != "lib-1" || task.SubjectID != "photo-1" {
		t.Fatalf("unexpected task fields: %+v", task)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Create(ctx, queue.Type("classify.mood"), "photo-1", "lib-1", ""); !errors.Is(err, queue.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := store.Create(ctx, queue.TypeProcessRaw, "  ", "lib-1", ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestCreateIsIdempotentForActiveTasks(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, err := store.Create(ctx, queue.TypeGenerateThumbnails, "photo-1", "lib-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := store.Create(ctx, queue.TypeGenerateThumbnails, "photo-1", "lib-1", "")
	if !errors.Is(err, queue.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected existing task returned, got %+v", second)
	}

	active, err := store.Find(ctx, queue.Filter{Type: queue.TypeGenerateThumbnails, SubjectID: "photo-1"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one task, got %d", len(active))
	}

	// Once the first run is terminal a new run may be created.
	if _, err := store.Start(ctx, first.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := store.Complete(ctx, first.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	third, err := store.Create(ctx, queue.TypeGenerateThumbnails, "photo-1", "lib-1", "")
	if err != nil {
		t.Fatalf("Create after completion: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("expected a fresh task after completion")
	}
}

func TestStartStampsAndRejectsSecondStart(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task, err := store.Create(ctx, queue.TypeProcessRaw, "photo-1", "lib-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := time.Now()
	started, err := store.Start(ctx, task.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != queue.StatusStarted {
		t.Fatalf("expected started, got %s", started.Status)
	}
	if started.StartedAt == nil {
		t.Fatal("expected started_at")
	}
	within(t, "started_at", *started.StartedAt, before)

	if _, err := store.Start(ctx, task.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second start, got %v", err)
	}
}

func TestCompleteAndFailStampFinishedAt(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	ok, _ := store.Create(ctx, queue.ClassifyType("color"), "photo-1", "lib-1", "")
	bad, _ := store.Create(ctx, queue.ClassifyType("style"), "photo-1", "lib-1", "")

	if _, err := store.Complete(ctx, ok.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected completing a pending task to fail, got %v", err)
	}

	for _, id := range []string{ok.ID, bad.ID} {
		if _, err := store.Start(ctx, id); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	completed, err := store.Complete(ctx, ok.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != queue.StatusCompleted || completed.FinishedAt == nil {
		t.Fatalf("unexpected completed task: %+v", completed)
	}
	if completed.FinishedAt.Before(*completed.StartedAt) {
		t.Fatal("finished_at precedes started_at")
	}

	failed, err := store.Fail(ctx, bad.ID, "model unavailable")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != queue.StatusFailed || failed.ErrorMessage != "model unavailable" || failed.FinishedAt == nil {
		t.Fatalf("unexpected failed task: %+v", failed)
	}
	if _, err := store.Fail(ctx, bad.ID, "again"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected failing a failed task to be rejected, got %v", err)
	}
}

func TestTransitionRejectsBackwardEdgesAndMissingTasks(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task, _ := store.Create(ctx, queue.TypeProcessRaw, "photo-1", "lib-1", "")
	if _, err := store.Transition(ctx, task.ID, queue.StatusStarted, queue.StatusPending, queue.Fields{}); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected backward edge rejected, got %v", err)
	}
	if _, err := store.Transition(ctx, task.ID, queue.StatusPending, queue.StatusCompleted, queue.Fields{}); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected skipping Started rejected, got %v", err)
	}
	if _, err := store.Start(ctx, "missing"); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestChildrenAndFanInState(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	parent, _ := store.Create(ctx, queue.TypeClassifyImages, "photo-1", "lib-1", "")
	kinds := []string{"color", "event", "style"}
	for _, kind := range kinds {
		if _, err := store.Create(ctx, queue.ClassifyType(kind), "photo-1", "lib-1", parent.ID); err != nil {
			t.Fatalf("Create child: %v", err)
		}
	}

	children, err := store.Children(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != len(kinds) {
		t.Fatalf("expected %d children, got %d", len(kinds), len(children))
	}
	for i, child := range children {
		if child.Type != queue.ClassifyType(kinds[i]) {
			t.Fatalf("child %d: expected %s, got %s", i, queue.ClassifyType(kinds[i]), child.Type)
		}
		if child.ParentID != parent.ID {
			t.Fatalf("child %d has wrong parent %q", i, child.ParentID)
		}
	}

	state, err := store.FanInState(ctx, parent.ID)
	if err != nil {
		t.Fatalf("FanInState: %v", err)
	}
	if state.Total != 3 || state.Terminal != 0 || state.CompleteWithChildren() {
		t.Fatalf("unexpected initial fan-in: %+v", state)
	}

	for _, child := range children {
		if _, err := store.Start(ctx, child.ID); err != nil {
			t.Fatalf("Start child: %v", err)
		}
	}
	store.Complete(ctx, children[0].ID)
	store.Fail(ctx, children[1].ID, "boom")
	store.Complete(ctx, children[2].ID)

	state, err = store.FanInState(ctx, parent.ID)
	if err != nil {
		t.Fatalf("FanInState: %v", err)
	}
	if !state.CompleteWithChildren() || state.Failed != 1 {
		t.Fatalf("expected all terminal with one failure, got %+v", state)
	}
	if len(state.FailedTypes) != 1 || state.FailedTypes[0] != queue.ClassifyType("event") {
		t.Fatalf("unexpected failed types: %v", state.FailedTypes)
	}

	empty, _ := store.FanInState(ctx, "no-children")
	if empty.CompleteWithChildren() {
		t.Fatal("a task without children is not complete-with-children")
	}
}

func TestCreateChildrenIsAtomicAndSkipsActiveDuplicates(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	parent, _ := store.Create(ctx, queue.TypeClassifyImages, "photo-1", "lib-1", "")
	// An active style task for the same photo blocks a second one.
	if _, err := store.Create(ctx, queue.ClassifyType("style"), "photo-1", "lib-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	types := []queue.Type{queue.ClassifyType("color"), queue.ClassifyType("style"), queue.ClassifyType("object")}
	children, err := store.CreateChildren(ctx, parent.ID, types)
	if err != nil {
		t.Fatalf("CreateChildren: %v", err)
	}
	if len(children) != 2 || children[0].Type != types[0] || children[1].Type != types[2] {
		t.Fatalf("unexpected children %+v", children)
	}
	for _, child := range children {
		if child.SubjectID != "photo-1" || child.LibraryID != "lib-1" || child.Status != queue.StatusPending {
			t.Fatalf("child did not inherit parent fields: %+v", child)
		}
	}

	again, err := store.CreateChildren(ctx, parent.ID, types)
	if err != nil || len(again) != 2 {
		t.Fatalf("second CreateChildren: %d %v", len(again), err)
	}

	if _, err := store.CreateChildren(ctx, parent.ID, []queue.Type{"classify.mood"}); !errors.Is(err, queue.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := store.CreateChildren(ctx, "missing", types); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestClaimPendingIsExclusiveUnderConcurrency(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := store.Create(ctx, queue.ClassifyType("object"), testsupport.SubjectID(i), "lib-1", ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		seen    = make(map[string]int)
		wg      sync.WaitGroup
		claimer = func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimPending(ctx, queue.ClassifyType("object"), 3)
				if err != nil {
					t.Errorf("ClaimPending: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, task := range claimed {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go claimer()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct claims, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("task %s claimed %d times", id, count)
		}
	}
}

func TestReclaimStaleReturnsTasksToPending(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	lone, _ := store.Create(ctx, queue.TypeProcessRaw, "photo-1", "lib-1", "")
	parent, _ := store.Create(ctx, queue.TypeClassifyImages, "photo-2", "lib-1", "")
	store.Start(ctx, lone.ID)
	store.Start(ctx, parent.ID)
	if _, err := store.Create(ctx, queue.ClassifyType("color"), "photo-2", "lib-1", parent.ID); err != nil {
		t.Fatalf("Create child: %v", err)
	}

	if n, err := store.ReclaimStale(ctx, time.Now().Add(-time.Hour)); err != nil || n != 0 {
		t.Fatalf("expected nothing reclaimed with old cutoff, got %d %v", n, err)
	}

	n, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly the childless task reclaimed, got %d", n)
	}
	reclaimed, _ := store.Get(ctx, lone.ID)
	if reclaimed.Status != queue.StatusPending || reclaimed.StartedAt != nil {
		t.Fatalf("unexpected reclaimed task: %+v", reclaimed)
	}
	stillStarted, _ := store.Get(ctx, parent.ID)
	if stillStarted.Status != queue.StatusStarted {
		t.Fatalf("expected parent untouched, got %s", stillStarted.Status)
	}
}

func TestTouchKeepsTaskFresh(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task, _ := store.Create(ctx, queue.TypeGenerateThumbnails, "photo-1", "lib-1", "")
	store.Start(ctx, task.ID)
	cutoff := time.Now().Add(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if err := store.Touch(ctx, task.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if n, err := store.ReclaimStale(ctx, cutoff, queue.TypeGenerateThumbnails); err != nil || n != 0 {
		t.Fatalf("expected touched task to survive reclaim, got %d %v", n, err)
	}
}

func TestRetryFailedAndReset(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task, _ := store.Create(ctx, queue.ClassifyType("face"), "photo-1", "lib-1", "")
	store.Start(ctx, task.ID)
	store.Fail(ctx, task.ID, "no faces model")

	n, err := store.RetryFailed(ctx, task.ID)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed: %d %v", n, err)
	}
	retried, _ := store.Get(ctx, task.ID)
	if retried.Status != queue.StatusPending || retried.ErrorMessage != "" || retried.FinishedAt != nil {
		t.Fatalf("unexpected retried task: %+v", retried)
	}

	store.Start(ctx, task.ID)
	store.Complete(ctx, task.ID)
	reset, err := store.Reset(ctx, task.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Status != queue.StatusPending || reset.StartedAt != nil {
		t.Fatalf("unexpected reset task: %+v", reset)
	}

	// A completed run cannot be reset while another run is active.
	store.Start(ctx, task.ID)
	store.Complete(ctx, task.ID)
	if _, err := store.Create(ctx, queue.ClassifyType("face"), "photo-1", "lib-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Reset(ctx, task.ID); !errors.Is(err, queue.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask on conflicting reset, got %v", err)
	}
}

func TestStatsHealthAndClearCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	parent, _ := store.Create(ctx, queue.TypeClassifyImages, "photo-1", "lib-1", "")
	child, _ := store.Create(ctx, queue.ClassifyType("color"), "photo-1", "lib-1", parent.ID)
	store.Create(ctx, queue.TypeProcessRaw, "photo-2", "lib-1", "")
	store.Start(ctx, parent.ID)
	store.Start(ctx, child.ID)
	store.Complete(ctx, child.ID)
	store.Complete(ctx, parent.ID)

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Completed != 2 || health.Pending != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	byType, err := store.StatsByType(ctx)
	if err != nil {
		t.Fatalf("StatsByType: %v", err)
	}
	if byType[queue.TypeProcessRaw][queue.StatusPending] != 1 {
		t.Fatalf("unexpected stats by type: %v", byType)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearCompleted: %d %v", removed, err)
	}
	if _, err := store.Get(ctx, child.ID); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected child removed with parent, got %v", err)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.TableExists || !dbHealth.IntegrityCheck || dbHealth.TotalTasks != 1 {
		t.Fatalf("unexpected database health: %+v", dbHealth)
	}
}

func TestParseStatusAcceptsCodesAndNames(t *testing.T) {
	cases := map[string]queue.Status{
		"P":         queue.StatusPending,
		"started":   queue.StatusStarted,
		"Completed": queue.StatusCompleted,
		"f":         queue.StatusFailed,
	}
	for input, want := range cases {
		got, err := queue.ParseStatus(input)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := queue.ParseStatus("review"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if queue.StatusStarted.String() != "started" {
		t.Fatalf("unexpected label %q", queue.StatusStarted.String())
	}
}
