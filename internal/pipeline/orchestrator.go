package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"photonix/internal/catalog"
	"photonix/internal/classify"
	"photonix/internal/logging"
	"photonix/internal/queue"
	"photonix/internal/services"
)

// TaskStore is the slice of the task store the orchestrator drives.
type TaskStore interface {
	Create(ctx context.Context, taskType queue.Type, subjectID, libraryID, parentID string) (*queue.Task, error)
	Get(ctx context.Context, id string) (*queue.Task, error)
	Start(ctx context.Context, id string) (*queue.Task, error)
	Complete(ctx context.Context, id string) (*queue.Task, error)
	Fail(ctx context.Context, id, reason string) (*queue.Task, error)
	Transition(ctx context.Context, id string, expected, next queue.Status, fields queue.Fields) (*queue.Task, error)
	CreateChildren(ctx context.Context, parentID string, types []queue.Type) ([]*queue.Task, error)
	Children(ctx context.Context, parentID string) ([]*queue.Task, error)
	FanInState(ctx context.Context, parentID string) (queue.FanIn, error)
}

// LibraryFlags reports which classifier kinds a library has switched on.
type LibraryFlags interface {
	LibraryFlags(ctx context.Context, libraryID string) (map[string]bool, error)
}

// Orchestrator advances tasks through the stage graph.
type Orchestrator struct {
	store    TaskStore
	flags    LibraryFlags
	registry *classify.Registry
	logger   *slog.Logger
}

// New constructs an orchestrator. Only kinds present in registry are ever
// fanned out.
func New(store TaskStore, flags LibraryFlags, registry *classify.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		flags:    flags,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}
}

var stageGraph = map[queue.Type]queue.Type{
	queue.TypeProcessRaw:         queue.TypeGenerateThumbnails,
	queue.TypeGenerateThumbnails: queue.TypeClassifyImages,
}

// Stages lists the single-item stages and the fan-out stage in order.
func Stages() []queue.Type {
	return []queue.Type{queue.TypeProcessRaw, queue.TypeGenerateThumbnails, queue.TypeClassifyImages}
}

// Next returns the stage that follows t. Classifier children and the
// fan-out stage have no successor.
func Next(t queue.Type) (queue.Type, bool) {
	next, ok := stageGraph[t]
	return next, ok
}

// Previous returns the stage that precedes t.
func Previous(t queue.Type) (queue.Type, bool) {
	for from, to := range stageGraph {
		if to == t {
			return from, true
		}
	}
	return "", false
}

// OnSubjectCreated starts the pipeline for a newly registered photo. An
// already active process_raw task is returned as is.
func (o *Orchestrator) OnSubjectCreated(ctx context.Context, subjectID, libraryID string) (*queue.Task, error) {
	task, err := o.create(ctx, queue.TypeProcessRaw, subjectID, libraryID, "")
	if err != nil {
		return nil, err
	}
	o.logger.Debug("pipeline started",
		logging.String(logging.FieldPhotoID, subjectID),
		logging.String(logging.FieldTaskID, task.ID),
	)
	return task, nil
}

// OnTaskCompleted creates the successor of a completed stage task. The
// classify_images successor is fanned out immediately.
func (o *Orchestrator) OnTaskCompleted(ctx context.Context, task *queue.Task) (*queue.Task, error) {
	next, ok := Next(task.Type)
	if !ok {
		return nil, nil
	}
	successor, err := o.create(ctx, next, task.SubjectID, task.LibraryID, "")
	if err != nil {
		return nil, err
	}
	if next == queue.TypeClassifyImages && successor.Status == queue.StatusPending {
		if _, err := o.FanOut(ctx, successor); err != nil {
			return successor, err
		}
		return o.store.Get(ctx, successor.ID)
	}
	return successor, nil
}

// create treats ErrDuplicateTask as success and returns the active task.
func (o *Orchestrator) create(ctx context.Context, taskType queue.Type, subjectID, libraryID, parentID string) (*queue.Task, error) {
	task, err := o.store.Create(ctx, taskType, subjectID, libraryID, parentID)
	if err != nil && errors.Is(err, queue.ErrDuplicateTask) && task != nil {
		return task, nil
	}
	return task, err
}

// FanOut starts a Pending classify_images parent and creates its children in
// one transaction. A parent that is already Started (a crash between start
// and child creation) only gets the children it is missing. Library flags
// are read now, so later flag changes do not affect existing children. A
// parent with no eligible kinds is completed immediately; one whose library
// is gone is failed.
func (o *Orchestrator) FanOut(ctx context.Context, parent *queue.Task) ([]*queue.Task, error) {
	if parent.Type != queue.TypeClassifyImages {
		return nil, fmt.Errorf("fan out %s task %s: only %s fans out", parent.Type, parent.ID, queue.TypeClassifyImages)
	}
	current := parent
	resumed := parent.Status == queue.StatusStarted
	if parent.Status == queue.StatusPending {
		started, err := o.store.Start(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		current = started
	}
	if current.Status != queue.StatusStarted {
		return nil, fmt.Errorf("%w: fan out task %s in status %s", queue.ErrInvalidTransition, current.ID, current.Status)
	}

	kinds, err := o.eligibleKinds(ctx, current.LibraryID)
	if err != nil {
		if errors.Is(err, services.ErrSubjectNotFound) {
			if _, failErr := o.store.Fail(ctx, current.ID, err.Error()); failErr != nil {
				return nil, errors.Join(err, failErr)
			}
		}
		return nil, err
	}
	have := map[queue.Type]bool{}
	if resumed {
		existing, err := o.store.Children(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range existing {
			have[child.Type] = true
		}
	}
	types := make([]queue.Type, 0, len(kinds))
	for _, kind := range kinds {
		if !have[kind.TaskType()] {
			types = append(types, kind.TaskType())
		}
	}
	children, err := o.store.CreateChildren(ctx, current.ID, types)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, o.logger)
	if skipped := missingTypes(types, children); len(skipped) > 0 {
		logging.WarnWithContext(logger, "classifiers already active for photo; not fanned out", "fan_out_skipped",
			logging.String(logging.FieldTaskID, current.ID),
			logging.String(logging.FieldPhotoID, current.SubjectID),
			logging.String("skipped", strings.Join(skipped, ", ")),
			logging.String(logging.FieldErrorHint, "the active task belongs to an earlier classify_images run"),
		)
	}
	if resumed && len(children) > 0 {
		if _, err := o.settleParent(ctx, current.ID); err != nil {
			return children, err
		}
	}

	if len(children) == 0 {
		if _, err := o.store.Complete(ctx, current.ID); err != nil && !errors.Is(err, queue.ErrInvalidTransition) {
			return nil, err
		}
		logger.Info("no classifiers enabled; classification complete",
			logging.String(logging.FieldTaskID, current.ID),
			logging.String(logging.FieldPhotoID, current.SubjectID),
		)
		return nil, nil
	}
	logger.Info("classification fanned out",
		logging.String(logging.FieldTaskID, current.ID),
		logging.String(logging.FieldPhotoID, current.SubjectID),
		logging.Int("children", len(children)),
	)
	return children, nil
}

// missingTypes lists the requested types that did not end up as children.
func missingTypes(requested []queue.Type, children []*queue.Task) []string {
	have := make(map[queue.Type]bool, len(children))
	for _, child := range children {
		have[child.Type] = true
	}
	var missing []string
	for _, t := range requested {
		if !have[t] {
			missing = append(missing, string(t))
		}
	}
	return missing
}

// eligibleKinds returns the registered kinds enabled for the library, in
// canonical order.
func (o *Orchestrator) eligibleKinds(ctx context.Context, libraryID string) ([]classify.Kind, error) {
	registered := o.registry.Kinds()
	if len(registered) == 0 {
		return nil, nil
	}
	flags := map[string]bool{}
	if libraryID != "" && o.flags != nil {
		var err error
		flags, err = o.flags.LibraryFlags(ctx, libraryID)
		if errors.Is(err, catalog.ErrLibraryNotFound) {
			return nil, services.Wrap(services.ErrSubjectNotFound, string(queue.TypeClassifyImages), "read library flags", libraryID, err)
		}
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, string(queue.TypeClassifyImages), "read library flags", libraryID, err)
		}
	}
	kinds := make([]classify.Kind, 0, len(registered))
	for _, kind := range registered {
		if flags[string(kind)] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// Settle is the fan-in evaluator. When child has a Started parent whose
// children are all terminal, the parent is completed. Failed children count
// as terminal; their kinds are listed in the parent's error message. Returns
// the parent when this call completed it.
func (o *Orchestrator) Settle(ctx context.Context, child *queue.Task) (*queue.Task, error) {
	if child == nil || child.IsRoot() {
		return nil, nil
	}
	return o.settleParent(ctx, child.ParentID)
}

func (o *Orchestrator) settleParent(ctx context.Context, parentID string) (*queue.Task, error) {
	parent, err := o.store.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != queue.StatusStarted {
		return nil, nil
	}
	state, err := o.store.FanInState(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !state.CompleteWithChildren() {
		return nil, nil
	}

	fields := queue.Fields{ErrorMessage: FailureSummary(state)}
	completed, err := o.store.Transition(ctx, parentID, queue.StatusStarted, queue.StatusCompleted, fields)
	if errors.Is(err, queue.ErrInvalidTransition) {
		// Another worker settled it first.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldTaskID, completed.ID),
		logging.String(logging.FieldPhotoID, completed.SubjectID),
		logging.Int("children", state.Total),
		logging.Int("failed", state.Failed),
	}
	if state.Failed > 0 {
		logging.WarnWithContext(o.logger, "classification finished with failures", "fan_in_partial",
			append(attrs, logging.String(logging.FieldErrorHint, "run `photonix queue retry` to retry failed classifiers"))...)
	} else {
		o.logger.Info("classification finished", logging.Args(attrs...)...)
	}
	if _, err := o.OnTaskCompleted(ctx, completed); err != nil {
		return completed, err
	}
	return completed, nil
}

// SettleParent re-evaluates a parent directly. The dispatcher uses it to
// recover Started parents whose last child finished during a crash.
func (o *Orchestrator) SettleParent(ctx context.Context, parent *queue.Task) (*queue.Task, error) {
	if parent == nil {
		return nil, nil
	}
	return o.settleParent(ctx, parent.ID)
}

// FailureSummary renders the parent error message for failed children, e.g.
// "1 of 6 classifiers failed: face". Empty when nothing failed.
func FailureSummary(state queue.FanIn) string {
	if state.Failed == 0 {
		return ""
	}
	kinds := make([]string, 0, len(state.FailedTypes))
	for _, t := range state.FailedTypes {
		if kind, ok := t.ClassifierKind(); ok {
			kinds = append(kinds, kind)
		} else {
			kinds = append(kinds, string(t))
		}
	}
	return fmt.Sprintf("%d of %d classifiers failed: %s", state.Failed, state.Total, strings.Join(kinds, ", "))
}

// CompleteTask completes a Started task, settles its parent and creates the
// successor stage.
func (o *Orchestrator) CompleteTask(ctx context.Context, task *queue.Task) (*queue.Task, error) {
	completed, err := o.store.Complete(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if !completed.IsRoot() {
		if _, err := o.Settle(ctx, completed); err != nil {
			return completed, err
		}
		return completed, nil
	}
	if _, err := o.OnTaskCompleted(ctx, completed); err != nil {
		return completed, err
	}
	return completed, nil
}

// FailTask fails a Started task with cause as the reason and settles its
// parent. Failed stage tasks get no successor.
func (o *Orchestrator) FailTask(ctx context.Context, task *queue.Task, cause error) (*queue.Task, error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	failed, err := o.store.Fail(ctx, task.ID, reason)
	if err != nil {
		return nil, err
	}
	if _, err := o.Settle(ctx, failed); err != nil {
		return failed, err
	}
	return failed, nil
}
