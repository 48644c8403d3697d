package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"photonix/internal/logging"
	"photonix/internal/notifications"
	"photonix/internal/pipeline"
	"photonix/internal/queue"
	"photonix/internal/services"
)

// maxIdleSweeps bounds SweepUntilIdle so a task that keeps reappearing can
// not spin forever.
const maxIdleSweeps = 50

// SweepReport counts what one sweep did.
type SweepReport struct {
	Reclaimed      int64
	StagesRun      int
	StagesFailed   int
	FannedOut      int
	Settled        int
	Classified     int
	ClassifyFailed int
}

// Progress reports whether the sweep moved any task forward.
func (r SweepReport) Progress() bool {
	return r.StagesRun+r.StagesFailed+r.FannedOut+r.Settled+r.Classified+r.ClassifyFailed > 0
}

func (r *SweepReport) add(other SweepReport) {
	r.Reclaimed += other.Reclaimed
	r.StagesRun += other.StagesRun
	r.StagesFailed += other.StagesFailed
	r.FannedOut += other.FannedOut
	r.Settled += other.Settled
	r.Classified += other.Classified
	r.ClassifyFailed += other.ClassifyFailed
}

// Sweep advances every runnable task once: stale reclaim, single-item
// stages, fan-out recovery, parent re-settling and one batch per classifier.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepReport, error) {
	return d.sweep(ctx, true)
}

// SweepUntilIdle repeats Sweep until a pass makes no progress.
func (d *Dispatcher) SweepUntilIdle(ctx context.Context) (SweepReport, error) {
	var total SweepReport
	for i := 0; i < maxIdleSweeps; i++ {
		report, err := d.Sweep(ctx)
		total.add(report)
		if err != nil {
			return total, err
		}
		if !report.Progress() {
			return total, nil
		}
	}
	d.logger.Warn("sweep did not settle",
		logging.Int("passes", maxIdleSweeps),
		logging.String(logging.FieldEventType, "sweep_not_idle"),
		logging.String(logging.FieldErrorHint, "inspect `photonix queue list --status started`"),
	)
	return total, nil
}

func (d *Dispatcher) sweep(ctx context.Context, drain bool) (SweepReport, error) {
	var report SweepReport
	reclaimed, err := d.heartbeat.ReclaimStale(ctx)
	if err != nil {
		d.setLastError(err)
		logging.WarnWithContext(d.logger, "reclaim stale tasks failed; stuck tasks may remain", "heartbeat_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	report.Reclaimed = reclaimed

	for _, entry := range d.stages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ran, failed, err := d.runStage(ctx, entry)
		report.StagesRun += ran
		report.StagesFailed += failed
		if err != nil {
			return report, err
		}
	}

	fanned, settled, err := d.recoverParents(ctx)
	report.FannedOut += fanned
	report.Settled += settled
	if err != nil {
		return report, err
	}

	if drain {
		for _, kind := range d.registry.Kinds() {
			batchReport, err := d.processors[kind].RunOnce(ctx)
			report.Classified += batchReport.Completed
			report.ClassifyFailed += batchReport.Failed
			if err != nil {
				d.setLastError(err)
				return report, err
			}
		}
	}
	return report, nil
}

// runStage claims and runs the Pending tasks of one single-item stage. Tasks
// whose predecessor stage is still active for the subject wait.
func (d *Dispatcher) runStage(ctx context.Context, entry stageEntry) (int, int, error) {
	pending, err := d.store.Find(ctx, queue.Filter{Type: entry.taskType, Status: queue.StatusPending})
	if err != nil {
		d.setLastError(err)
		return 0, 0, fmt.Errorf("list pending %s tasks: %w", entry.taskType, err)
	}
	ran, failed := 0, 0
	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			return ran, failed, err
		}
		if blocked, err := d.predecessorActive(ctx, task); err != nil || blocked {
			if err != nil {
				d.logger.Warn("predecessor lookup failed", logging.String(logging.FieldTaskID, task.ID), logging.Error(err))
			}
			continue
		}
		started, err := d.store.Start(ctx, task.ID)
		if err != nil {
			if errors.Is(err, queue.ErrInvalidTransition) || errors.Is(err, queue.ErrTaskNotFound) {
				continue
			}
			d.setLastError(err)
			return ran, failed, err
		}
		ok, err := d.executeStage(ctx, entry, started)
		if err != nil {
			return ran, failed, err
		}
		if ok {
			ran++
		} else {
			failed++
		}
	}
	return ran, failed, nil
}

func (d *Dispatcher) predecessorActive(ctx context.Context, task *queue.Task) (bool, error) {
	previous, ok := pipeline.Previous(task.Type)
	if !ok {
		return false, nil
	}
	active, err := d.store.ActiveForSubject(ctx, previous, task.SubjectID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// executeStage runs one Started task through its handler and commits the
// outcome. A shutdown leaves the task Started for the next reclaim.
func (d *Dispatcher) executeStage(ctx context.Context, entry stageEntry, task *queue.Task) (bool, error) {
	stageCtx := services.WithRequestID(services.WithStage(services.WithTaskID(ctx, task.ID), string(entry.taskType)), uuid.NewString())
	logger := logging.WithContext(stageCtx, d.logger).With(logging.String(logging.FieldPhotoID, task.SubjectID))
	start := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	err := entry.handler.Prepare(stageCtx, task)
	if err == nil {
		err = d.executeWithHeartbeat(stageCtx, entry, task)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("stage interrupted by shutdown")
			return false, err
		}
		return false, d.handleStageFailure(stageCtx, logger, task, err)
	}

	if _, err := d.orchestrator.CompleteTask(stageCtx, task); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		logger.Error("failed to persist stage result", logging.Error(wrapped))
		d.setLastError(wrapped)
		return false, nil
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return true, nil
}

func (d *Dispatcher) executeWithHeartbeat(ctx context.Context, entry stageEntry, task *queue.Task) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go d.heartbeat.StartLoop(hbCtx, &hbWG, task.ID)

	execErr := entry.handler.Execute(ctx, task)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (d *Dispatcher) handleStageFailure(ctx context.Context, logger *slog.Logger, task *queue.Task, cause error) error {
	d.setLastError(cause)
	if _, err := d.orchestrator.FailTask(ctx, task, cause); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
		return nil
	}
	logging.WarnWithContext(logger, "stage failed", "stage_failed",
		logging.Error(cause),
		logging.Bool("retryable", services.Retryable(cause)),
		logging.String(logging.FieldErrorHint, "run `photonix queue retry` once the cause is fixed"),
	)
	d.Notify(ctx, notifications.EventStageFailed, notifications.Payload{
		"stage":   string(task.Type),
		"photoID": task.SubjectID,
		"error":   cause,
	})
	return nil
}

// recoverParents fans out Pending classify_images parents and re-settles
// Started ones. A Started parent without children lost them to a crash
// before creation and is fanned out again.
func (d *Dispatcher) recoverParents(ctx context.Context) (int, int, error) {
	fanned, settled := 0, 0
	pending, err := d.store.Find(ctx, queue.Filter{Type: queue.TypeClassifyImages, Status: queue.StatusPending})
	if err != nil {
		return 0, 0, fmt.Errorf("list pending parents: %w", err)
	}
	for _, parent := range pending {
		if err := ctx.Err(); err != nil {
			return fanned, settled, err
		}
		if _, err := d.orchestrator.FanOut(ctx, parent); err != nil {
			if errors.Is(err, queue.ErrInvalidTransition) {
				continue
			}
			d.setLastError(err)
			d.logger.Warn("fan-out failed", logging.String(logging.FieldTaskID, parent.ID), logging.Error(err))
			continue
		}
		fanned++
	}

	started, err := d.store.Find(ctx, queue.Filter{Type: queue.TypeClassifyImages, Status: queue.StatusStarted})
	if err != nil {
		return fanned, settled, fmt.Errorf("list started parents: %w", err)
	}
	for _, parent := range started {
		if err := ctx.Err(); err != nil {
			return fanned, settled, err
		}
		state, err := d.store.FanInState(ctx, parent.ID)
		if err != nil {
			return fanned, settled, err
		}
		if state.Total == 0 {
			if _, err := d.orchestrator.FanOut(ctx, parent); err != nil {
				d.setLastError(err)
				d.logger.Warn("fan-out recovery failed", logging.String(logging.FieldTaskID, parent.ID), logging.Error(err))
				continue
			}
			fanned++
			continue
		}
		if !state.CompleteWithChildren() {
			continue
		}
		if _, err := d.orchestrator.SettleParent(ctx, parent); err != nil {
			d.setLastError(err)
			continue
		}
		settled++
	}
	return fanned, settled, nil
}
