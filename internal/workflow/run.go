package workflow

import (
	"context"
	"errors"
	"time"

	"photonix/internal/batch"
	"photonix/internal/logging"
	"photonix/internal/notifications"
)

// Start begins polling mode: one goroutine sweeps the single-item stages and
// recovers parents, and every classifier processor loops on its own.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(1 + len(d.processors))
	d.mu.Unlock()

	go d.pollStages(runCtx)
	for _, kind := range d.registry.Kinds() {
		go d.runProcessor(runCtx, d.processors[kind])
	}
	d.logger.Info("workflow started",
		logging.Int("classifiers", len(d.processors)),
		logging.Duration("poll_interval", d.pollInterval),
	)
	d.Notify(ctx, notifications.EventWorkflowStarted, notifications.Payload{"classifiers": len(d.processors)})
	return nil
}

// Stop terminates polling and waits for in-flight work to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("workflow stopped")
	d.Notify(context.Background(), notifications.EventWorkflowStopped, nil)
}

func (d *Dispatcher) pollStages(ctx context.Context) {
	defer d.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		report, err := d.sweep(ctx, false)
		wait := d.pollInterval
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.setLastError(err)
			d.logger.Error("stage sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			wait = time.Duration(d.cfg.Workflow.ErrorRetryInterval) * time.Second
		} else if report.Progress() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (d *Dispatcher) runProcessor(ctx context.Context, processor *batch.Processor) {
	defer d.wg.Done()
	if err := processor.Run(ctx, true); err != nil {
		d.setLastError(err)
		d.logger.Error("classifier loop stopped",
			logging.String(logging.FieldTaskType, string(processor.TaskType())),
			logging.Error(err),
		)
	}
}
