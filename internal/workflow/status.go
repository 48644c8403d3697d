package workflow

import (
	"context"

	"photonix/internal/logging"
	"photonix/internal/queue"
	"photonix/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	Classifiers []string
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (d *Dispatcher) Status(ctx context.Context) StatusSummary {
	d.mu.RLock()
	running := d.running
	lastErr := d.lastErr
	d.mu.RUnlock()

	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(d.stages))
	for _, entry := range d.stages {
		health[string(entry.taskType)] = entry.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{Running: running, QueueStats: stats, StageHealth: health}
	for _, kind := range d.registry.Kinds() {
		summary.Classifiers = append(summary.Classifiers, string(kind))
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}
