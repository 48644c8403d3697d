package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"photonix/internal/logging"
	"photonix/internal/queue"
)

// HeartbeatStore is the slice of the task store the monitor uses.
type HeartbeatStore interface {
	ReclaimStale(ctx context.Context, cutoff time.Time, types ...queue.Type) (int64, error)
	Touch(ctx context.Context, id string) error
}

// HeartbeatMonitor keeps Started tasks alive and returns abandoned ones to
// Pending.
type HeartbeatMonitor struct {
	store             HeartbeatStore
	logger            *slog.Logger
	heartbeatInterval time.Duration
	staleTimeout      time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store HeartbeatStore, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logging.NewComponentLogger(logger, "workflow-heartbeat"),
		heartbeatInterval: interval,
		staleTimeout:      timeout,
	}
}

// ReclaimStale resets Started tasks whose heartbeat is older than the stale
// timeout. A non-positive timeout disables reclamation.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	if h.staleTimeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-h.staleTimeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed stale tasks",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "stale_reclaimed"),
		)
	}
	return reclaimed, nil
}

// StartLoop touches the task on every interval until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, taskID string) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Touch(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
