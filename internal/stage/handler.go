package stage

import (
	"context"

	"photonix/internal/queue"
)

// Handler is the contract the dispatcher needs from each single-item stage.
// Prepare checks the subject is processable; Execute does the work. Both run
// with the task already Started.
type Handler interface {
	Prepare(context.Context, *queue.Task) error
	Execute(context.Context, *queue.Task) error
	HealthCheck(context.Context) Health
}
