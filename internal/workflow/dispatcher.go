package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"photonix/internal/batch"
	"photonix/internal/catalog"
	"photonix/internal/classify"
	"photonix/internal/config"
	"photonix/internal/logging"
	"photonix/internal/notifications"
	"photonix/internal/pipeline"
	"photonix/internal/queue"
	"photonix/internal/rawprocess"
	"photonix/internal/stage"
	"photonix/internal/thumbnails"
)

// Dispatcher runs stage handlers and classifier processors against the
// task store.
type Dispatcher struct {
	cfg          *config.Config
	store        *queue.Store
	catalog      *catalog.Store
	registry     *classify.Registry
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service

	heartbeat  *HeartbeatMonitor
	stages     []stageEntry
	processors map[classify.Kind]*batch.Processor

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

type stageEntry struct {
	taskType queue.Type
	handler  stage.Handler
}

// Option configures optional Dispatcher behavior.
type Option func(*options)

type options struct {
	handlers map[queue.Type]stage.Handler
	notifier notifications.Service
}

// WithStageHandler replaces the handler of a single-item stage.
func WithStageHandler(taskType queue.Type, handler stage.Handler) Option {
	return func(o *options) {
		if o.handlers == nil {
			o.handlers = make(map[queue.Type]stage.Handler)
		}
		o.handlers[taskType] = handler
	}
}

// WithNotifier replaces the notifier built from the configuration.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// NewDispatcher wires the stage handlers, the orchestrator and one batch
// processor per registered classifier.
func NewDispatcher(cfg *config.Config, store *queue.Store, cat *catalog.Store, registry *classify.Registry, logger *slog.Logger, opts ...Option) *Dispatcher {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg)
	}

	generator := thumbnails.NewGenerator(cfg, cat, logger)
	handlers := map[queue.Type]stage.Handler{
		queue.TypeProcessRaw:         rawprocess.NewHandler(cfg, cat, logger),
		queue.TypeGenerateThumbnails: generator,
	}
	for taskType, handler := range o.handlers {
		handlers[taskType] = handler
	}

	d := &Dispatcher{
		cfg:          cfg,
		store:        store,
		catalog:      cat,
		registry:     registry,
		orchestrator: pipeline.New(store, cat, registry, logger),
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: time.Duration(cfg.Workflow.PollInterval) * time.Second,
		notifier:     o.notifier,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.StaleTimeout)*time.Second,
		),
		processors: make(map[classify.Kind]*batch.Processor),
	}
	for _, taskType := range pipeline.Stages() {
		if handler, ok := handlers[taskType]; ok {
			d.stages = append(d.stages, stageEntry{taskType: taskType, handler: handler})
		}
	}

	deps := batch.Deps{
		Tasks:        store,
		Pipeline:     d.orchestrator,
		Logger:       logger,
		PollInterval: time.Duration(cfg.Classification.PollInterval) * time.Second,
		OnCycle:      d.observeCycle,

		Heartbeat:         store,
		HeartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
	}
	for _, kind := range registry.Kinds() {
		classifier, _ := registry.Lookup(kind)
		settings := cfg.ClassifierFor(string(kind))
		runner := classify.NewPhotoRunner(cat, classifier, generator.ImagePath)
		d.processors[kind] = batch.New(classifier.Model, kind.TaskType(), runner, settings.ThreadCount, settings.BatchSize, deps)
	}
	return d
}

// Notify publishes an event, logging delivery failures.
func (d *Dispatcher) Notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func (d *Dispatcher) observeCycle(ctx context.Context, taskType queue.Type, report batch.Report) {
	if report.Failed == 0 {
		return
	}
	kind, _ := taskType.ClassifierKind()
	d.Notify(ctx, notifications.EventClassifierFailed, notifications.Payload{
		"kind":      kind,
		"failed":    report.Failed,
		"completed": report.Completed,
	})
}

// Orchestrator exposes the pipeline the dispatcher drives.
func (d *Dispatcher) Orchestrator() *pipeline.Orchestrator {
	return d.orchestrator
}

// OnSubjectCreated starts the pipeline for a registered photo. In eager mode
// it then sweeps until no further progress is made.
func (d *Dispatcher) OnSubjectCreated(ctx context.Context, subjectID, libraryID string) (*queue.Task, error) {
	task, err := d.orchestrator.OnSubjectCreated(ctx, subjectID, libraryID)
	if err != nil {
		return nil, err
	}
	if !d.cfg.Workflow.Eager {
		return task, nil
	}
	if _, err := d.SweepUntilIdle(ctx); err != nil {
		return task, err
	}
	return task, nil
}

// AddPhoto registers a photo in the catalog and starts its pipeline.
func (d *Dispatcher) AddPhoto(ctx context.Context, photo catalog.NewPhoto) (*catalog.Photo, *queue.Task, error) {
	created, _, err := d.catalog.AddPhoto(ctx, photo)
	if err != nil {
		return nil, nil, err
	}
	task, err := d.OnSubjectCreated(ctx, created.ID, created.LibraryID)
	if err != nil {
		return created, task, err
	}
	return created, task, nil
}

// RunBatch drains the queue of one classifier kind. With loop set it keeps
// polling until ctx is cancelled.
func (d *Dispatcher) RunBatch(ctx context.Context, kind string, loop bool) error {
	parsed, err := classify.ParseKind(kind)
	if err != nil {
		return err
	}
	processor, ok := d.processors[parsed]
	if !ok {
		return fmt.Errorf("classifier %s is not registered; enable it or configure an endpoint", parsed)
	}
	return processor.Run(ctx, loop)
}
