package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"photonix/internal/classify"
	"photonix/internal/logging"
	"photonix/internal/queue"
	"photonix/internal/services"
)

// Runner loads the model input for a task and records its result.
type Runner interface {
	Input(ctx context.Context, task *queue.Task) (classify.Input, error)
	Record(ctx context.Context, task *queue.Task, result classify.Result) (int, error)
}

// Claimer hands out Pending tasks of a type.
type Claimer interface {
	ClaimPending(ctx context.Context, taskType queue.Type, limit int) ([]*queue.Task, error)
}

// Settler commits task outcomes and runs fan-in.
type Settler interface {
	CompleteTask(ctx context.Context, task *queue.Task) (*queue.Task, error)
	FailTask(ctx context.Context, task *queue.Task, cause error) (*queue.Task, error)
}

// Toucher refreshes the heartbeat of a Started task.
type Toucher interface {
	Touch(ctx context.Context, id string) error
}

// Deps bundles the collaborators of a Processor.
type Deps struct {
	Tasks        Claimer
	Pipeline     Settler
	Logger       *slog.Logger
	PollInterval time.Duration
	// Heartbeat, when set with a positive HeartbeatInterval, keeps every
	// claimed task fresh until it is committed so stale reclaim leaves it alone.
	Heartbeat         Toucher
	HeartbeatInterval time.Duration
	// OnCycle, when set, observes every cycle that claimed at least one task.
	OnCycle func(ctx context.Context, taskType queue.Type, report Report)
}

// Report summarizes one cycle.
type Report struct {
	Claimed   int
	Completed int
	Failed    int
}

// Processor drains the Pending tasks of one classifier type.
type Processor struct {
	model     classify.Model
	taskType  queue.Type
	runner    Runner
	threads   int
	batchSize int
	deps      Deps
	logger    *slog.Logger
}

// New constructs a processor. threads and batchSize below one are treated
// as one.
func New(model classify.Model, taskType queue.Type, runner Runner, threads, batchSize int, deps Deps) *Processor {
	if threads < 1 {
		threads = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = time.Second
	}
	logger := logging.NewComponentLogger(deps.Logger, "batch").With(logging.String(logging.FieldTaskType, string(taskType)))
	return &Processor{
		model:     model,
		taskType:  taskType,
		runner:    runner,
		threads:   threads,
		batchSize: batchSize,
		deps:      deps,
		logger:    logger,
	}
}

// TaskType returns the task type the processor drains.
func (p *Processor) TaskType() queue.Type {
	return p.taskType
}

// Run processes one cycle when loop is false. With loop set it keeps cycling
// until ctx is cancelled: a full batch continues immediately, a short one
// waits for the poll interval.
func (p *Processor) Run(ctx context.Context, loop bool) error {
	for {
		report, err := p.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if !loop {
				return err
			}
			logging.WarnWithContext(p.logger, "batch cycle failed", "batch_cycle_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		if !loop {
			return nil
		}
		if report.Claimed >= p.batchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.deps.PollInterval):
		}
	}
}

// RunOnce claims up to batchSize tasks and processes them. When claiming
// fails part way, the tasks already claimed are still processed and the claim
// error is returned with the report.
func (p *Processor) RunOnce(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	tasks, claimErr := p.deps.Tasks.ClaimPending(ctx, p.taskType, p.batchSize)
	if claimErr != nil {
		claimErr = fmt.Errorf("claim %s tasks: %w", p.taskType, claimErr)
	}
	if len(tasks) == 0 {
		return Report{}, claimErr
	}

	start := time.Now()
	uncommitted := newInflight(tasks)
	stopHeartbeat := p.startHeartbeat(ctx, uncommitted)
	var completed, failed atomic.Int64
	record := func(task *queue.Task, ok bool) {
		uncommitted.done(task.ID)
		if ok {
			completed.Add(1)
		} else {
			failed.Add(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.threads)
	if batchModel, ok := p.model.(classify.BatchModel); ok {
		for _, chunk := range split(tasks, p.threads) {
			g.Go(func() error {
				p.processChunk(gctx, batchModel, chunk, record)
				return nil
			})
		}
	} else {
		for _, task := range tasks {
			g.Go(func() error {
				record(task, p.processOne(gctx, task))
				return nil
			})
		}
	}
	_ = g.Wait()
	stopHeartbeat()

	report := Report{Claimed: len(tasks), Completed: int(completed.Load()), Failed: int(failed.Load())}
	p.logger.Info("batch processed",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("claimed", report.Claimed),
		logging.Int("completed", report.Completed),
		logging.Int("failed", report.Failed),
		logging.Duration("duration", time.Since(start)),
	)
	if p.deps.OnCycle != nil {
		p.deps.OnCycle(ctx, p.taskType, report)
	}
	return report, claimErr
}

// inflight tracks the claimed tasks that have not been committed yet.
type inflight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflight(tasks []*queue.Task) *inflight {
	ids := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		ids[task.ID] = struct{}{}
	}
	return &inflight{ids: ids}
}

func (f *inflight) done(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

func (f *inflight) pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.ids))
	for id := range f.ids {
		ids = append(ids, id)
	}
	return ids
}

// startHeartbeat touches the uncommitted tasks of the cycle on every
// heartbeat interval. The returned func stops it and waits for the last touch.
func (p *Processor) startHeartbeat(ctx context.Context, tasks *inflight) func() {
	if p.deps.Heartbeat == nil || p.deps.HeartbeatInterval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.deps.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				for _, id := range tasks.pending() {
					if err := p.deps.Heartbeat.Touch(hbCtx, id); err != nil && hbCtx.Err() == nil {
						p.logger.Warn("heartbeat update failed", logging.String(logging.FieldTaskID, id), logging.Error(err))
					}
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// processOne runs a single task end to end and reports success.
func (p *Processor) processOne(ctx context.Context, task *queue.Task) bool {
	ctx = p.taskContext(ctx, task)
	input, err := p.runner.Input(ctx, task)
	if err != nil {
		return p.finish(ctx, task, nil, err)
	}
	result, err := p.predict(ctx, task, input)
	if err != nil {
		return p.finish(ctx, task, nil, err)
	}
	return p.finish(ctx, task, &result, nil)
}

// processChunk loads every input of the chunk, predicts them in one call and
// commits each outcome. Tasks whose input failed are failed individually.
func (p *Processor) processChunk(ctx context.Context, model classify.BatchModel, chunk []*queue.Task, record func(*queue.Task, bool)) {
	ready := make([]*queue.Task, 0, len(chunk))
	inputs := make([]classify.Input, 0, len(chunk))
	for _, task := range chunk {
		input, err := p.runner.Input(p.taskContext(ctx, task), task)
		if err != nil {
			record(task, p.finish(p.taskContext(ctx, task), task, nil, err))
			continue
		}
		ready = append(ready, task)
		inputs = append(inputs, input)
	}
	if len(ready) == 0 {
		return
	}

	results, err := p.predictBatch(ctx, model, inputs)
	for i, task := range ready {
		taskCtx := p.taskContext(ctx, task)
		if err != nil {
			record(task, p.finish(taskCtx, task, nil, err))
			continue
		}
		record(task, p.finish(taskCtx, task, &results[i], nil))
	}
}

func (p *Processor) predict(ctx context.Context, task *queue.Task, input classify.Input) (result classify.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = p.panicError(r)
		}
	}()
	result, err = p.model.Predict(ctx, input)
	if err != nil {
		return classify.Result{}, services.Wrap(services.ErrClassifierExecution, string(task.Type), "predict", input.PhotoID, err)
	}
	return result, nil
}

func (p *Processor) predictBatch(ctx context.Context, model classify.BatchModel, inputs []classify.Input) (results []classify.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = p.panicError(r)
		}
	}()
	results, err = model.PredictBatch(ctx, inputs)
	if err != nil {
		return nil, services.Wrap(services.ErrClassifierExecution, string(p.taskType), "predict batch", "", err)
	}
	if len(results) != len(inputs) {
		return nil, services.Wrap(services.ErrClassifierExecution, string(p.taskType), "predict batch",
			fmt.Sprintf("expected %d results, got %d", len(inputs), len(results)), nil)
	}
	return results, nil
}

func (p *Processor) panicError(r any) error {
	p.logger.Error("classifier panicked",
		logging.String(logging.FieldEventType, "classifier_panic"),
		logging.Any("panic", r),
		logging.String("stack", string(debug.Stack())),
	)
	return services.Wrap(services.ErrClassifierExecution, string(p.taskType), "predict", fmt.Sprintf("panic: %v", r), nil)
}

// finish records the result (when there is one) and commits the task. It
// reports whether the task completed.
func (p *Processor) finish(ctx context.Context, task *queue.Task, result *classify.Result, cause error) bool {
	logger := logging.WithContext(ctx, p.logger)
	if cause == nil && result != nil {
		if _, err := p.runner.Record(ctx, task, *result); err != nil {
			cause = err
		}
	}
	if cause == nil {
		if _, err := p.deps.Pipeline.CompleteTask(ctx, task); err != nil {
			logger.Error("failed to complete task", logging.Error(err))
			return false
		}
		return true
	}

	if _, err := p.deps.Pipeline.FailTask(ctx, task, cause); err != nil {
		logger.Error("failed to persist task failure", logging.Error(err))
		return false
	}
	logging.WarnWithContext(logger, "classification failed", "classifier_failed",
		logging.Error(cause),
		logging.Bool("retryable", services.Retryable(cause)),
		logging.String(logging.FieldErrorHint, "run `photonix queue retry` once the cause is fixed"),
	)
	return false
}

func (p *Processor) taskContext(ctx context.Context, task *queue.Task) context.Context {
	ctx = services.WithTaskID(ctx, task.ID)
	if kind, ok := task.Type.ClassifierKind(); ok {
		ctx = services.WithClassifier(ctx, kind)
	}
	return services.WithStage(ctx, string(task.Type))
}

// split divides tasks into at most n contiguous chunks of near-equal size.
func split(tasks []*queue.Task, n int) [][]*queue.Task {
	if n > len(tasks) {
		n = len(tasks)
	}
	chunks := make([][]*queue.Task, 0, n)
	size, extra := len(tasks)/n, len(tasks)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		chunks = append(chunks, tasks[start:end])
		start = end
	}
	return chunks
}
