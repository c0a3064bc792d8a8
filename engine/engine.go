package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rezenkai/crmflow/condition"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/persistence"
	"github.com/rezenkai/crmflow/registry"
	"github.com/rezenkai/crmflow/step"
	"github.com/rezenkai/crmflow/store"
	"github.com/rezenkai/crmflow/trigger"
	"github.com/rezenkai/crmflow/util"
	"go.uber.org/zap"
)

var ErrEngineStopped = errors.New("workflow engine is stopped")

type Options struct {
	Activator          *trigger.Activator
	Dispatcher         *step.Dispatcher
	Evaluator          *condition.Evaluator
	Store              *store.ExecutionStore
	Repository         persistence.WorkflowRepository
	Schedule           *trigger.ScheduleSource
	Observers          []Observer
	DefaultStepTimeout time.Duration
	SweepInterval      time.Duration
	MaxConcurrent      int
}

// Engine is the public face of the workflow runtime. It owns the registry,
// the execution store and the trigger bindings, and runs every execution
// on its own goroutine.
type Engine struct {
	registry   *registry.Registry
	activator  *trigger.Activator
	dispatcher *step.Dispatcher
	evaluator  *condition.Evaluator
	store      *store.ExecutionStore
	repository persistence.WorkflowRepository
	schedule   *trigger.ScheduleSource
	observers  observers

	sweepInterval time.Duration
	janitor       *util.TickWorker
	slots         chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	runners sync.WaitGroup
	workers sync.WaitGroup
	life    sync.RWMutex
	// execution id -> *tracked, for executions whose runner has not returned
	inflight sync.Map
	stopped  atomic.Bool
}

func New(opts Options) *Engine {
	if opts.Evaluator == nil {
		opts.Evaluator = condition.NewEvaluator()
	}
	if opts.Activator == nil {
		opts.Activator = trigger.NewActivator(opts.Evaluator)
	}
	if opts.Dispatcher == nil {
		reg := step.NewRegistry()
		step.RegisterBuiltins(reg, opts.Evaluator)
		opts.Dispatcher = step.NewDispatcher(reg, opts.DefaultStepTimeout)
	}
	if opts.Store == nil {
		opts.Store = store.NewExecutionStore(store.DEFAULT_RETENTION)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		activator:     opts.Activator,
		dispatcher:    opts.Dispatcher,
		evaluator:     opts.Evaluator,
		store:         opts.Store,
		repository:    opts.Repository,
		schedule:      opts.Schedule,
		sweepInterval: opts.SweepInterval,
		baseCtx:       ctx,
		cancel:        cancel,
	}
	if opts.MaxConcurrent > 0 {
		e.slots = make(chan struct{}, opts.MaxConcurrent)
	}
	for _, o := range opts.Observers {
		e.observers.add(o)
	}
	e.registry = registry.New(opts.Activator, e.ExecuteWorkflow)
	return e
}

func (e *Engine) AddObserver(o Observer) {
	e.observers.add(o)
}

// Start loads the stored definitions and starts the retention sweep and
// the cron. Definitions that fail to load are logged and skipped.
func (e *Engine) Start(ctx context.Context) error {
	if e.repository != nil {
		defs, err := e.repository.List(ctx)
		if err != nil {
			return fmt.Errorf("loading workflow definitions: %w", err)
		}
		for _, def := range defs {
			if err := e.registry.Register(def); err != nil {
				logger.Error("skipping stored workflow", zap.String("workflow", def.Id), zap.Error(err))
			}
		}
		logger.Info("loaded workflow definitions", zap.Int("count", len(defs)))
	}
	e.janitor = e.store.NewJanitor(e.sweepInterval, &e.workers)
	e.janitor.Start()
	if e.schedule != nil {
		e.schedule.Start()
	}
	return nil
}

// Stop refuses new executions and waits for running ones until ctx is
// done, at which point in-flight steps get their context cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	e.life.Lock()
	if !e.stopped.CompareAndSwap(false, true) {
		e.life.Unlock()
		return nil
	}
	e.life.Unlock()
	if e.janitor != nil {
		e.janitor.Stop()
	}
	if e.schedule != nil {
		if err := e.schedule.Stop(ctx); err != nil {
			logger.Warn("cron did not stop in time", zap.Error(err))
		}
	}
	done := make(chan struct{})
	go func() {
		e.runners.Wait()
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

func (e *Engine) RegisterWorkflow(ctx context.Context, def *model.WorkflowDefinition) error {
	if def == nil {
		return model.ValidationError{Field: "workflow", Message: "workflow definition can not be nil"}
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if e.repository != nil {
		if err := e.repository.Save(ctx, def); err != nil {
			return fmt.Errorf("saving workflow %s: %w", def.Id, err)
		}
	}
	return e.registry.Register(def)
}

func (e *Engine) UnregisterWorkflow(ctx context.Context, id string) error {
	if err := e.registry.Unregister(id); err != nil {
		return err
	}
	if e.repository != nil {
		if err := e.repository.Delete(ctx, id); err != nil {
			return fmt.Errorf("deleting workflow %s: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) GetWorkflow(id string) (*model.WorkflowDefinition, bool) {
	wf, ok := e.registry.Get(id)
	if !ok {
		return nil, false
	}
	return wf.Clone(), true
}

func (e *Engine) ListWorkflows() []*model.WorkflowDefinition {
	list := e.registry.List()
	out := make([]*model.WorkflowDefinition, 0, len(list))
	for _, wf := range list {
		out = append(out, wf.Clone())
	}
	return out
}

func (e *Engine) ActiveTriggers(workflowID string) []string {
	return e.registry.ActiveTriggers(workflowID)
}

// ExecuteWorkflow records a PENDING execution and returns its id without
// waiting for the run, which happens on its own goroutine.
func (e *Engine) ExecuteWorkflow(workflowID, triggerID string, input map[string]any, partial *model.ExecutionContext) (string, error) {
	e.life.RLock()
	defer e.life.RUnlock()
	if e.stopped.Load() {
		return "", ErrEngineStopped
	}
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return "", model.WorkflowNotFoundError{WorkflowID: workflowID}
	}
	if !wf.IsActive {
		return "", model.WorkflowNotActiveError{WorkflowID: workflowID}
	}
	now := time.Now()
	execCtx := newContext(wf, input, partial)
	ex := &model.Execution{
		Id:              uuid.NewString(),
		WorkflowId:      wf.Id,
		WorkflowVersion: wf.Version,
		TenantId:        execCtx.TenantId,
		Status:          model.EXECUTION_PENDING,
		StartTime:       now,
		TriggerId:       triggerID,
		TriggerData:     model.CloneMap(input),
		Context:         execCtx,
		CompletedSteps:  []string{},
		FailedSteps:     []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	e.inflight.Store(ex.Id, &tracked{wf: wf})
	if err := e.store.Create(ex); err != nil {
		e.inflight.Delete(ex.Id)
		return "", err
	}
	e.runners.Add(1)
	go e.run(ex.Id, wf)
	return ex.Id, nil
}

func newContext(wf *model.WorkflowDefinition, input map[string]any, partial *model.ExecutionContext) *model.ExecutionContext {
	ctx := partial.Clone()
	if ctx == nil {
		ctx = &model.ExecutionContext{}
	}
	if len(ctx.TenantId) == 0 {
		ctx.TenantId = wf.TenantId
	}
	ctx.InputData = model.CloneMap(input)
	if ctx.InputData == nil {
		ctx.InputData = map[string]any{}
	}
	vars := model.CloneMap(wf.Variables)
	if vars == nil {
		vars = map[string]any{}
	}
	for k, v := range ctx.Variables {
		vars[k] = v
	}
	ctx.Variables = vars
	ctx.StepResults = map[string]any{}
	if ctx.ExternalData == nil {
		ctx.ExternalData = map[string]any{}
	}
	return ctx
}

// CancelExecution marks a PENDING or RUNNING execution CANCELLED. The
// runner notices before its next step; a step already dispatched runs to
// completion and its outcome is discarded.
func (e *Engine) CancelExecution(id string) error {
	var wasRunning, metrics bool
	if t, ok := e.inflight.Load(id); ok {
		metrics = t.(*tracked).wf.Settings.EnableMetrics
	}
	ex, err := e.apply(id, func(ex *model.Execution) error {
		if ex.Status.IsTerminal() {
			return model.ExecutionNotCancellableError{ExecutionID: id, Status: ex.Status}
		}
		wasRunning = ex.Status == model.EXECUTION_RUNNING
		return ex.Transition(model.EXECUTION_CANCELLED, time.Now())
	}, func(ex *model.Execution) Event {
		return Event{
			Type:           EVENT_WORKFLOW_CANCELLED,
			ExecutionID:    id,
			WorkflowID:     ex.WorkflowId,
			TenantID:       ex.TenantId,
			Status:         ex.Status,
			Duration:       *ex.Duration,
			MetricsEnabled: metrics,
		}
	})
	if err != nil {
		return err
	}
	logger.Info("execution cancelled", zap.String("execution", id), zap.String("workflow", ex.WorkflowId), zap.Bool("wasRunning", wasRunning))
	return nil
}

// tracked holds the definition an execution is pinned to and the lock
// that keeps its stored transitions and emitted events in the same order.
type tracked struct {
	mu sync.Mutex
	wf *model.WorkflowDefinition
}

// apply runs fn as a store update and, when it succeeds, emits the event
// built from the result before any other transition of the execution can
// be stored. A nil event only stores.
func (e *Engine) apply(id string, fn func(*model.Execution) error, event func(*model.Execution) Event) (*model.Execution, error) {
	if t, ok := e.inflight.Load(id); ok {
		mu := &t.(*tracked).mu
		mu.Lock()
		defer mu.Unlock()
	}
	ex, err := e.store.Update(id, fn)
	if err != nil {
		return nil, err
	}
	if event != nil {
		e.observers.emit(event(ex))
	}
	return ex, nil
}

func (e *Engine) GetExecution(id string) (*model.Execution, bool) {
	return e.store.Get(id)
}

// GetExecutions lists executions of one workflow, or of all workflows when
// workflowID is empty, oldest first.
func (e *Engine) GetExecutions(workflowID string) []*model.Execution {
	return e.store.List(workflowID)
}

func (e *Engine) StepTypes() []model.StepType {
	return e.dispatcher.Registry().Types()
}
