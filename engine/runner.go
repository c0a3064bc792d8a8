package engine

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/policy"
	"github.com/rezenkai/crmflow/step"
	"go.uber.org/zap"
)

// errFinished aborts a store update when the execution already reached a
// terminal status, which after a cancel is the normal case.
var errFinished = errors.New("execution already finished")

type runner struct {
	engine *Engine
	id     string
	wf     *model.WorkflowDefinition
	start  time.Time
}

func (e *Engine) run(id string, wf *model.WorkflowDefinition) {
	defer e.runners.Done()
	defer e.inflight.Delete(id)
	if e.slots != nil {
		select {
		case e.slots <- struct{}{}:
			defer func() { <-e.slots }()
		case <-e.baseCtx.Done():
			e.fail(id, wf, model.ExecutionError{Code: model.CODE_INTERNAL, Message: ErrEngineStopped.Error()})
			return
		}
	}
	r := &runner{engine: e, id: id, wf: wf}
	defer r.finalize()
	r.execute()
}

// finalize guarantees the execution leaves RUNNING, also when the runner
// panicked.
func (r *runner) finalize() {
	rec := recover()
	ex, ok := r.engine.store.Get(r.id)
	if !ok || ex.Status.IsTerminal() {
		if rec != nil {
			logger.Error("runner panicked after execution finished", zap.String("execution", r.id), zap.Any("panic", rec))
		}
		return
	}
	execErr := model.ExecutionError{Code: model.CODE_INTERNAL, Message: "execution stopped without reaching a terminal state"}
	if rec != nil {
		execErr.Message = fmt.Sprintf("runner panicked: %v", rec)
		execErr.Stack = string(debug.Stack())
	}
	logger.Error("finalizing execution left running", zap.String("execution", r.id), zap.String("workflow", r.wf.Id), zap.String("reason", execErr.Message))
	r.engine.fail(r.id, r.wf, execErr)
}

func (r *runner) stepLog(msg string, fields ...zap.Field) {
	if !r.wf.Settings.EnableLogging {
		return
	}
	logger.Info(msg, append([]zap.Field{zap.String("workflow", r.wf.Id), zap.String("execution", r.id)}, fields...)...)
}

func (r *runner) execute() {
	e := r.engine
	ex, err := e.apply(r.id, func(ex *model.Execution) error {
		if ex.Status != model.EXECUTION_PENDING {
			return errFinished
		}
		return ex.Transition(model.EXECUTION_RUNNING, time.Now())
	}, func(ex *model.Execution) Event {
		return r.event(EVENT_WORKFLOW_STARTED, ex)
	})
	if err != nil {
		return
	}
	r.start = ex.StartTime
	r.stepLog("workflow execution started", zap.Int("version", r.wf.Version))

	limit := r.wf.Settings.MaxExecutionDuration()
	for _, s := range r.wf.OrderedSteps() {
		current, ok := e.store.Get(r.id)
		if !ok || current.Status != model.EXECUTION_RUNNING {
			return
		}
		if limit > 0 && time.Since(r.start) > limit {
			timeoutErr := model.ExecutionTimeoutError{ExecutionID: r.id, Limit: limit}
			e.fail(r.id, r.wf, model.ExecutionError{Code: timeoutErr.Code(), Message: timeoutErr.Error(), StepId: s.Id})
			return
		}
		if !s.IsActive {
			continue
		}
		if !e.evaluator.Evaluate(s.Conditions, current.Context) {
			r.stepLog("step conditions not met, skipping", zap.String("step", s.Id))
			continue
		}
		if !r.runStep(s) {
			return
		}
	}

	ex, err = e.apply(r.id, func(ex *model.Execution) error {
		if ex.Status != model.EXECUTION_RUNNING {
			return errFinished
		}
		return ex.Transition(model.EXECUTION_COMPLETED, time.Now())
	}, func(ex *model.Execution) Event {
		return r.event(EVENT_WORKFLOW_COMPLETED, ex)
	})
	if err != nil {
		return
	}
	r.stepLog("workflow execution completed", zap.Duration("duration", *ex.Duration))
}

// runStep dispatches one step and records its outcome. It returns false
// when the execution must not continue.
func (r *runner) runStep(s model.Step) bool {
	e := r.engine
	ex, err := e.apply(r.id, func(ex *model.Execution) error {
		if ex.Status != model.EXECUTION_RUNNING {
			return errFinished
		}
		ex.CurrentStep = s.Id
		ex.UpdatedAt = time.Now()
		return nil
	}, func(ex *model.Execution) Event {
		ev := r.event(EVENT_STEP_STARTED, ex)
		ev.StepID, ev.StepType = s.Id, s.Type
		return ev
	})
	if err != nil {
		return false
	}
	r.stepLog("step started", zap.String("step", s.Id), zap.String("type", string(s.Type)))

	meta := step.Meta{ExecutionID: r.id, WorkflowID: r.wf.Id, TenantID: ex.TenantId}
	decision := policy.Resolve(s.Strategy())
	stepStart := time.Now()
	var result any
	attempts := 1
	if decision == policy.Retry {
		result, attempts, err = policy.RunWithRetry(e.baseCtx, s.RetryAttempts, s.RetryDelayDuration(), r.cancelled, func(attempt int) (any, error) {
			if attempt > 0 {
				r.stepLog("retrying step", zap.String("step", s.Id), zap.Int("attempt", attempt))
			}
			current, ok := e.store.Get(r.id)
			if !ok {
				return nil, errFinished
			}
			return e.dispatcher.Dispatch(e.baseCtx, s, current.Context, meta)
		})
		if errors.Is(err, policy.ErrStopped) {
			return false
		}
	} else {
		result, err = e.dispatcher.Dispatch(e.baseCtx, s, ex.Context, meta)
	}
	elapsed := time.Since(stepStart)

	if err == nil {
		_, uerr := e.apply(r.id, func(ex *model.Execution) error {
			if ex.Status != model.EXECUTION_RUNNING {
				return errFinished
			}
			ex.MarkCompleted(s.Id, result, time.Now())
			return nil
		}, func(ex *model.Execution) Event {
			ev := r.event(EVENT_STEP_COMPLETED, ex)
			ev.StepID, ev.StepType, ev.Result, ev.Duration, ev.Attempts = s.Id, s.Type, result, elapsed, attempts
			return ev
		})
		if uerr != nil {
			return false
		}
		r.stepLog("step completed", zap.String("step", s.Id), zap.Duration("duration", elapsed))
		return true
	}

	_, uerr := e.apply(r.id, func(ex *model.Execution) error {
		if ex.Status != model.EXECUTION_RUNNING {
			return errFinished
		}
		ex.MarkFailed(s.Id, time.Now())
		return nil
	}, func(ex *model.Execution) Event {
		ev := r.event(EVENT_STEP_FAILED, ex)
		ev.StepID, ev.StepType, ev.Error, ev.ErrorCode, ev.Duration, ev.Attempts = s.Id, s.Type, err.Error(), model.ErrorCode(err), elapsed, attempts
		return ev
	})
	if uerr != nil {
		return false
	}

	switch decision {
	case policy.Continue, policy.Skip:
		logger.Warn("step failed, proceeding", zap.String("workflow", r.wf.Id), zap.String("execution", r.id), zap.String("step", s.Id), zap.String("policy", decision.String()), zap.Error(err))
		return true
	}
	logger.Warn("step failed, stopping execution", zap.String("workflow", r.wf.Id), zap.String("execution", r.id), zap.String("step", s.Id), zap.Int("attempts", attempts), zap.Error(err))
	e.fail(r.id, r.wf, model.ExecutionError{Code: model.ErrorCode(err), Message: err.Error(), StepId: s.Id})
	return false
}

func (r *runner) cancelled() bool {
	ex, ok := r.engine.store.Get(r.id)
	return !ok || ex.Status != model.EXECUTION_RUNNING
}

func (r *runner) event(t EventType, ex *model.Execution) Event {
	ev := Event{
		Type:           t,
		ExecutionID:    ex.Id,
		WorkflowID:     ex.WorkflowId,
		TenantID:       ex.TenantId,
		Status:         ex.Status,
		MetricsEnabled: r.wf.Settings.EnableMetrics,
	}
	if ex.Duration != nil {
		ev.Duration = *ex.Duration
	}
	return ev
}

// fail moves a non-terminal execution to FAILED and emits workflow:failed.
func (e *Engine) fail(id string, wf *model.WorkflowDefinition, execErr model.ExecutionError) {
	e.apply(id, func(ex *model.Execution) error {
		if ex.Status.IsTerminal() {
			return errFinished
		}
		return ex.Fail(execErr, time.Now())
	}, func(ex *model.Execution) Event {
		return Event{
			Type:           EVENT_WORKFLOW_FAILED,
			ExecutionID:    id,
			WorkflowID:     ex.WorkflowId,
			TenantID:       ex.TenantId,
			Status:         ex.Status,
			StepID:         execErr.StepId,
			Error:          execErr.Message,
			ErrorCode:      execErr.Code,
			Duration:       *ex.Duration,
			MetricsEnabled: wf.Settings.EnableMetrics,
		}
	})
}
