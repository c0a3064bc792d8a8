package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rezenkai/crmflow/model"
)

const DEFAULT_STEP_TIMEOUT = 30 * time.Second

type Meta struct {
	ExecutionID string
	WorkflowID  string
	TenantID    string
}

type Dispatcher struct {
	registry       *Registry
	defaultTimeout time.Duration
}

func NewDispatcher(registry *Registry, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DEFAULT_STEP_TIMEOUT
	}
	return &Dispatcher{
		registry:       registry,
		defaultTimeout: defaultTimeout,
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

type outcome struct {
	result any
	err    error
}

// Dispatch runs the handler registered for s.Type and races it against the
// step timeout. The handler gets a copy of the context so a late result
// never races with the runner. A handler still running at the deadline is
// left to finish on its own; its context is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, s model.Step, execCtx *model.ExecutionContext, meta Meta) (any, error) {
	h, ok := d.registry.Lookup(s.Type)
	if !ok {
		return nil, model.StepExecutionError{StepID: s.Id, StepType: s.Type, Err: fmt.Errorf("no handler registered for step type %s", s.Type)}
	}
	handlerCtx := execCtx.Clone()
	if handlerCtx == nil {
		handlerCtx = &model.ExecutionContext{}
	}
	ins := Instruction{
		ExecutionID: meta.ExecutionID,
		WorkflowID:  meta.WorkflowID,
		TenantID:    meta.TenantID,
		Step:        s,
		Config:      ResolveParams(s.Config, handlerCtx.Data()),
	}

	timeout := s.TimeoutDuration(d.defaultTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		res, err := h.Execute(runCtx, handlerCtx, ins)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return nil, model.StepTimeoutError{StepID: s.Id, Timeout: timeout}
			}
			return nil, model.StepExecutionError{StepID: s.Id, StepType: s.Type, Err: o.err}
		}
		return o.result, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, model.StepTimeoutError{StepID: s.Id, Timeout: timeout}
		}
		return nil, model.StepExecutionError{StepID: s.Id, StepType: s.Type, Err: runCtx.Err()}
	}
}
