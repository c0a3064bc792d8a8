package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type ExecutionStatus string

const EXECUTION_PENDING ExecutionStatus = "PENDING"
const EXECUTION_RUNNING ExecutionStatus = "RUNNING"
const EXECUTION_COMPLETED ExecutionStatus = "COMPLETED"
const EXECUTION_FAILED ExecutionStatus = "FAILED"
const EXECUTION_CANCELLED ExecutionStatus = "CANCELLED"

func (s ExecutionStatus) IsTerminal() bool {
	return s == EXECUTION_COMPLETED || s == EXECUTION_FAILED || s == EXECUTION_CANCELLED
}

var transitions = map[ExecutionStatus][]ExecutionStatus{
	EXECUTION_PENDING: {EXECUTION_RUNNING, EXECUTION_FAILED, EXECUTION_CANCELLED},
	EXECUTION_RUNNING: {EXECUTION_COMPLETED, EXECUTION_FAILED, EXECUTION_CANCELLED},
}

func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ExecutionContext struct {
	UserId       string         `json:"userId,omitempty"`
	SessionId    string         `json:"sessionId,omitempty"`
	RequestId    string         `json:"requestId,omitempty"`
	Source       string         `json:"source,omitempty"`
	Environment  string         `json:"environment,omitempty"`
	TenantId     string         `json:"tenantId,omitempty"`
	InputData    map[string]any `json:"inputData"`
	Variables    map[string]any `json:"variables"`
	StepResults  map[string]any `json:"stepResults"`
	ExternalData map[string]any `json:"externalData"`
}

// Data returns the context as plain JSON values so that path lookups see
// the same shape a serialized execution would have.
func (c *ExecutionContext) Data() map[string]any {
	raw, err := json.Marshal(c)
	if err != nil {
		return map[string]any{
			"inputData":    c.InputData,
			"variables":    c.Variables,
			"stepResults":  c.StepResults,
			"externalData": c.ExternalData,
		}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	out := *c
	out.InputData = CloneMap(c.InputData)
	out.Variables = CloneMap(c.Variables)
	out.StepResults = CloneMap(c.StepResults)
	out.ExternalData = CloneMap(c.ExternalData)
	return &out
}

type ExecutionError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	StepId    string    `json:"stepId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stack     string    `json:"stack,omitempty"`
}

type Execution struct {
	Id              string            `json:"id"`
	WorkflowId      string            `json:"workflowId"`
	WorkflowVersion int               `json:"workflowVersion"`
	TenantId        string            `json:"tenantId"`
	Status          ExecutionStatus   `json:"status"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         *time.Time        `json:"endTime,omitempty"`
	Duration        *time.Duration    `json:"duration,omitempty"`
	TriggerId       string            `json:"triggerId"`
	TriggerData     map[string]any    `json:"triggerData"`
	Context         *ExecutionContext `json:"context"`
	CurrentStep     string            `json:"currentStep,omitempty"`
	CompletedSteps  []string          `json:"completedSteps"`
	FailedSteps     []string          `json:"failedSteps"`
	Error           *ExecutionError   `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Transition moves the execution to the given status. Terminal statuses
// record endTime and duration, which are never written again afterwards.
func (e *Execution) Transition(to ExecutionStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("execution %s can not move from %s to %s", e.Id, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	if to.IsTerminal() {
		end := now
		d := end.Sub(e.StartTime)
		e.EndTime = &end
		e.Duration = &d
	}
	return nil
}

// Fail moves the execution to FAILED and records the cause.
func (e *Execution) Fail(execErr ExecutionError, now time.Time) error {
	if err := e.Transition(EXECUTION_FAILED, now); err != nil {
		return err
	}
	if execErr.Timestamp.IsZero() {
		execErr.Timestamp = now
	}
	e.Error = &execErr
	return nil
}

func (e *Execution) MarkCompleted(stepId string, result any, now time.Time) {
	e.CompletedSteps = append(e.CompletedSteps, stepId)
	if e.Context.StepResults == nil {
		e.Context.StepResults = make(map[string]any)
	}
	e.Context.StepResults[stepId] = result
	e.UpdatedAt = now
}

func (e *Execution) MarkFailed(stepId string, now time.Time) {
	e.FailedSteps = append(e.FailedSteps, stepId)
	e.UpdatedAt = now
}

func (e *Execution) Clone() *Execution {
	out := *e
	out.TriggerData = CloneMap(e.TriggerData)
	out.Context = e.Context.Clone()
	out.CompletedSteps = append(make([]string, 0, len(e.CompletedSteps)), e.CompletedSteps...)
	out.FailedSteps = append(make([]string, 0, len(e.FailedSteps)), e.FailedSteps...)
	if e.EndTime != nil {
		end := *e.EndTime
		out.EndTime = &end
	}
	if e.Duration != nil {
		d := *e.Duration
		out.Duration = &d
	}
	if e.Error != nil {
		execErr := *e.Error
		out.Error = &execErr
	}
	return &out
}
