package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newExecution(start time.Time) *Execution {
	return &Execution{
		Id:             "ex1",
		WorkflowId:     "wf1",
		Status:         EXECUTION_PENDING,
		StartTime:      start,
		Context:        &ExecutionContext{InputData: map[string]any{"lead": map[string]any{"email": "a@b.com"}}},
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

func TestTransition(t *testing.T) {
	start := time.Now()
	for scenario, fn := range map[string]func(t *testing.T, e *Execution){
		"run then complete": func(t *testing.T, e *Execution) {
			require.NoError(t, e.Transition(EXECUTION_RUNNING, start.Add(time.Millisecond)))
			require.Nil(t, e.Duration)
			end := start.Add(2 * time.Second)
			require.NoError(t, e.Transition(EXECUTION_COMPLETED, end))
			require.Equal(t, end, *e.EndTime)
			require.Equal(t, e.EndTime.Sub(e.StartTime), *e.Duration)
		},
		"terminal is final": func(t *testing.T, e *Execution) {
			require.NoError(t, e.Transition(EXECUTION_RUNNING, start))
			require.NoError(t, e.Transition(EXECUTION_CANCELLED, start.Add(time.Second)))
			d := *e.Duration
			for _, to := range []ExecutionStatus{EXECUTION_RUNNING, EXECUTION_COMPLETED, EXECUTION_FAILED, EXECUTION_CANCELLED, EXECUTION_PENDING} {
				require.Error(t, e.Transition(to, start.Add(time.Hour)))
			}
			require.Equal(t, EXECUTION_CANCELLED, e.Status)
			require.Equal(t, d, *e.Duration)
		},
		"no going back": func(t *testing.T, e *Execution) {
			require.NoError(t, e.Transition(EXECUTION_RUNNING, start))
			require.Error(t, e.Transition(EXECUTION_PENDING, start))
		},
		"pending can not complete": func(t *testing.T, e *Execution) {
			require.Error(t, e.Transition(EXECUTION_COMPLETED, start))
		},
		"fail records error": func(t *testing.T, e *Execution) {
			require.NoError(t, e.Transition(EXECUTION_RUNNING, start))
			require.NoError(t, e.Fail(ExecutionError{Code: CODE_STEP_EXECUTION, Message: "boom"}, start.Add(time.Second)))
			require.Equal(t, EXECUTION_FAILED, e.Status)
			require.Equal(t, "boom", e.Error.Message)
			require.False(t, e.Error.Timestamp.IsZero())
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newExecution(start))
		})
	}
}

func TestExecutionClone(t *testing.T) {
	e := newExecution(time.Now())
	e.MarkCompleted("s1", map[string]any{"ok": true}, time.Now())
	cp := e.Clone()
	cp.CompletedSteps[0] = "other"
	cp.Context.StepResults["s2"] = 1
	cp.Context.InputData["lead"].(map[string]any)["email"] = "x@y.com"

	require.Equal(t, []string{"s1"}, e.CompletedSteps)
	require.NotContains(t, e.Context.StepResults, "s2")
	require.Equal(t, "a@b.com", e.Context.InputData["lead"].(map[string]any)["email"])
}

func TestContextData(t *testing.T) {
	type lead struct {
		Email string `json:"email"`
	}
	ctx := &ExecutionContext{
		UserId:      "u1",
		InputData:   map[string]any{"lead": lead{Email: "a@b.com"}, "score": 7},
		StepResults: map[string]any{"s1": map[string]any{"status": 200}},
	}
	data := ctx.Data()
	require.Equal(t, "u1", data["userId"])
	require.Equal(t, "a@b.com", data["inputData"].(map[string]any)["lead"].(map[string]any)["email"])
	require.Equal(t, float64(7), data["inputData"].(map[string]any)["score"])
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("engine: %w", WorkflowNotFoundError{WorkflowID: "wf"})
	require.True(t, IsNotFound(wrapped))
	require.Equal(t, CODE_WORKFLOW_NOT_FOUND, ErrorCode(wrapped))
	require.True(t, IsTimeout(StepTimeoutError{StepID: "s", Timeout: time.Second}))
	require.True(t, IsConflict(ExecutionNotCancellableError{ExecutionID: "e", Status: EXECUTION_COMPLETED}))
	require.Equal(t, CODE_INTERNAL, ErrorCode(errors.New("plain")))

	cause := errors.New("smtp down")
	stepErr := StepExecutionError{StepID: "s", StepType: STEP_TYPE_SEND_EMAIL, Err: cause}
	require.ErrorIs(t, stepErr, cause)
}
