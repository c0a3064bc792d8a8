package model

import (
	"errors"
	"fmt"
	"time"
)

const CODE_VALIDATION = "VALIDATION_ERROR"
const CODE_WORKFLOW_NOT_FOUND = "WORKFLOW_NOT_FOUND"
const CODE_WORKFLOW_NOT_ACTIVE = "WORKFLOW_NOT_ACTIVE"
const CODE_EXECUTION_NOT_FOUND = "EXECUTION_NOT_FOUND"
const CODE_EXECUTION_NOT_CANCELLABLE = "EXECUTION_NOT_CANCELLABLE"
const CODE_TRIGGER_ACTIVATION = "TRIGGER_ACTIVATION_ERROR"
const CODE_STEP_TIMEOUT = "STEP_TIMEOUT"
const CODE_STEP_EXECUTION = "STEP_EXECUTION_ERROR"
const CODE_CONDITION_EVALUATION = "CONDITION_EVALUATION_ERROR"
const CODE_EXECUTION_TIMEOUT = "EXECUTION_TIMEOUT"
const CODE_INTERNAL = "INTERNAL_ERROR"

// CodedError is implemented by every error the engine returns to callers.
type CodedError interface {
	error
	Code() string
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow definition, %s: %s", e.Field, e.Message)
}

func (e ValidationError) Code() string { return CODE_VALIDATION }

type WorkflowNotFoundError struct {
	WorkflowID string
}

func (e WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found", e.WorkflowID)
}

func (e WorkflowNotFoundError) Code() string { return CODE_WORKFLOW_NOT_FOUND }

type WorkflowNotActiveError struct {
	WorkflowID string
}

func (e WorkflowNotActiveError) Error() string {
	return fmt.Sprintf("workflow %s is not active", e.WorkflowID)
}

func (e WorkflowNotActiveError) Code() string { return CODE_WORKFLOW_NOT_ACTIVE }

type ExecutionNotFoundError struct {
	ExecutionID string
}

func (e ExecutionNotFoundError) Error() string {
	return fmt.Sprintf("execution %s not found", e.ExecutionID)
}

func (e ExecutionNotFoundError) Code() string { return CODE_EXECUTION_NOT_FOUND }

type ExecutionNotCancellableError struct {
	ExecutionID string
	Status      ExecutionStatus
}

func (e ExecutionNotCancellableError) Error() string {
	return fmt.Sprintf("execution %s can not be cancelled in status %s", e.ExecutionID, e.Status)
}

func (e ExecutionNotCancellableError) Code() string { return CODE_EXECUTION_NOT_CANCELLABLE }

type TriggerActivationError struct {
	WorkflowID string
	TriggerID  string
	Err        error
}

func (e TriggerActivationError) Error() string {
	return fmt.Sprintf("activating trigger %s of workflow %s: %v", e.TriggerID, e.WorkflowID, e.Err)
}

func (e TriggerActivationError) Unwrap() error { return e.Err }

func (e TriggerActivationError) Code() string { return CODE_TRIGGER_ACTIVATION }

type StepTimeoutError struct {
	StepID  string
	Timeout time.Duration
}

func (e StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.StepID, e.Timeout)
}

func (e StepTimeoutError) Code() string { return CODE_STEP_TIMEOUT }

type StepExecutionError struct {
	StepID   string
	StepType StepType
	Err      error
}

func (e StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.StepType, e.Err)
}

func (e StepExecutionError) Unwrap() error { return e.Err }

func (e StepExecutionError) Code() string { return CODE_STEP_EXECUTION }

type ConditionEvaluationError struct {
	Field    string
	Operator Operator
	Err      error
}

func (e ConditionEvaluationError) Error() string {
	return fmt.Sprintf("evaluating condition %s %s: %v", e.Field, e.Operator, e.Err)
}

func (e ConditionEvaluationError) Unwrap() error { return e.Err }

func (e ConditionEvaluationError) Code() string { return CODE_CONDITION_EVALUATION }

type ExecutionTimeoutError struct {
	ExecutionID string
	Limit       time.Duration
}

func (e ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution %s exceeded max execution time %s", e.ExecutionID, e.Limit)
}

func (e ExecutionTimeoutError) Code() string { return CODE_EXECUTION_TIMEOUT }

// ErrorCode returns the code of the first coded error in err's chain.
func ErrorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CODE_INTERNAL
}

func IsNotFound(err error) bool {
	var wf WorkflowNotFoundError
	var ex ExecutionNotFoundError
	return errors.As(err, &wf) || errors.As(err, &ex)
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

func IsTimeout(err error) bool {
	var st StepTimeoutError
	var et ExecutionTimeoutError
	return errors.As(err, &st) || errors.As(err, &et)
}

func IsConflict(err error) bool {
	var na WorkflowNotActiveError
	var nc ExecutionNotCancellableError
	return errors.As(err, &na) || errors.As(err, &nc)
}
