package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type TriggerType string

const TRIGGER_TYPE_EVENT TriggerType = "event"
const TRIGGER_TYPE_WEBHOOK TriggerType = "webhook"
const TRIGGER_TYPE_SCHEDULE TriggerType = "schedule"
const TRIGGER_TYPE_API_CALL TriggerType = "api_call"

type StepType string

const STEP_TYPE_API_CALL StepType = "api_call"
const STEP_TYPE_SEND_EMAIL StepType = "send_email"
const STEP_TYPE_CREATE_CONTACT StepType = "create_contact"
const STEP_TYPE_UPDATE_CONTACT StepType = "update_contact"
const STEP_TYPE_CREATE_DEAL StepType = "create_deal"
const STEP_TYPE_CREATE_TASK StepType = "create_task"
const STEP_TYPE_CONDITION StepType = "condition"
const STEP_TYPE_WAIT StepType = "wait"
const STEP_TYPE_LOG StepType = "log"

type ErrorStrategy string

const STRATEGY_STOP ErrorStrategy = "STOP"
const STRATEGY_CONTINUE ErrorStrategy = "CONTINUE"
const STRATEGY_RETRY ErrorStrategy = "RETRY"
const STRATEGY_SKIP ErrorStrategy = "SKIP"

// ValidateStrategy accepts the empty strategy, which behaves as STOP.
func ValidateStrategy(s ErrorStrategy) error {
	switch ErrorStrategy(strings.ToUpper(string(s))) {
	case "", STRATEGY_STOP, STRATEGY_CONTINUE, STRATEGY_RETRY, STRATEGY_SKIP:
		return nil
	}
	return fmt.Errorf("invalid error handling strategy %s", s)
}

type WorkflowDefinition struct {
	Id        string           `json:"id"`
	Version   int              `json:"version"`
	TenantId  string           `json:"tenantId"`
	Name      string           `json:"name"`
	IsActive  bool             `json:"isActive"`
	Triggers  []Trigger        `json:"triggers"`
	Steps     []Step           `json:"steps"`
	Variables map[string]any   `json:"variables"`
	Settings  WorkflowSettings `json:"settings"`
}

type WorkflowSettings struct {
	MaxExecutionTime int64 `json:"maxExecutionTime"`
	EnableLogging    bool  `json:"enableLogging"`
	EnableMetrics    bool  `json:"enableMetrics"`
}

func (s WorkflowSettings) MaxExecutionDuration() time.Duration {
	return time.Duration(s.MaxExecutionTime) * time.Millisecond
}

type Trigger struct {
	Id         string         `json:"id"`
	Type       TriggerType    `json:"type"`
	Name       string         `json:"name"`
	IsActive   bool           `json:"isActive"`
	Config     map[string]any `json:"config"`
	Conditions []Condition    `json:"conditions"`
}

type ErrorHandling struct {
	Strategy ErrorStrategy `json:"strategy"`
}

type Step struct {
	Id            string         `json:"id"`
	Name          string         `json:"name"`
	Type          StepType       `json:"type"`
	Position      int            `json:"position"`
	IsActive      bool           `json:"isActive"`
	Config        map[string]any `json:"config"`
	Conditions    []Condition    `json:"conditions"`
	Timeout       int64          `json:"timeout"`
	RetryAttempts int            `json:"retryAttempts"`
	RetryDelay    int64          `json:"retryDelay"`
	ErrorHandling ErrorHandling  `json:"errorHandling"`
	NextSteps     []string       `json:"nextSteps"`
}

func (s Step) TimeoutDuration(def time.Duration) time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Millisecond
	}
	return def
}

func (s Step) RetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelay) * time.Millisecond
}

func (s Step) Strategy() ErrorStrategy {
	st := ErrorStrategy(strings.ToUpper(string(s.ErrorHandling.Strategy)))
	if len(st) == 0 {
		return STRATEGY_STOP
	}
	return st
}

// OrderedSteps returns the steps sorted by position, ties broken by id.
func (wf *WorkflowDefinition) OrderedSteps() []Step {
	steps := make([]Step, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Position == steps[j].Position {
			return steps[i].Id < steps[j].Id
		}
		return steps[i].Position < steps[j].Position
	})
	return steps
}

func (wf *WorkflowDefinition) GetTrigger(triggerId string) (Trigger, bool) {
	for _, t := range wf.Triggers {
		if t.Id == triggerId {
			return t, true
		}
	}
	return Trigger{}, false
}

func (wf *WorkflowDefinition) Clone() *WorkflowDefinition {
	out := *wf
	out.Variables = CloneMap(wf.Variables)
	out.Triggers = make([]Trigger, len(wf.Triggers))
	for i, t := range wf.Triggers {
		t.Config = CloneMap(t.Config)
		t.Conditions = append([]Condition(nil), t.Conditions...)
		out.Triggers[i] = t
	}
	out.Steps = make([]Step, len(wf.Steps))
	for i, s := range wf.Steps {
		s.Config = CloneMap(s.Config)
		s.Conditions = append([]Condition(nil), s.Conditions...)
		s.NextSteps = append([]string(nil), s.NextSteps...)
		out.Steps[i] = s
	}
	return &out
}

func (wf *WorkflowDefinition) Validate() error {
	if len(strings.TrimSpace(wf.Id)) == 0 {
		return ValidationError{Field: "id", Message: "workflow id can not be empty"}
	}
	if len(strings.TrimSpace(wf.Name)) == 0 {
		return ValidationError{Field: "name", Message: fmt.Sprintf("workflow %s name can not be empty", wf.Id)}
	}
	if len(wf.Steps) == 0 {
		return ValidationError{Field: "steps", Message: fmt.Sprintf("workflow %s should have at least one step", wf.Id)}
	}
	if wf.Settings.MaxExecutionTime < 0 {
		return ValidationError{Field: "settings.maxExecutionTime", Message: "max execution time can not be negative"}
	}
	triggerIds := make(map[string]bool)
	for i, t := range wf.Triggers {
		if len(t.Id) == 0 {
			return ValidationError{Field: fmt.Sprintf("triggers[%d].id", i), Message: "trigger id can not be empty"}
		}
		if triggerIds[t.Id] {
			return ValidationError{Field: fmt.Sprintf("triggers[%d].id", i), Message: fmt.Sprintf("trigger id %s is duplicate", t.Id)}
		}
		triggerIds[t.Id] = true
		if len(t.Type) == 0 {
			return ValidationError{Field: fmt.Sprintf("triggers[%d].type", i), Message: fmt.Sprintf("trigger %s type can not be empty", t.Id)}
		}
		if err := validateConditions(fmt.Sprintf("triggers[%d].conditions", i), t.Conditions); err != nil {
			return err
		}
	}
	stepIds := make(map[string]bool)
	for i, s := range wf.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if len(s.Id) == 0 {
			return ValidationError{Field: field + ".id", Message: "step id can not be empty"}
		}
		if stepIds[s.Id] {
			return ValidationError{Field: field + ".id", Message: fmt.Sprintf("step id %s is duplicate", s.Id)}
		}
		stepIds[s.Id] = true
		if len(s.Type) == 0 {
			return ValidationError{Field: field + ".type", Message: fmt.Sprintf("step %s type can not be empty", s.Id)}
		}
		if s.Position < 0 {
			return ValidationError{Field: field + ".position", Message: fmt.Sprintf("step %s position can not be negative", s.Id)}
		}
		if s.Timeout < 0 || s.RetryDelay < 0 || s.RetryAttempts < 0 {
			return ValidationError{Field: field, Message: fmt.Sprintf("step %s timeout, retryAttempts and retryDelay can not be negative", s.Id)}
		}
		if err := ValidateStrategy(s.ErrorHandling.Strategy); err != nil {
			return ValidationError{Field: field + ".errorHandling.strategy", Message: err.Error()}
		}
		if err := validateConditions(field+".conditions", s.Conditions); err != nil {
			return err
		}
	}
	for _, s := range wf.Steps {
		for _, next := range s.NextSteps {
			if !stepIds[next] {
				return ValidationError{Field: "nextSteps", Message: fmt.Sprintf("step %s refers to unknown next step %s", s.Id, next)}
			}
		}
	}
	return nil
}

func validateConditions(field string, conds []Condition) error {
	for i, c := range conds {
		if err := c.Validate(); err != nil {
			return ValidationError{Field: fmt.Sprintf("%s[%d]", field, i), Message: err.Error()}
		}
	}
	return nil
}

// CloneMap copies nested maps and the top level of nested lists.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case map[string]any:
			out[k] = CloneMap(val)
		case []any:
			out[k] = append([]any(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}
