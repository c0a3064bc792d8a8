package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Id:       "wf1",
		Version:  1,
		TenantId: "t1",
		Name:     "lead nurture",
		IsActive: true,
		Triggers: []Trigger{{Id: "tr1", Type: TRIGGER_TYPE_EVENT, IsActive: true, Config: map[string]any{"event": "contact.created"}}},
		Steps: []Step{
			{Id: "b", Type: STEP_TYPE_LOG, Position: 2, IsActive: true},
			{Id: "a", Type: STEP_TYPE_LOG, Position: 1, IsActive: true},
			{Id: "c", Type: STEP_TYPE_LOG, Position: 1, IsActive: true},
		},
		Variables: map[string]any{"owner": map[string]any{"name": "sam"}},
	}
}

func TestValidate(t *testing.T) {
	for scenario, mutate := range map[string]func(wf *WorkflowDefinition){
		"missing id":        func(wf *WorkflowDefinition) { wf.Id = " " },
		"missing name":      func(wf *WorkflowDefinition) { wf.Name = "" },
		"no steps":          func(wf *WorkflowDefinition) { wf.Steps = nil },
		"duplicate step":    func(wf *WorkflowDefinition) { wf.Steps[1].Id = "b" },
		"empty step type":   func(wf *WorkflowDefinition) { wf.Steps[0].Type = "" },
		"negative timeout":  func(wf *WorkflowDefinition) { wf.Steps[0].Timeout = -1 },
		"negative position": func(wf *WorkflowDefinition) { wf.Steps[0].Position = -1 },
		"bad strategy":      func(wf *WorkflowDefinition) { wf.Steps[0].ErrorHandling.Strategy = "PANIC" },
		"bad operator": func(wf *WorkflowDefinition) {
			wf.Steps[0].Conditions = []Condition{{Field: "$.inputData.x", Operator: "like"}}
		},
		"script without expression": func(wf *WorkflowDefinition) {
			wf.Steps[0].Conditions = []Condition{{Operator: OP_SCRIPT}}
		},
		"duplicate trigger": func(wf *WorkflowDefinition) {
			wf.Triggers = append(wf.Triggers, Trigger{Id: "tr1", Type: TRIGGER_TYPE_WEBHOOK})
		},
		"unknown next step": func(wf *WorkflowDefinition) { wf.Steps[0].NextSteps = []string{"zz"} },
	} {
		t.Run(scenario, func(t *testing.T) {
			wf := validDefinition()
			mutate(wf)
			err := wf.Validate()
			require.Error(t, err)
			require.True(t, IsValidation(err))
			require.Equal(t, CODE_VALIDATION, ErrorCode(err))
		})
	}
}

func TestValidateAcceptsUnknownTriggerType(t *testing.T) {
	wf := validDefinition()
	wf.Triggers = append(wf.Triggers, Trigger{Id: "tr2", Type: "carrier_pigeon"})
	wf.Steps[0].ErrorHandling.Strategy = "retry"
	require.NoError(t, wf.Validate())
}

func TestOrderedSteps(t *testing.T) {
	wf := validDefinition()
	steps := wf.OrderedSteps()
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.Id)
	}
	require.Equal(t, []string{"a", "c", "b"}, ids)
	require.Equal(t, "b", wf.Steps[0].Id)
}

func TestCloneDefinition(t *testing.T) {
	wf := validDefinition()
	cp := wf.Clone()
	cp.Steps[0].Id = "changed"
	cp.Triggers[0].Config["event"] = "deal.created"
	cp.Variables["owner"].(map[string]any)["name"] = "alex"

	require.Equal(t, "b", wf.Steps[0].Id)
	require.Equal(t, "contact.created", wf.Triggers[0].Config["event"])
	require.Equal(t, "sam", wf.Variables["owner"].(map[string]any)["name"])
}

func TestStepDefaults(t *testing.T) {
	s := Step{}
	require.Equal(t, STRATEGY_STOP, s.Strategy())
	require.Equal(t, 30*time.Second, s.TimeoutDuration(30*time.Second))
	s.Timeout = 100
	s.ErrorHandling.Strategy = "continue"
	require.Equal(t, 100*time.Millisecond, s.TimeoutDuration(30*time.Second))
	require.Equal(t, STRATEGY_CONTINUE, s.Strategy())
}
