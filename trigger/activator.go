package trigger

import (
	"sort"
	"sync"

	"github.com/rezenkai/crmflow/condition"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

// FireFunc starts an execution for a bound trigger and returns its id. An
// empty id with a nil error means the trigger conditions did not match.
type FireFunc func(input map[string]any, partial *model.ExecutionContext) (string, error)

type Binding struct {
	WorkflowID string
	Trigger    model.Trigger
	Fire       FireFunc
}

func (b Binding) Key() string {
	return b.WorkflowID + "/" + b.Trigger.Id
}

// Source is the delivery mechanism for one trigger type.
type Source interface {
	Bind(b Binding) error
	Unbind(b Binding) error
}

type Activator struct {
	mu        sync.Mutex
	sources   map[model.TriggerType]Source
	active    map[string]map[string]Binding
	evaluator *condition.Evaluator
}

func NewActivator(evaluator *condition.Evaluator) *Activator {
	if evaluator == nil {
		evaluator = condition.NewEvaluator()
	}
	return &Activator{
		sources:   make(map[model.TriggerType]Source),
		active:    make(map[string]map[string]Binding),
		evaluator: evaluator,
	}
}

func (a *Activator) RegisterSource(t model.TriggerType, s Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[t] = s
}

// Activate binds the trigger to the source for its type. Inactive triggers
// and unknown types are skipped, an already bound trigger is left as is.
func (a *Activator) Activate(workflowID string, t model.Trigger, fire FireFunc) error {
	if !t.IsActive {
		logger.Debug("skipping inactive trigger", zap.String("workflow", workflowID), zap.String("trigger", t.Id))
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	src, ok := a.sources[t.Type]
	if !ok {
		logger.Warn("unknown trigger type, skipping", zap.String("workflow", workflowID), zap.String("trigger", t.Id), zap.String("type", string(t.Type)))
		return nil
	}
	if _, bound := a.active[workflowID][t.Id]; bound {
		return nil
	}
	b := Binding{WorkflowID: workflowID, Trigger: t, Fire: a.guard(workflowID, t, fire)}
	if err := src.Bind(b); err != nil {
		return model.TriggerActivationError{WorkflowID: workflowID, TriggerID: t.Id, Err: err}
	}
	if a.active[workflowID] == nil {
		a.active[workflowID] = make(map[string]Binding)
	}
	a.active[workflowID][t.Id] = b
	logger.Info("trigger activated", zap.String("workflow", workflowID), zap.String("trigger", t.Id), zap.String("type", string(t.Type)))
	return nil
}

// guard evaluates the trigger conditions against the incoming payload
// before calling fire.
func (a *Activator) guard(workflowID string, t model.Trigger, fire FireFunc) FireFunc {
	return func(input map[string]any, partial *model.ExecutionContext) (string, error) {
		ctx := partial.Clone()
		if ctx == nil {
			ctx = &model.ExecutionContext{}
		}
		ctx.InputData = input
		if !a.evaluator.Evaluate(t.Conditions, ctx) {
			logger.Info("trigger conditions not met", zap.String("workflow", workflowID), zap.String("trigger", t.Id))
			return "", nil
		}
		return fire(input, partial)
	}
}

// Deactivate unbinds the trigger. Deactivating a trigger that is not bound
// is a no-op.
func (a *Activator) Deactivate(workflowID string, triggerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deactivate(workflowID, triggerID)
}

func (a *Activator) deactivate(workflowID string, triggerID string) error {
	b, ok := a.active[workflowID][triggerID]
	if !ok {
		return nil
	}
	delete(a.active[workflowID], triggerID)
	if len(a.active[workflowID]) == 0 {
		delete(a.active, workflowID)
	}
	src, ok := a.sources[b.Trigger.Type]
	if !ok {
		return nil
	}
	if err := src.Unbind(b); err != nil {
		return model.TriggerActivationError{WorkflowID: workflowID, TriggerID: triggerID, Err: err}
	}
	logger.Info("trigger deactivated", zap.String("workflow", workflowID), zap.String("trigger", triggerID))
	return nil
}

// DeactivateAll unbinds every trigger of the workflow, returning the last
// unbind failure.
func (a *Activator) DeactivateAll(workflowID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var lastErr error
	for id := range a.active[workflowID] {
		if err := a.deactivate(workflowID, id); err != nil {
			logger.Error("error deactivating trigger", zap.String("workflow", workflowID), zap.String("trigger", id), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (a *Activator) Active(workflowID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.active[workflowID]))
	for id := range a.active[workflowID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
