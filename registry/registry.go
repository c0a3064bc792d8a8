package registry

import (
	"sort"
	"sync"

	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/trigger"
	"go.uber.org/zap"
)

// ExecuteFunc starts an execution of a workflow through one of its triggers.
type ExecuteFunc func(workflowID, triggerID string, input map[string]any, partial *model.ExecutionContext) (string, error)

// Registry holds the current definition of every workflow and keeps the
// trigger bindings in line with it. Register and Unregister are serialized;
// reads run concurrently.
type Registry struct {
	writeMu   sync.Mutex
	mu        sync.RWMutex
	defs      map[string]*model.WorkflowDefinition
	activator *trigger.Activator
	execute   ExecuteFunc
}

func New(activator *trigger.Activator, execute ExecuteFunc) *Registry {
	return &Registry{
		defs:      make(map[string]*model.WorkflowDefinition),
		activator: activator,
		execute:   execute,
	}
}

// Register validates def and stores a copy of it, replacing any definition
// with the same id. Triggers of the replaced definition are unbound before
// the new ones are bound. Activation failures are logged and do not fail
// the call.
func (r *Registry) Register(def *model.WorkflowDefinition) error {
	if def == nil {
		return model.ValidationError{Field: "workflow", Message: "workflow definition can not be nil"}
	}
	if err := def.Validate(); err != nil {
		return err
	}
	wf := def.Clone()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.activator.DeactivateAll(wf.Id); err != nil {
		logger.Warn("error deactivating triggers of replaced workflow", zap.String("workflow", wf.Id), zap.Error(err))
	}
	r.mu.Lock()
	_, replaced := r.defs[wf.Id]
	r.defs[wf.Id] = wf
	r.mu.Unlock()

	if wf.IsActive {
		for _, t := range wf.Triggers {
			if err := r.activator.Activate(wf.Id, t, r.fireFunc(wf.Id, t.Id)); err != nil {
				logger.Error("error activating trigger", zap.String("workflow", wf.Id), zap.String("trigger", t.Id), zap.Error(err))
			}
		}
	}
	logger.Info("workflow registered", zap.String("workflow", wf.Id), zap.Int("version", wf.Version), zap.Bool("replaced", replaced), zap.Bool("active", wf.IsActive))
	return nil
}

func (r *Registry) fireFunc(workflowID, triggerID string) trigger.FireFunc {
	return func(input map[string]any, partial *model.ExecutionContext) (string, error) {
		return r.execute(workflowID, triggerID, input, partial)
	}
}

func (r *Registry) Unregister(id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	_, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return model.WorkflowNotFoundError{WorkflowID: id}
	}
	if err := r.activator.DeactivateAll(id); err != nil {
		logger.Warn("error deactivating triggers of removed workflow", zap.String("workflow", id), zap.Error(err))
	}
	r.mu.Lock()
	delete(r.defs, id)
	r.mu.Unlock()
	logger.Info("workflow unregistered", zap.String("workflow", id))
	return nil
}

// Get returns the stored definition. Callers must not modify it.
func (r *Registry) Get(id string) (*model.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.defs[id]
	return wf, ok
}

func (r *Registry) List() []*model.WorkflowDefinition {
	r.mu.RLock()
	out := make([]*model.WorkflowDefinition, 0, len(r.defs))
	for _, wf := range r.defs {
		out = append(out, wf)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (r *Registry) ActiveTriggers(id string) []string {
	return r.activator.Active(id)
}
