package step

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rezenkai/crmflow/model"
)

// Instruction is what a handler receives for one step dispatch. Config is
// the step config with {$.path} templates already resolved.
type Instruction struct {
	ExecutionID string
	WorkflowID  string
	TenantID    string
	Step        model.Step
	Config      map[string]any
}

type Handler interface {
	Execute(ctx context.Context, execCtx *model.ExecutionContext, ins Instruction) (any, error)
}

type HandlerFunc func(ctx context.Context, execCtx *model.ExecutionContext, ins Instruction) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, execCtx *model.ExecutionContext, ins Instruction) (any, error) {
	return f(ctx, execCtx, ins)
}

// Registry maps step types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.StepType]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[model.StepType]Handler),
	}
}

// Register adds or replaces the handler for a step type.
func (r *Registry) Register(stepType model.StepType, h Handler) error {
	if len(stepType) == 0 {
		return fmt.Errorf("step type can not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for step type %s can not be nil", stepType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stepType] = h
	return nil
}

func (r *Registry) Lookup(stepType model.StepType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stepType]
	return h, ok
}

func (r *Registry) Types() []model.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]model.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
