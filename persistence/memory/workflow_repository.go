package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/persistence"
)

var _ persistence.WorkflowRepository = new(WorkflowRepository)

type WorkflowRepository struct {
	mu   sync.RWMutex
	defs map[string]*model.WorkflowDefinition
}

func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		defs: make(map[string]*model.WorkflowDefinition),
	}
}

func (r *WorkflowRepository) Save(_ context.Context, wf *model.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[wf.Id] = wf.Clone()
	return nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, id)
	return nil
}

func (r *WorkflowRepository) Get(_ context.Context, id string) (*model.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.defs[id]
	if !ok {
		return nil, model.WorkflowNotFoundError{WorkflowID: id}
	}
	return wf.Clone(), nil
}

func (r *WorkflowRepository) List(_ context.Context) ([]*model.WorkflowDefinition, error) {
	r.mu.RLock()
	out := make([]*model.WorkflowDefinition, 0, len(r.defs))
	for _, wf := range r.defs {
		out = append(out, wf.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}
