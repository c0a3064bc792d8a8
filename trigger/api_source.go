package trigger

import (
	"errors"
	"sync"

	"github.com/rezenkai/crmflow/model"
)

var ErrNotBound = errors.New("api trigger is not bound")

// APISource binds api_call triggers so that callers can start a workflow
// through a specific trigger rather than the generic execute call.
type APISource struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

var _ Source = new(APISource)

func NewAPISource() *APISource {
	return &APISource{
		bindings: make(map[string]Binding),
	}
}

func (s *APISource) Bind(b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[b.Key()] = b
	return nil
}

func (s *APISource) Unbind(b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, b.Key())
	return nil
}

func (s *APISource) Invoke(workflowID, triggerID string, input map[string]any, partial *model.ExecutionContext) (string, error) {
	s.mu.RLock()
	b, ok := s.bindings[workflowID+"/"+triggerID]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotBound
	}
	if partial == nil {
		partial = &model.ExecutionContext{}
	}
	if len(partial.Source) == 0 {
		partial.Source = "api_call"
	}
	return b.Fire(input, partial)
}
