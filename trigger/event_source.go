package trigger

import (
	"fmt"
	"sync"

	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

// EventSource subscribes event triggers to the bus. config.event names the
// event, for example contact.created.
type EventSource struct {
	bus  Bus
	mu   sync.Mutex
	subs map[string]Subscription
}

var _ Source = new(EventSource)

func NewEventSource(bus Bus) *EventSource {
	return &EventSource{
		bus:  bus,
		subs: make(map[string]Subscription),
	}
}

func (s *EventSource) Bind(b Binding) error {
	event, _ := b.Trigger.Config["event"].(string)
	if len(event) == 0 {
		return fmt.Errorf("event trigger %s needs config.event", b.Trigger.Id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[b.Key()]; ok {
		return nil
	}
	sub, err := s.bus.Subscribe(event, func(payload map[string]any) {
		partial := &model.ExecutionContext{Source: "event:" + event}
		id, err := b.Fire(payload, partial)
		if err != nil {
			logger.Error("error starting workflow from event", zap.String("event", event), zap.String("workflow", b.WorkflowID), zap.Error(err))
			return
		}
		if len(id) != 0 {
			logger.Info("workflow started from event", zap.String("event", event), zap.String("workflow", b.WorkflowID), zap.String("execution", id))
		}
	})
	if err != nil {
		return err
	}
	s.subs[b.Key()] = sub
	return nil
}

func (s *EventSource) Unbind(b Binding) error {
	s.mu.Lock()
	sub, ok := s.subs[b.Key()]
	delete(s.subs, b.Key())
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}
