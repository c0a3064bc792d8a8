package trigger

import (
	"context"
	"sync"

	"github.com/rezenkai/crmflow/util"
)

type EventHandler func(payload map[string]any)

type Subscription interface {
	Unsubscribe() error
}

// Bus carries CRM domain events such as contact.created to subscribers.
type Bus interface {
	Publish(ctx context.Context, event string, payload map[string]any) error
	Subscribe(event string, handler EventHandler) (Subscription, error)
}

type busMessage struct {
	event   string
	payload map[string]any
}

// MemoryBus is an in-process bus. Publish only enqueues; a single worker
// fans messages out to subscribers in publish order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]EventHandler
	nextId int
	worker *util.Worker
}

func NewMemoryBus(capacity int, wg *sync.WaitGroup) *MemoryBus {
	b := &MemoryBus{
		subs: make(map[string]map[int]EventHandler),
	}
	b.worker = util.NewWorker("memory-event-bus", wg, b.deliver, capacity)
	return b
}

func (b *MemoryBus) Start() {
	b.worker.Start()
}

func (b *MemoryBus) Stop() error {
	b.worker.Stop()
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, event string, payload map[string]any) error {
	if !b.worker.Send(busMessage{event: event, payload: payload}) {
		return context.Canceled
	}
	return ctx.Err()
}

func (b *MemoryBus) Subscribe(event string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[event] == nil {
		b.subs[event] = make(map[int]EventHandler)
	}
	b.nextId++
	id := b.nextId
	b.subs[event][id] = handler
	return &memorySubscription{bus: b, event: event, id: id}, nil
}

func (b *MemoryBus) deliver(msg util.Message) error {
	m := msg.(busMessage)
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs[m.event]))
	for _, h := range b.subs[m.event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(m.payload)
	}
	return nil
}

type memorySubscription struct {
	bus   *MemoryBus
	event string
	id    int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.event], s.id)
	if len(s.bus.subs[s.event]) == 0 {
		delete(s.bus.subs, s.event)
	}
	return nil
}
