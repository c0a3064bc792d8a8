package engine

import (
	"sync"
	"time"

	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

type EventType string

const EVENT_WORKFLOW_STARTED EventType = "workflow:started"
const EVENT_WORKFLOW_COMPLETED EventType = "workflow:completed"
const EVENT_WORKFLOW_FAILED EventType = "workflow:failed"
const EVENT_WORKFLOW_CANCELLED EventType = "workflow:cancelled"
const EVENT_STEP_STARTED EventType = "step:started"
const EVENT_STEP_COMPLETED EventType = "step:completed"
const EVENT_STEP_FAILED EventType = "step:failed"

// Event describes one lifecycle change of an execution. Step fields are
// empty for workflow events. Duration is the step duration for step events
// and the execution duration for terminal workflow events.
type Event struct {
	Type           EventType             `json:"type"`
	ExecutionID    string                `json:"executionId"`
	WorkflowID     string                `json:"workflowId"`
	TenantID       string                `json:"tenantId,omitempty"`
	Status         model.ExecutionStatus `json:"status,omitempty"`
	StepID         string                `json:"stepId,omitempty"`
	StepType       model.StepType        `json:"stepType,omitempty"`
	Attempts       int                   `json:"attempts,omitempty"`
	Result         any                   `json:"result,omitempty"`
	Error          string                `json:"error,omitempty"`
	ErrorCode      string                `json:"errorCode,omitempty"`
	Duration       time.Duration         `json:"duration,omitempty"`
	MetricsEnabled bool                  `json:"metricsEnabled"`
	Timestamp      time.Time             `json:"timestamp"`
}

// Observer receives events synchronously while the execution's next
// transition waits. OnEvent must not cancel the execution it is handed on
// the same goroutine.
type Observer interface {
	OnEvent(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

// ChannelObserver pushes every event onto a channel. The send blocks, so
// the channel must be drained or buffered enough for the expected load.
type ChannelObserver struct {
	ch chan Event
}

func NewChannelObserver(capacity int) *ChannelObserver {
	return &ChannelObserver{ch: make(chan Event, capacity)}
}

func (o *ChannelObserver) OnEvent(ev Event) {
	o.ch <- ev
}

func (o *ChannelObserver) Events() <-chan Event {
	return o.ch
}

type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

func (o *observers) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()
	for _, obs := range list {
		notify(obs, ev)
	}
}

func notify(obs Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("observer panicked", zap.String("event", string(ev.Type)), zap.String("execution", ev.ExecutionID), zap.Any("panic", r))
		}
	}()
	obs.OnEvent(ev)
}
