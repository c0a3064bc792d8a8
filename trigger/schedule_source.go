package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ScheduleSource fires schedule triggers from a cron. config.cron takes a
// five or six field spec (seconds optional) or a descriptor like @hourly.
// config.input, when present, becomes the execution input.
type ScheduleSource struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

var _ Source = new(ScheduleSource)

func NewScheduleSource() *ScheduleSource {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &ScheduleSource{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

func (s *ScheduleSource) Bind(b Binding) error {
	spec, _ := b.Trigger.Config["cron"].(string)
	if len(spec) == 0 {
		return fmt.Errorf("schedule trigger %s needs config.cron", b.Trigger.Id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[b.Key()]; ok {
		return nil
	}
	id, err := s.cron.AddFunc(spec, func() { s.fire(b) })
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	s.entries[b.Key()] = id
	return nil
}

func (s *ScheduleSource) fire(b Binding) {
	input := map[string]any{}
	if in, ok := b.Trigger.Config["input"].(map[string]any); ok {
		for k, v := range in {
			input[k] = v
		}
	}
	id, err := b.Fire(input, &model.ExecutionContext{Source: "schedule"})
	if err != nil {
		logger.Error("error starting scheduled workflow", zap.String("workflow", b.WorkflowID), zap.String("trigger", b.Trigger.Id), zap.Error(err))
		return
	}
	if len(id) != 0 {
		logger.Info("scheduled workflow started", zap.String("workflow", b.WorkflowID), zap.String("execution", id))
	}
}

func (s *ScheduleSource) Unbind(b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[b.Key()]; ok {
		s.cron.Remove(id)
		delete(s.entries, b.Key())
	}
	return nil
}

func (s *ScheduleSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ScheduleSource) Start() {
	s.cron.Start()
}

// Stop halts the cron and waits for running jobs or ctx, whichever is first.
func (s *ScheduleSource) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
