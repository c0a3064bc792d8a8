package trigger

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rezenkai/crmflow/condition"
	"github.com/rezenkai/crmflow/model"
	"github.com/stretchr/testify/require"
)

type recordingSource struct {
	mu       sync.Mutex
	bound    map[string]Binding
	binds    int
	unbinds  int
	failBind bool
}

func newRecordingSource() *recordingSource {
	return &recordingSource{bound: make(map[string]Binding)}
}

func (s *recordingSource) Bind(b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBind {
		return errors.New("route taken")
	}
	s.binds++
	s.bound[b.Key()] = b
	return nil
}

func (s *recordingSource) Unbind(b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbinds++
	delete(s.bound, b.Key())
	return nil
}

func countingFire(n *atomic.Int32) FireFunc {
	return func(input map[string]any, partial *model.ExecutionContext) (string, error) {
		n.Add(1)
		return "ex", nil
	}
}

func TestActivator(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, a *Activator, src *recordingSource){
		"activate is idempotent": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			tr := model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_WEBHOOK, IsActive: true}
			require.NoError(t, a.Activate("wf1", tr, countingFire(&n)))
			require.NoError(t, a.Activate("wf1", tr, countingFire(&n)))
			require.Equal(t, 1, src.binds)
			require.Equal(t, []string{"t1"}, a.Active("wf1"))
		},
		"inactive trigger skipped": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			require.NoError(t, a.Activate("wf1", model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_WEBHOOK}, countingFire(&n)))
			require.Equal(t, 0, src.binds)
			require.Empty(t, a.Active("wf1"))
		},
		"unknown type skipped": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			require.NoError(t, a.Activate("wf1", model.Trigger{Id: "t1", Type: "fax", IsActive: true}, countingFire(&n)))
			require.Empty(t, a.Active("wf1"))
		},
		"bind failure": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			src.failBind = true
			err := a.Activate("wf1", model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_WEBHOOK, IsActive: true}, countingFire(&n))
			var ae model.TriggerActivationError
			require.ErrorAs(t, err, &ae)
			require.Empty(t, a.Active("wf1"))
		},
		"deactivate is idempotent": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			require.NoError(t, a.Activate("wf1", model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_WEBHOOK, IsActive: true}, countingFire(&n)))
			require.NoError(t, a.Deactivate("wf1", "t1"))
			require.NoError(t, a.Deactivate("wf1", "t1"))
			require.NoError(t, a.Deactivate("nope", "t1"))
			require.Equal(t, 1, src.unbinds)
		},
		"deactivate all": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			for _, id := range []string{"t1", "t2", "t3"} {
				require.NoError(t, a.Activate("wf1", model.Trigger{Id: id, Type: model.TRIGGER_TYPE_WEBHOOK, IsActive: true}, countingFire(&n)))
			}
			require.NoError(t, a.Activate("wf2", model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_WEBHOOK, IsActive: true}, countingFire(&n)))
			require.NoError(t, a.DeactivateAll("wf1"))
			require.Empty(t, a.Active("wf1"))
			require.Equal(t, []string{"t1"}, a.Active("wf2"))
			require.Len(t, src.bound, 1)
		},
		"conditions guard fire": func(t *testing.T, a *Activator, src *recordingSource) {
			var n atomic.Int32
			tr := model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_WEBHOOK, IsActive: true, Conditions: []model.Condition{
				{Field: "inputData.stage", Operator: model.OP_EQUALS, Value: "won"},
			}}
			require.NoError(t, a.Activate("wf1", tr, countingFire(&n)))
			b := src.bound["wf1/t1"]
			id, err := b.Fire(map[string]any{"stage": "lost"}, nil)
			require.NoError(t, err)
			require.Empty(t, id)
			id, err = b.Fire(map[string]any{"stage": "won"}, nil)
			require.NoError(t, err)
			require.Equal(t, "ex", id)
			require.Equal(t, int32(1), n.Load())
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			a := NewActivator(condition.NewEvaluator())
			src := newRecordingSource()
			a.RegisterSource(model.TRIGGER_TYPE_WEBHOOK, src)
			fn(t, a, src)
		})
	}
}

func TestEventSourceOverMemoryBus(t *testing.T) {
	var wg sync.WaitGroup
	bus := NewMemoryBus(16, &wg)
	bus.Start()
	defer func() {
		bus.Stop()
		wg.Wait()
	}()
	a := NewActivator(nil)
	a.RegisterSource(model.TRIGGER_TYPE_EVENT, NewEventSource(bus))

	got := make(chan map[string]any, 4)
	fire := func(input map[string]any, partial *model.ExecutionContext) (string, error) {
		input["source"] = partial.Source
		got <- input
		return "ex1", nil
	}
	tr := model.Trigger{Id: "t1", Type: model.TRIGGER_TYPE_EVENT, IsActive: true, Config: map[string]any{"event": "contact.created"}}
	require.NoError(t, a.Activate("wf1", tr, fire))

	require.NoError(t, bus.Publish(context.Background(), "deal.created", map[string]any{"id": "d1"}))
	require.NoError(t, bus.Publish(context.Background(), "contact.created", map[string]any{"id": "c1"}))
	select {
	case payload := <-got:
		require.Equal(t, "c1", payload["id"])
		require.Equal(t, "event:contact.created", payload["source"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, a.Deactivate("wf1", "t1"))
	require.NoError(t, bus.Publish(context.Background(), "contact.created", map[string]any{"id": "c2"}))
	select {
	case <-got:
		t.Fatal("event delivered after deactivate")
	case <-time.After(100 * time.Millisecond):
	}

	bad := model.Trigger{Id: "t2", Type: model.TRIGGER_TYPE_EVENT, IsActive: true}
	require.Error(t, a.Activate("wf1", bad, fire))
}

func TestWebhookSource(t *testing.T) {
	src := NewWebhookSource()
	var fired []string
	fire := func(name string) FireFunc {
		return func(input map[string]any, partial *model.ExecutionContext) (string, error) {
			fired = append(fired, name)
			return "ex-" + name, nil
		}
	}
	open := Binding{WorkflowID: "wf1", Trigger: model.Trigger{Id: "t1", Config: map[string]any{"path": "/leads/"}}, Fire: fire("open")}
	locked := Binding{WorkflowID: "wf2", Trigger: model.Trigger{Id: "t1", Config: map[string]any{"path": "leads", "secret": "s3cret"}}, Fire: fire("locked")}
	require.NoError(t, src.Bind(open))
	require.NoError(t, src.Bind(locked))
	require.Error(t, src.Bind(Binding{WorkflowID: "wf3", Trigger: model.Trigger{Id: "t1"}}))
	require.Equal(t, []string{"leads"}, src.Paths())

	ids, err := src.Deliver("leads", http.Header{}, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, []string{"ex-open"}, ids)

	h := http.Header{}
	h.Set(WEBHOOK_SECRET_HEADER, "s3cret")
	ids, err = src.Deliver("/leads", h, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, []string{"ex-open", "ex-locked"}, ids)

	require.NoError(t, src.Unbind(open))
	_, err = src.Deliver("leads", http.Header{}, nil)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = src.Deliver("unknown", http.Header{}, nil)
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestScheduleSource(t *testing.T) {
	src := NewScheduleSource()
	src.Start()
	defer src.Stop(context.Background())

	var n atomic.Int32
	b := Binding{WorkflowID: "wf1", Trigger: model.Trigger{Id: "t1", Config: map[string]any{"cron": "* * * * * *", "input": map[string]any{"report": "daily"}}},
		Fire: func(input map[string]any, partial *model.ExecutionContext) (string, error) {
			if input["report"] == "daily" && partial.Source == "schedule" {
				n.Add(1)
			}
			return "ex", nil
		}}
	require.NoError(t, src.Bind(b))
	require.NoError(t, src.Bind(b))
	require.Equal(t, 1, src.Len())
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, src.Unbind(b))
	require.Equal(t, 0, src.Len())

	bad := Binding{WorkflowID: "wf1", Trigger: model.Trigger{Id: "t2", Config: map[string]any{"cron": "every tuesday"}}}
	require.Error(t, src.Bind(bad))
}

func TestAPISource(t *testing.T) {
	src := NewAPISource()
	b := Binding{WorkflowID: "wf1", Trigger: model.Trigger{Id: "api"}, Fire: func(input map[string]any, partial *model.ExecutionContext) (string, error) {
		return partial.Source, nil
	}}
	require.NoError(t, src.Bind(b))
	id, err := src.Invoke("wf1", "api", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "api_call", id)
	require.NoError(t, src.Unbind(b))
	_, err = src.Invoke("wf1", "api", nil, nil)
	require.ErrorIs(t, err, ErrNotBound)
}
