package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rezenkai/crmflow/model"
	"github.com/stretchr/testify/require"
)

func pending(id, wf string, created time.Time) *model.Execution {
	return &model.Execution{
		Id:             id,
		WorkflowId:     wf,
		Status:         model.EXECUTION_PENDING,
		StartTime:      created,
		Context:        &model.ExecutionContext{},
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		CreatedAt:      created,
	}
}

func finish(t *testing.T, s *ExecutionStore, id string) {
	_, err := s.Update(id, func(e *model.Execution) error {
		if err := e.Transition(model.EXECUTION_RUNNING, time.Now()); err != nil {
			return err
		}
		return e.Transition(model.EXECUTION_COMPLETED, time.Now())
	})
	require.NoError(t, err)
}

func TestExecutionStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *ExecutionStore){
		"create and get clone": func(t *testing.T, s *ExecutionStore) {
			require.NoError(t, s.Create(pending("e1", "wf1", time.Now())))
			require.Error(t, s.Create(pending("e1", "wf1", time.Now())))
			got, ok := s.Get("e1")
			require.True(t, ok)
			got.CompletedSteps = append(got.CompletedSteps, "x")
			again, _ := s.Get("e1")
			require.Empty(t, again.CompletedSteps)
		},
		"update missing": func(t *testing.T, s *ExecutionStore) {
			_, err := s.Update("nope", func(*model.Execution) error { return nil })
			require.True(t, model.IsNotFound(err))
		},
		"failed update is discarded": func(t *testing.T, s *ExecutionStore) {
			require.NoError(t, s.Create(pending("e1", "wf1", time.Now())))
			_, err := s.Update("e1", func(e *model.Execution) error {
				e.CurrentStep = "s1"
				return errors.New("nope")
			})
			require.Error(t, err)
			got, _ := s.Get("e1")
			require.Empty(t, got.CurrentStep)
		},
		"list filters and orders": func(t *testing.T, s *ExecutionStore) {
			base := time.Now()
			require.NoError(t, s.Create(pending("e3", "wf1", base.Add(2*time.Second))))
			require.NoError(t, s.Create(pending("e1", "wf1", base)))
			require.NoError(t, s.Create(pending("e2", "wf2", base.Add(time.Second))))
			ids := func(list []*model.Execution) []string {
				out := []string{}
				for _, e := range list {
					out = append(out, e.Id)
				}
				return out
			}
			require.Equal(t, []string{"e1", "e3"}, ids(s.List("wf1")))
			require.Equal(t, []string{"e1", "e2", "e3"}, ids(s.List("")))
		},
		"sweep keeps running executions": func(t *testing.T, s *ExecutionStore) {
			require.NoError(t, s.Create(pending("running", "wf1", time.Now().Add(-time.Hour))))
			require.NoError(t, s.Create(pending("done", "wf1", time.Now())))
			finish(t, s, "done")
			time.Sleep(80 * time.Millisecond)
			require.Equal(t, 1, s.Sweep())
			_, ok := s.Get("done")
			require.False(t, ok)
			_, ok = s.Get("running")
			require.True(t, ok)
			require.Equal(t, 1, s.Len())
		},
		"terminal expiry is not extended by later updates": func(t *testing.T, s *ExecutionStore) {
			require.NoError(t, s.Create(pending("done", "wf1", time.Now())))
			finish(t, s, "done")
			time.Sleep(30 * time.Millisecond)
			_, err := s.Update("done", func(e *model.Execution) error { return nil })
			require.NoError(t, err)
			time.Sleep(30 * time.Millisecond)
			require.Equal(t, 1, s.Sweep())
		},
		"concurrent updates": func(t *testing.T, s *ExecutionStore) {
			require.NoError(t, s.Create(pending("e1", "wf1", time.Now())))
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					s.Update("e1", func(e *model.Execution) error {
						e.CompletedSteps = append(e.CompletedSteps, fmt.Sprintf("s%d", i))
						return nil
					})
				}(i)
			}
			wg.Wait()
			got, _ := s.Get("e1")
			require.Len(t, got.CompletedSteps, 50)
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewExecutionStore(50*time.Millisecond))
		})
	}
}

func TestJanitorSweeps(t *testing.T) {
	s := NewExecutionStore(10 * time.Millisecond)
	require.NoError(t, s.Create(pending("done", "wf1", time.Now())))
	finish(t, s, "done")
	var wg sync.WaitGroup
	j := s.NewJanitor(10*time.Millisecond, &wg)
	j.Start()
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	j.Stop()
	wg.Wait()
}
