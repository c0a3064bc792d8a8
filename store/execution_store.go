package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/util"
	"go.uber.org/zap"
)

const DEFAULT_RETENTION = 24 * time.Hour
const DEFAULT_SWEEP_INTERVAL = 5 * time.Minute

// ExecutionStore keeps executions in memory. Running executions never
// expire; a terminal execution expires retention after its end time and is
// dropped by the next Sweep.
type ExecutionStore struct {
	mu        sync.Mutex
	cache     *cache.Cache
	retention time.Duration
}

func NewExecutionStore(retention time.Duration) *ExecutionStore {
	if retention <= 0 {
		retention = DEFAULT_RETENTION
	}
	return &ExecutionStore{
		cache:     cache.New(cache.NoExpiration, 0),
		retention: retention,
	}
}

func (s *ExecutionStore) Create(e *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(e.Id, e.Clone(), s.ttl(e)); err != nil {
		return fmt.Errorf("execution %s already exists", e.Id)
	}
	return nil
}

func (s *ExecutionStore) Get(id string) (*model.Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	return v.(*model.Execution).Clone(), true
}

// Update applies fn to the stored execution under the store lock. Changes
// are discarded when fn returns an error.
func (s *ExecutionStore) Update(id string, fn func(e *model.Execution) error) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.cache.Get(id)
	if !found {
		return nil, model.ExecutionNotFoundError{ExecutionID: id}
	}
	current := v.(*model.Execution)
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if !current.Status.IsTerminal() && next.Status.IsTerminal() {
		s.cache.Set(id, next, s.ttl(next))
	} else {
		s.cache.Set(id, next, s.remaining(id))
	}
	return next.Clone(), nil
}

func (s *ExecutionStore) List(workflowID string) []*model.Execution {
	s.mu.Lock()
	items := s.cache.Items()
	s.mu.Unlock()
	out := make([]*model.Execution, 0, len(items))
	for _, item := range items {
		e := item.Object.(*model.Execution)
		if len(workflowID) != 0 && e.WorkflowId != workflowID {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep removes expired executions and returns how many were removed.
func (s *ExecutionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.cache.ItemCount()
	s.cache.DeleteExpired()
	removed := before - s.cache.ItemCount()
	if removed > 0 {
		logger.Info("swept expired executions", zap.Int("removed", removed))
	}
	return removed
}

func (s *ExecutionStore) Len() int {
	return s.cache.ItemCount()
}

func (s *ExecutionStore) Retention() time.Duration {
	return s.retention
}

// NewJanitor returns a tick worker that sweeps the store every interval.
func (s *ExecutionStore) NewJanitor(interval time.Duration, wg *sync.WaitGroup) *util.TickWorker {
	if interval <= 0 {
		interval = DEFAULT_SWEEP_INTERVAL
	}
	return util.NewTickWorker("execution-retention-sweep", interval, func() { s.Sweep() }, wg)
}

func (s *ExecutionStore) ttl(e *model.Execution) time.Duration {
	if !e.Status.IsTerminal() || e.EndTime == nil {
		return cache.NoExpiration
	}
	left := s.retention - time.Since(*e.EndTime)
	if left <= 0 {
		return time.Nanosecond
	}
	return left
}

func (s *ExecutionStore) remaining(id string) time.Duration {
	_, exp, found := s.cache.GetWithExpiration(id)
	if !found || exp.IsZero() {
		return cache.NoExpiration
	}
	left := time.Until(exp)
	if left <= 0 {
		return time.Nanosecond
	}
	return left
}
