package util

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rezenkai/crmflow/logger"
	"go.uber.org/zap"
)

// TickWorker calls fn every interval on its own goroutine until stopped.
type TickWorker struct {
	name         string
	tickInterval time.Duration
	fn           func()
	stop         chan struct{}
	stopOnce     sync.Once
	wg           *sync.WaitGroup
	running      atomic.Bool
}

func NewTickWorker(name string, interval time.Duration, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		name:         name,
		tickInterval: interval,
		fn:           fn,
		stop:         make(chan struct{}),
		wg:           wg,
	}
}

func (tw *TickWorker) Start() {
	if !tw.running.CompareAndSwap(false, true) {
		return
	}
	ticker := time.NewTicker(tw.tickInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.run()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				tw.running.Store(false)
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

func (tw *TickWorker) run() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tick worker function panicked", zap.String("worker", tw.name), zap.Any("panic", r))
		}
	}()
	tw.fn()
}

func (tw *TickWorker) Stop() {
	tw.stopOnce.Do(func() {
		close(tw.stop)
	})
}

func (tw *TickWorker) IsRunning() bool {
	return tw.running.Load()
}
