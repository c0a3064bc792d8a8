package util

import (
	"sync"

	"github.com/rezenkai/crmflow/logger"
	"go.uber.org/zap"
)

type Message any

// Worker drains a buffered channel of messages on a single goroutine.
type Worker struct {
	name     string
	stop     chan struct{}
	stopOnce sync.Once
	wg       *sync.WaitGroup
	handler  func(Message) error
	msgChan  chan Message
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Message) error, capacity int) *Worker {
	return &Worker{
		name:    name,
		stop:    make(chan struct{}),
		wg:      wg,
		handler: handler,
		msgChan: make(chan Message, capacity),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case msg := <-w.msgChan:
				w.handle(msg)
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			}
		}
	}()
}

func (w *Worker) handle(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker handler panicked", zap.String("worker", w.name), zap.Any("panic", r))
		}
	}()
	if err := w.handler(msg); err != nil {
		logger.Error("error in handling message in worker", zap.String("worker", w.name), zap.Any("message", msg), zap.Error(err))
	}
}

// Send enqueues msg, returning false when the worker is stopped.
func (w *Worker) Send(msg Message) bool {
	select {
	case <-w.stop:
		return false
	default:
	}
	select {
	case w.msgChan <- msg:
		return true
	case <-w.stop:
		return false
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
