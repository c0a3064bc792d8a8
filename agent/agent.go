package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rd "github.com/redis/go-redis/v9"
	"github.com/rezenkai/crmflow/analytics"
	"github.com/rezenkai/crmflow/condition"
	"github.com/rezenkai/crmflow/config"
	"github.com/rezenkai/crmflow/engine"
	"github.com/rezenkai/crmflow/handlers"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/persistence"
	"github.com/rezenkai/crmflow/persistence/memory"
	"github.com/rezenkai/crmflow/persistence/redis"
	"github.com/rezenkai/crmflow/rest"
	"github.com/rezenkai/crmflow/step"
	"github.com/rezenkai/crmflow/store"
	"github.com/rezenkai/crmflow/trigger"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Agent struct {
	Config       config.Config
	metrics      *prometheus.Registry
	collector    analytics.WorkflowDataCollector
	redisClient  rd.UniversalClient
	repository   persistence.WorkflowRepository
	bus          trigger.Bus
	memoryBus    *trigger.MemoryBus
	evaluator    *condition.Evaluator
	activator    *trigger.Activator
	sources      rest.Sources
	schedule     *trigger.ScheduleSource
	steps        *step.Registry
	engine       *engine.Engine
	httpServer   *rest.Server
	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		Config: config,
	}
	setup := []func() error{
		a.setupLogger,
		a.setupAnalytics,
		a.setupRepository,
		a.setupBus,
		a.setupTriggers,
		a.setupSteps,
		a.setupEngine,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupLogger() error {
	return logger.Init(a.Config.LogConfig)
}

func (a *Agent) setupAnalytics() error {
	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	conf := a.Config.AnalyticsConfig
	if conf.Registerer == nil {
		conf.Registerer = a.metrics
	}
	var err error
	a.collector, err = analytics.InitDataCollector(conf)
	return err
}

func (a *Agent) redis() rd.UniversalClient {
	if a.redisClient == nil {
		a.redisClient = redis.NewClient(a.Config.RedisConfig)
	}
	return a.redisClient
}

func (a *Agent) setupRepository() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.repository = redis.NewWorkflowRepository(a.redis(), a.Config.RedisConfig.Namespace)
	case config.STORAGE_TYPE_INMEM:
		a.repository = memory.NewWorkflowRepository()
	default:
		return fmt.Errorf("unsupported storage type %s", a.Config.StorageType)
	}
	return nil
}

func (a *Agent) setupBus() error {
	switch a.Config.BusType {
	case config.BUS_TYPE_REDIS:
		a.bus = trigger.NewRedisBus(a.redis(), a.Config.RedisConfig.Namespace, &a.wg)
	case config.BUS_TYPE_INMEM:
		a.memoryBus = trigger.NewMemoryBus(a.Config.EngineConfig.BusCapacity, &a.wg)
		a.bus = a.memoryBus
	default:
		return fmt.Errorf("unsupported bus type %s", a.Config.BusType)
	}
	return nil
}

func (a *Agent) setupTriggers() error {
	a.evaluator = condition.NewEvaluatorWithTimeout(a.Config.EngineConfig.ScriptTimeout)
	a.activator = trigger.NewActivator(a.evaluator)
	a.schedule = trigger.NewScheduleSource()
	a.sources = rest.Sources{
		Webhook: trigger.NewWebhookSource(),
		API:     trigger.NewAPISource(),
		Bus:     a.bus,
	}
	a.activator.RegisterSource(model.TRIGGER_TYPE_EVENT, trigger.NewEventSource(a.bus))
	a.activator.RegisterSource(model.TRIGGER_TYPE_WEBHOOK, a.sources.Webhook)
	a.activator.RegisterSource(model.TRIGGER_TYPE_SCHEDULE, a.schedule)
	a.activator.RegisterSource(model.TRIGGER_TYPE_API_CALL, a.sources.API)
	return nil
}

func (a *Agent) setupSteps() error {
	a.steps = step.NewRegistry()
	step.RegisterBuiltins(a.steps, a.evaluator)
	return handlers.RegisterDefaults(a.steps, a.Config.HandlerConfig)
}

func (a *Agent) setupEngine() error {
	conf := a.Config.EngineConfig
	var observers []engine.Observer
	if a.collector != nil {
		observers = append(observers, a.collector)
	}
	a.engine = engine.New(engine.Options{
		Activator:     a.activator,
		Dispatcher:    step.NewDispatcher(a.steps, conf.DefaultStepTimeout),
		Evaluator:     a.evaluator,
		Store:         store.NewExecutionStore(conf.RetentionPeriod),
		Repository:    a.repository,
		Schedule:      a.schedule,
		Observers:     observers,
		SweepInterval: conf.SweepInterval,
		MaxConcurrent: conf.MaxConcurrentExecutions,
	})
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.engine, a.sources, a.metrics)
	return err
}

func (a *Agent) Engine() *engine.Engine {
	return a.engine
}

func (a *Agent) Start() error {
	if a.memoryBus != nil {
		a.memoryBus.Start()
	}
	if err := a.engine.Start(context.Background()); err != nil {
		return err
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.engine.Stop(ctx)
		},
		a.unbindTriggers,
		func() error {
			if a.memoryBus != nil {
				return a.memoryBus.Stop()
			}
			return nil
		},
		func() error {
			a.wg.Wait()
			return nil
		},
		func() error {
			if a.redisClient != nil {
				return a.redisClient.Close()
			}
			return nil
		},
		func() error {
			if a.collector != nil {
				return a.collector.Close()
			}
			return nil
		},
	}
	var firstErr error
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	_ = logger.Sync()
	return firstErr
}

// unbindTriggers closes event subscriptions so bus goroutines return.
func (a *Agent) unbindTriggers() error {
	for _, wf := range a.engine.ListWorkflows() {
		if err := a.activator.DeactivateAll(wf.Id); err != nil {
			logger.Warn("error deactivating triggers", zap.String("workflow", wf.Id), zap.Error(err))
		}
	}
	return nil
}
