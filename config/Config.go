package config

import (
	"fmt"
	"time"

	"github.com/rezenkai/crmflow/analytics"
	"github.com/rezenkai/crmflow/condition"
	"github.com/rezenkai/crmflow/handlers"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/persistence/redis"
	"github.com/rezenkai/crmflow/step"
	"github.com/rezenkai/crmflow/store"
)

type StorageType string

type BusType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

const BUS_TYPE_REDIS BusType = "redis"
const BUS_TYPE_INMEM BusType = "memory"

type Config struct {
	HttpPort        int
	StorageType     StorageType
	BusType         BusType
	RedisConfig     redis.Config
	EngineConfig    EngineConfig
	LogConfig       logger.Config
	AnalyticsConfig analytics.DataCollectorConfig
	HandlerConfig   handlers.Config
}

type EngineConfig struct {
	DefaultStepTimeout      time.Duration
	RetentionPeriod         time.Duration
	SweepInterval           time.Duration
	MaxConcurrentExecutions int
	BusCapacity             int
	ScriptTimeout           time.Duration
}

func Default() Config {
	return Config{
		HttpPort:    8080,
		StorageType: STORAGE_TYPE_INMEM,
		BusType:     BUS_TYPE_INMEM,
		RedisConfig: redis.Config{
			Addrs:     []string{"localhost:6379"},
			Namespace: "crmflow",
		},
		EngineConfig: EngineConfig{
			DefaultStepTimeout: step.DEFAULT_STEP_TIMEOUT,
			RetentionPeriod:    store.DEFAULT_RETENTION,
			SweepInterval:      store.DEFAULT_SWEEP_INTERVAL,
			BusCapacity:        1024,
			ScriptTimeout:      condition.DEFAULT_SCRIPT_TIMEOUT,
		},
		LogConfig: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		AnalyticsConfig: analytics.DataCollectorConfig{
			CollectorType: analytics.PROMETHEUS_DATA_COLLECTOR,
		},
		HandlerConfig: handlers.Config{
			HTTPTimeout: handlers.DEFAULT_HTTP_TIMEOUT,
		},
	}
}

func (c Config) Validate() error {
	if c.HttpPort <= 0 || c.HttpPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	switch c.StorageType {
	case STORAGE_TYPE_INMEM, STORAGE_TYPE_REDIS:
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	switch c.BusType {
	case BUS_TYPE_INMEM, BUS_TYPE_REDIS:
	default:
		return fmt.Errorf("unknown bus type %q", c.BusType)
	}
	if c.StorageType == STORAGE_TYPE_REDIS || c.BusType == BUS_TYPE_REDIS {
		if len(c.RedisConfig.Addrs) == 0 {
			return fmt.Errorf("redis addresses are required")
		}
		if c.RedisConfig.Namespace == "" {
			return fmt.Errorf("redis namespace is required")
		}
	}
	e := c.EngineConfig
	if e.DefaultStepTimeout < 0 || e.RetentionPeriod < 0 || e.SweepInterval < 0 || e.MaxConcurrentExecutions < 0 || e.BusCapacity < 0 || e.ScriptTimeout < 0 {
		return fmt.Errorf("engine settings can not be negative")
	}
	if c.AnalyticsConfig.CollectorType == analytics.LOG_FILE_DATA_COLLECTOR && c.AnalyticsConfig.FileName == "" {
		return fmt.Errorf("analytics file name is required for %s", analytics.LOG_FILE_DATA_COLLECTOR)
	}
	return nil
}
