package analytics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rezenkai/crmflow/engine"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
	// Registerer receives the prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const PROMETHEUS_DATA_COLLECTOR DataCollectorType = "PROMETHEUS_DATA_COLLECTOR"
const NONE_DATA_COLLECTOR DataCollectorType = "NONE"

// WorkflowDataCollector is an engine observer that records outcomes
// somewhere outside the process.
type WorkflowDataCollector interface {
	engine.Observer
	Close() error
}

func InitDataCollector(config DataCollectorConfig) (WorkflowDataCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return nil, err
		}
		return c, nil
	case PROMETHEUS_DATA_COLLECTOR:
		reg := config.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		m, err := NewMetricsObserver(reg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case NONE_DATA_COLLECTOR, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown data collector type %q", config.CollectorType)
}
