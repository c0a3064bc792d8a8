package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rezenkai/crmflow/analytics"
	"github.com/rezenkai/crmflow/config"
	"github.com/rezenkai/crmflow/model"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestAgent(t *testing.T) {
	conf := config.Default()
	conf.HttpPort = freePort(t)
	conf.LogConfig.Level = "error"
	conf.AnalyticsConfig = analytics.DataCollectorConfig{
		CollectorType: analytics.LOG_FILE_DATA_COLLECTOR,
		FileName:      filepath.Join(t.TempDir(), "analytics.log"),
	}
	a, err := New(conf)
	require.NoError(t, err)
	require.NoError(t, a.Start())

	base := fmt.Sprintf("http://127.0.0.1:%d", conf.HttpPort)
	require.Eventually(t, func() bool {
		res, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	wf := &model.WorkflowDefinition{
		Id:       "welcome",
		Name:     "welcome",
		IsActive: true,
		Triggers: []model.Trigger{{Id: "created", Type: model.TRIGGER_TYPE_EVENT, IsActive: true, Config: map[string]any{"event": "contact.created"}}},
		Steps:    []model.Step{{Id: "note", Type: model.STEP_TYPE_LOG, IsActive: true, Config: map[string]any{"message": "hi"}}},
	}
	require.NoError(t, a.Engine().RegisterWorkflow(context.Background(), wf))
	require.NoError(t, a.sources.Bus.Publish(context.Background(), "contact.created", map[string]any{"email": "a@x.io"}))
	require.Eventually(t, func() bool {
		execs := a.Engine().GetExecutions("welcome")
		return len(execs) == 1 && execs[0].Status == model.EXECUTION_COMPLETED
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
}

func TestAgentRejectsInvalidConfig(t *testing.T) {
	conf := config.Default()
	conf.StorageType = "cassandra"
	_, err := New(conf)
	require.Error(t, err)
}
