package redis

import (
	"context"
	"testing"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/persistence"
	"github.com/stretchr/testify/require"
)

func TestNamespaceKey(t *testing.T) {
	repo := NewWorkflowRepository(NewClient(Config{Addrs: []string{"localhost:6379"}, Namespace: "crm"}), "crm")
	require.Equal(t, "crm:WF_DEF", repo.key())
}

func TestUnreachableRedisIsStorageError(t *testing.T) {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:       []string{"127.0.0.1:1"},
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	repo := NewWorkflowRepository(client, "test")
	ctx := context.Background()

	err := repo.Save(ctx, &model.WorkflowDefinition{Id: "wf1", Name: "wf1"})
	var se persistence.StorageLayerError
	require.ErrorAs(t, err, &se)

	_, err = repo.Get(ctx, "wf1")
	require.ErrorAs(t, err, &se)

	_, err = repo.List(ctx)
	require.ErrorAs(t, err, &se)
}
