package memory

import (
	"context"
	"testing"

	"github.com/rezenkai/crmflow/model"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepository()
	wf := &model.WorkflowDefinition{Id: "b", Name: "b", Steps: []model.Step{{Id: "s", Type: model.STEP_TYPE_LOG}}}
	require.NoError(t, repo.Save(ctx, wf))
	require.NoError(t, repo.Save(ctx, &model.WorkflowDefinition{Id: "a", Name: "a"}))

	wf.Name = "changed"
	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "b", got.Name)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].Id)

	require.NoError(t, repo.Delete(ctx, "b"))
	require.NoError(t, repo.Delete(ctx, "b"))
	_, err = repo.Get(ctx, "b")
	require.True(t, model.IsNotFound(err))
}
