package persistence

import (
	"context"
	"fmt"

	"github.com/rezenkai/crmflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

func (e StorageLayerError) Code() string {
	return "STORAGE_ERROR"
}

const WORKFLOW_DEF string = "WF_DEF"

// WorkflowRepository persists workflow definitions. Get returns
// model.WorkflowNotFoundError for an unknown id.
type WorkflowRepository interface {
	Save(ctx context.Context, wf *model.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	List(ctx context.Context) ([]*model.WorkflowDefinition, error)
}
