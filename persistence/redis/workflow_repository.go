package redis

import (
	"context"
	"errors"
	"sort"

	rd "github.com/redis/go-redis/v9"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/persistence"
	"github.com/rezenkai/crmflow/util"
)

var _ persistence.WorkflowRepository = new(redisWorkflowRepository)

// redisWorkflowRepository keeps every definition as a JSON field of one
// hash per namespace.
type redisWorkflowRepository struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.WorkflowDefinition]
}

func NewWorkflowRepository(client rd.UniversalClient, namespace string) *redisWorkflowRepository {
	return &redisWorkflowRepository{
		baseDao:        newBaseDao(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
	}
}

func (r *redisWorkflowRepository) key() string {
	return r.getNamespaceKey(persistence.WORKFLOW_DEF)
}

func (r *redisWorkflowRepository) Save(ctx context.Context, wf *model.WorkflowDefinition) error {
	data, err := r.encoderDecoder.Encode(*wf)
	if err != nil {
		return err
	}
	if err := r.redisClient.HSet(ctx, r.key(), wf.Id, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisWorkflowRepository) Delete(ctx context.Context, id string) error {
	if err := r.redisClient.HDel(ctx, r.key(), id).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisWorkflowRepository) Get(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	val, err := r.redisClient.HGet(ctx, r.key(), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.WorkflowNotFoundError{WorkflowID: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.encoderDecoder.Decode([]byte(val))
}

func (r *redisWorkflowRepository) List(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	vals, err := r.redisClient.HVals(ctx, r.key()).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defs, err := util.DecodeAll(r.encoderDecoder, vals)
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Id < defs[j].Id })
	return defs, nil
}
