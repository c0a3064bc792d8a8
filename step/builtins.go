package step

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rezenkai/crmflow/condition"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

// WaitHandler sleeps for config.duration (or config.delay) milliseconds,
// returning early with the context error when cancelled.
func WaitHandler() Handler {
	return HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins Instruction) (any, error) {
		ms, err := intParam(ins.Config, "duration", "delay")
		if err != nil {
			return nil, err
		}
		d := time.Duration(ms) * time.Millisecond
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return map[string]any{"waited": ms}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func LogHandler() Handler {
	return HandlerFunc(func(_ context.Context, _ *model.ExecutionContext, ins Instruction) (any, error) {
		msg := fmt.Sprintf("%v", ins.Config["message"])
		fields := []zap.Field{
			zap.String("workflow", ins.WorkflowID),
			zap.String("execution", ins.ExecutionID),
			zap.String("step", ins.Step.Id),
		}
		level, _ := ins.Config["level"].(string)
		switch strings.ToLower(level) {
		case "debug":
			logger.Debug(msg, fields...)
		case "warn", "warning":
			logger.Warn(msg, fields...)
		case "error":
			logger.Error(msg, fields...)
		default:
			level = "info"
			logger.Info(msg, fields...)
		}
		return map[string]any{"logged": true, "message": msg, "level": level}, nil
	})
}

// ConditionHandler evaluates config.conditions against the execution
// context. Later steps can branch on stepResults.<id>.result.
func ConditionHandler(evaluator *condition.Evaluator) Handler {
	return HandlerFunc(func(_ context.Context, execCtx *model.ExecutionContext, ins Instruction) (any, error) {
		var conds []model.Condition
		if raw, ok := ins.Step.Config["conditions"]; ok {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &conds); err != nil {
				return nil, fmt.Errorf("invalid conditions in step %s: %w", ins.Step.Id, err)
			}
		}
		return map[string]any{"result": evaluator.Evaluate(conds, execCtx)}, nil
	})
}

// RegisterBuiltins adds the handlers the engine provides itself.
func RegisterBuiltins(r *Registry, evaluator *condition.Evaluator) {
	r.Register(model.STEP_TYPE_WAIT, WaitHandler())
	r.Register(model.STEP_TYPE_LOG, LogHandler())
	r.Register(model.STEP_TYPE_CONDITION, ConditionHandler(evaluator))
}

func intParam(config map[string]any, keys ...string) (int64, error) {
	for _, k := range keys {
		v, ok := config[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case json.Number:
			return n.Int64()
		case string:
			var out int64
			if _, err := fmt.Sscan(n, &out); err != nil {
				return 0, fmt.Errorf("%s should be a number, got %q", k, n)
			}
			return out, nil
		default:
			return 0, fmt.Errorf("%s should be a number, got %T", k, v)
		}
	}
	return 0, fmt.Errorf("one of %s is required", strings.Join(keys, ", "))
}
