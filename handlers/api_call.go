package handlers

import (
	"context"
	"fmt"

	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/step"
)

// APICallHandler calls config.url with config.method, config.headers and
// config.body and returns {status, body}.
func APICallHandler(caller *HTTPCaller) step.Handler {
	return step.HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins step.Instruction) (any, error) {
		target, _ := ins.Config["url"].(string)
		if target == "" {
			return nil, fmt.Errorf("step %s: url is required", ins.Step.Id)
		}
		method, _ := ins.Config["method"].(string)
		resp, err := caller.Do(ctx, Request{
			Method:  method,
			URL:     target,
			Headers: stringMap(ins.Config["headers"]),
			Body:    ins.Config["body"],
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": resp.Status, "body": resp.Body}, nil
	})
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}
