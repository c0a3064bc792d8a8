package condition

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/oliveagle/jsonpath"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"go.uber.org/zap"
)

const DEFAULT_SCRIPT_TIMEOUT = time.Second

// Evaluator evaluates step and trigger conditions against an execution
// context. It is safe for concurrent use.
type Evaluator struct {
	programs      sync.Map
	scriptTimeout time.Duration
}

func NewEvaluator() *Evaluator {
	return NewEvaluatorWithTimeout(DEFAULT_SCRIPT_TIMEOUT)
}

// NewEvaluatorWithTimeout bounds how long a script condition may run
// before it is interrupted and counted as false.
func NewEvaluatorWithTimeout(scriptTimeout time.Duration) *Evaluator {
	if scriptTimeout <= 0 {
		scriptTimeout = DEFAULT_SCRIPT_TIMEOUT
	}
	return &Evaluator{scriptTimeout: scriptTimeout}
}

// Evaluate folds the conditions left to right, joining each one to the
// running result with its logical operator. An empty list is true. A
// condition that can not be evaluated counts as false.
func (e *Evaluator) Evaluate(conds []model.Condition, ctx *model.ExecutionContext) bool {
	if len(conds) == 0 {
		return true
	}
	if ctx == nil {
		ctx = &model.ExecutionContext{}
	}
	data := ctx.Data()
	result := e.evaluateOne(conds[0], data)
	for _, c := range conds[1:] {
		if c.Logical() == model.LOGICAL_OR {
			if result {
				continue
			}
			result = e.evaluateOne(c, data)
		} else {
			if !result {
				continue
			}
			result = e.evaluateOne(c, data)
		}
	}
	return result
}

func (e *Evaluator) evaluateOne(c model.Condition, data map[string]any) bool {
	ok, err := e.Check(c, data)
	if err != nil {
		logger.Warn("condition evaluation failed, treating as false", zap.Error(err))
		return false
	}
	return ok
}

// Check evaluates a single condition. Failures are returned as
// model.ConditionEvaluationError.
func (e *Evaluator) Check(c model.Condition, data map[string]any) (bool, error) {
	if c.Operator == model.OP_SCRIPT {
		ok, err := e.runScript(c.Expression, data)
		if err != nil {
			return false, model.ConditionEvaluationError{Field: c.Field, Operator: c.Operator, Err: err}
		}
		return ok, nil
	}
	op, ok := operators[c.Operator]
	if !ok {
		return false, model.ConditionEvaluationError{Field: c.Field, Operator: c.Operator, Err: errUnknownOperator}
	}
	actual, found := Lookup(data, c.Field)
	res, err := op(actual, found, c.Value)
	if err != nil {
		return false, model.ConditionEvaluationError{Field: c.Field, Operator: c.Operator, Err: err}
	}
	return res, nil
}

// Lookup resolves a jsonpath against data. Paths without the leading $
// are treated as rooted, so inputData.lead and $.inputData.lead match.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	val, err := jsonpath.JsonPathLookup(data, path)
	if err != nil {
		return nil, false
	}
	return val, true
}

func (e *Evaluator) runScript(expression string, data map[string]any) (bool, error) {
	prg, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	vm := goja.New()
	if err := vm.Set("$", data); err != nil {
		return false, err
	}
	timer := time.AfterFunc(e.scriptTimeout, func() {
		vm.Interrupt("condition timeout")
	})
	defer timer.Stop()
	val, err := vm.RunProgram(prg)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return false, fmt.Errorf("script did not finish within %s", e.scriptTimeout)
		}
		return false, err
	}
	return val.ToBoolean(), nil
}

func (e *Evaluator) compile(expression string) (*goja.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(*goja.Program), nil
	}
	prg, err := goja.Compile("condition", expression, true)
	if err != nil {
		return nil, err
	}
	e.programs.Store(expression, prg)
	return prg, nil
}
