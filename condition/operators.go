package condition

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/rezenkai/crmflow/model"
)

var errUnknownOperator = errors.New("unknown operator")

type operatorFunc func(actual any, found bool, expected any) (bool, error)

var operators = map[model.Operator]operatorFunc{
	model.OP_EQUALS:     func(a any, _ bool, e any) (bool, error) { return equal(a, e), nil },
	model.OP_NOT_EQUALS: func(a any, _ bool, e any) (bool, error) { return !equal(a, e), nil },
	model.OP_CONTAINS:   contains,
	model.OP_NOT_CONTAINS: func(a any, found bool, e any) (bool, error) {
		ok, err := contains(a, found, e)
		return !ok, err
	},
	model.OP_GREATER_THAN:     compare(func(c int) bool { return c > 0 }),
	model.OP_LESS_THAN:        compare(func(c int) bool { return c < 0 }),
	model.OP_GREATER_OR_EQUAL: compare(func(c int) bool { return c >= 0 }),
	model.OP_LESS_OR_EQUAL:    compare(func(c int) bool { return c <= 0 }),
	model.OP_EXISTS:           func(a any, found bool, _ any) (bool, error) { return found && a != nil, nil },
	model.OP_NOT_EXISTS:       func(a any, found bool, _ any) (bool, error) { return !found || a == nil, nil },
	model.OP_IN:               in,
	model.OP_NOT_IN: func(a any, found bool, e any) (bool, error) {
		ok, err := in(a, found, e)
		return !ok, err
	},
	model.OP_STARTS_WITH: stringOp(strings.HasPrefix),
	model.OP_ENDS_WITH:   stringOp(strings.HasSuffix),
	model.OP_MATCHES:     matches,
}

// ValidOperator reports whether op can be evaluated.
func ValidOperator(op model.Operator) bool {
	if op == model.OP_SCRIPT {
		return true
	}
	_, ok := operators[op]
	return ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func isNumber(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := toFloat(v)
	return ok
}

func equal(a, e any) bool {
	if a == nil || e == nil {
		return a == nil && e == nil
	}
	if isNumber(a) || isNumber(e) {
		af, aok := toFloat(a)
		ef, eok := toFloat(e)
		if aok && eok {
			return af == ef
		}
	}
	switch a.(type) {
	case map[string]any, []any:
		return reflect.DeepEqual(a, e)
	}
	return fmt.Sprint(a) == fmt.Sprint(e)
}

func contains(a any, found bool, e any) (bool, error) {
	if !found || a == nil {
		return false, nil
	}
	switch v := a.(type) {
	case string:
		return strings.Contains(v, fmt.Sprint(e)), nil
	case []any:
		for _, item := range v {
			if equal(item, e) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := v[fmt.Sprint(e)]
		return ok, nil
	}
	return false, fmt.Errorf("contains is not supported on %T", a)
}

func compare(accept func(int) bool) operatorFunc {
	return func(a any, found bool, e any) (bool, error) {
		if !found || a == nil {
			return false, nil
		}
		af, aok := toFloat(a)
		ef, eok := toFloat(e)
		if aok && eok {
			switch {
			case af > ef:
				return accept(1), nil
			case af < ef:
				return accept(-1), nil
			}
			return accept(0), nil
		}
		as, aok := a.(string)
		es, eok := e.(string)
		if aok && eok {
			return accept(strings.Compare(as, es)), nil
		}
		return false, fmt.Errorf("can not compare %T with %T", a, e)
	}
}

func in(a any, found bool, e any) (bool, error) {
	list, ok := e.([]any)
	if !ok {
		rv := reflect.ValueOf(e)
		if e == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return false, fmt.Errorf("in expects a list value, got %T", e)
		}
		list = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			list[i] = rv.Index(i).Interface()
		}
	}
	if !found {
		return false, nil
	}
	for _, item := range list {
		if equal(a, item) {
			return true, nil
		}
	}
	return false, nil
}

func stringOp(fn func(s, part string) bool) operatorFunc {
	return func(a any, found bool, e any) (bool, error) {
		if !found || a == nil {
			return false, nil
		}
		return fn(fmt.Sprint(a), fmt.Sprint(e)), nil
	}
}

func matches(a any, found bool, e any) (bool, error) {
	pattern, ok := e.(string)
	if !ok {
		return false, fmt.Errorf("matches expects a string pattern, got %T", e)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	if !found || a == nil {
		return false, nil
	}
	return re.MatchString(fmt.Sprint(a)), nil
}
