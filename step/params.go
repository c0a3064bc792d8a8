package step

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`{(\$[^{}]*)}`)

// ResolveParams returns a copy of params with every {$.path} token replaced
// by the value found at that path in data. A string made of a single token
// takes the raw value, so numbers and objects keep their type. Tokens that
// do not resolve become empty.
func ResolveParams(params map[string]any, data map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, data)
	}
	return out
}

func resolveValue(v any, data map[string]any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveParams(val, data)
	case []any:
		list := make([]any, 0, len(val))
		for _, item := range val {
			list = append(list, resolveValue(item, data))
		}
		return list
	case string:
		return resolveString(val, data)
	default:
		return v
	}
}

func resolveString(s string, data map[string]any) any {
	matches := tokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		value, err := jsonpath.JsonPathLookup(data, s[matches[0][2]:matches[0][3]])
		if err != nil {
			return nil
		}
		return value
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		value, err := jsonpath.JsonPathLookup(data, s[m[2]:m[3]])
		if err == nil && value != nil {
			b.WriteString(fmt.Sprintf("%v", value))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
