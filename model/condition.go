package model

import (
	"fmt"
	"strings"
)

type Operator string

const OP_EQUALS Operator = "equals"
const OP_NOT_EQUALS Operator = "not_equals"
const OP_CONTAINS Operator = "contains"
const OP_NOT_CONTAINS Operator = "not_contains"
const OP_GREATER_THAN Operator = "greater_than"
const OP_LESS_THAN Operator = "less_than"
const OP_GREATER_OR_EQUAL Operator = "greater_or_equal"
const OP_LESS_OR_EQUAL Operator = "less_or_equal"
const OP_EXISTS Operator = "exists"
const OP_NOT_EXISTS Operator = "not_exists"
const OP_IN Operator = "in"
const OP_NOT_IN Operator = "not_in"
const OP_STARTS_WITH Operator = "starts_with"
const OP_ENDS_WITH Operator = "ends_with"
const OP_MATCHES Operator = "matches"
const OP_SCRIPT Operator = "script"

var Operators = []Operator{
	OP_EQUALS, OP_NOT_EQUALS, OP_CONTAINS, OP_NOT_CONTAINS,
	OP_GREATER_THAN, OP_LESS_THAN, OP_GREATER_OR_EQUAL, OP_LESS_OR_EQUAL,
	OP_EXISTS, OP_NOT_EXISTS, OP_IN, OP_NOT_IN,
	OP_STARTS_WITH, OP_ENDS_WITH, OP_MATCHES, OP_SCRIPT,
}

type LogicalOperator string

const LOGICAL_AND LogicalOperator = "AND"
const LOGICAL_OR LogicalOperator = "OR"

// Condition compares the value found at Field against Value. The script
// operator ignores Field and Value and evaluates Expression instead.
// LogicalOperator joins this condition to the result of the ones before it.
type Condition struct {
	Field           string          `json:"field"`
	Operator        Operator        `json:"operator"`
	Value           any             `json:"value,omitempty"`
	Expression      string          `json:"expression,omitempty"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
}

func (c Condition) Logical() LogicalOperator {
	if LogicalOperator(strings.ToUpper(string(c.LogicalOperator))) == LOGICAL_OR {
		return LOGICAL_OR
	}
	return LOGICAL_AND
}

func (c Condition) Validate() error {
	known := false
	for _, op := range Operators {
		if c.Operator == op {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	switch LogicalOperator(strings.ToUpper(string(c.LogicalOperator))) {
	case "", LOGICAL_AND, LOGICAL_OR:
	default:
		return fmt.Errorf("unknown logical operator %q", c.LogicalOperator)
	}
	if c.Operator == OP_SCRIPT {
		if len(strings.TrimSpace(c.Expression)) == 0 {
			return fmt.Errorf("script condition needs an expression")
		}
		return nil
	}
	if len(strings.TrimSpace(c.Field)) == 0 {
		return fmt.Errorf("condition field can not be empty")
	}
	return nil
}
