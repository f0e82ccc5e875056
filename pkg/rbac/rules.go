package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// UserIDPlaceholder in a rule value is replaced by the requesting user's ID
const UserIDPlaceholder = "$userId"

func validOperator(op Operator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpExpression:
		return true
	}
	return false
}

// ruleEvaluator matches context rules against request attributes. CEL
// programs are compiled once per expression and shared.
type ruleEvaluator struct {
	env      *cel.Env
	programs sync.Map
}

func newRuleEvaluator() (*ruleEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("userId", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &ruleEvaluator{env: env}, nil
}

// compile returns the cached program for expr
func (e *ruleEvaluator) compile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	e.programs.Store(expr, program)
	return program, nil
}

// Check validates a rule before it is stored
func (e *ruleEvaluator) Check(rule ContextRule) error {
	if !validOperator(rule.Operator) {
		return fmt.Errorf("invalid context rule operator %q", rule.Operator)
	}
	if rule.Operator == OpExpression {
		if _, err := e.compile(rule.Value); err != nil {
			return fmt.Errorf("invalid context rule expression: %w", err)
		}
	}
	return nil
}

// Matches reports whether rule's condition holds. A missing attribute never
// matches. Expression errors are returned so the caller can fail closed.
func (e *ruleEvaluator) Matches(rule ContextRule, userID string, attrs map[string]interface{}) (bool, error) {
	if rule.Operator == OpExpression {
		return e.evalExpression(rule.Value, userID, attrs)
	}

	actual, ok := lookupPath(attrs, rule.Attribute)
	if !ok {
		return false, nil
	}

	expected := rule.Value
	if expected == UserIDPlaceholder {
		expected = userID
	}

	switch rule.Operator {
	case OpEquals:
		return valuesEqual(actual, expected), nil
	case OpNotEquals:
		return !valuesEqual(actual, expected), nil
	case OpContains:
		return valueContains(actual, expected), nil
	case OpGreaterThan, OpLessThan:
		a, okA := toFloat(actual)
		b, okB := toFloat(expected)
		if !okA || !okB {
			return false, nil
		}
		if rule.Operator == OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	}

	return false, fmt.Errorf("invalid context rule operator %q", rule.Operator)
}

func (e *ruleEvaluator) evalExpression(expr, userID string, attrs map[string]interface{}) (bool, error) {
	program, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]interface{}{
		"ctx":    attrs,
		"userId": userID,
	})
	if err != nil {
		return false, err
	}

	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a bool", expr)
	}
	return v, nil
}

// contextAttributes flattens a PermissionContext into the attribute map
// rules address. Unset fields are absent, not empty.
func contextAttributes(pc *PermissionContext) map[string]interface{} {
	attrs := make(map[string]interface{})
	if pc == nil {
		return attrs
	}

	set := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}
	set("resourceId", pc.ResourceID)
	set("resourceType", pc.ResourceType)
	set("resourceOwner", pc.ResourceOwner)
	set("teamId", pc.TeamID)
	set("departmentId", pc.DepartmentID)
	if pc.Metadata != nil {
		attrs["metadata"] = pc.Metadata
	}

	return attrs
}

// lookupPath resolves a dotted path such as "metadata.deal.amount"
func lookupPath(attrs map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = attrs
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func valuesEqual(actual interface{}, expected string) bool {
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(expected); ok {
			return a == b
		}
	}
	return fmt.Sprint(actual) == expected
}

func valueContains(actual interface{}, expected string) bool {
	if s, ok := actual.(string); ok {
		return strings.Contains(s, expected)
	}

	v := reflect.ValueOf(actual)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if valuesEqual(v.Index(i).Interface(), expected) {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
