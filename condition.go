package trigger

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/goliatone/go-errors"
)

// Operator is the comparison applied by a condition.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpContains  Operator = "contains"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
)

var validOperators = map[Operator]bool{
	OpEquals:    true,
	OpContains:  true,
	OpGt:        true,
	OpLt:        true,
	OpIn:        true,
	OpNotIn:     true,
	OpExists:    true,
	OpNotExists: true,
}

// Condition is one field/operator/value predicate evaluated against event
// data. Conditions are immutable once constructed; the operator is validated
// at construction time, never at evaluation.
type Condition struct {
	field    string
	operator Operator
	value    any
}

// NewCondition builds a condition, rejecting unknown operators.
func NewCondition(field string, operator Operator, value any) (Condition, error) {
	if field == "" {
		return Condition{}, errors.New("condition field is required", errors.CategoryValidation).
			WithTextCode(ErrCodeInvalidOperator)
	}
	if !validOperators[operator] {
		return Condition{}, ErrInvalidOperator.Clone().
			WithMetadata(map[string]any{"operator": string(operator), "field": field})
	}
	return Condition{field: field, operator: operator, value: value}, nil
}

// MustCondition is a construction helper for static condition tables.
func MustCondition(field string, operator Operator, value any) Condition {
	c, err := NewCondition(field, operator, value)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Condition) Field() string      { return c.field }
func (c Condition) Operator() Operator { return c.operator }
func (c Condition) Value() any         { return c.value }

// ToMap serializes the condition for persistence.
func (c Condition) ToMap() map[string]any {
	return map[string]any{
		"field":    c.field,
		"operator": string(c.operator),
		"value":    c.value,
	}
}

// ConditionFromMap rebuilds a condition from its persisted form.
func ConditionFromMap(m map[string]any) (Condition, error) {
	field, _ := m["field"].(string)
	op, _ := m["operator"].(string)
	return NewCondition(field, Operator(op), m["value"])
}

// Evaluate resolves the condition field against data and applies the
// operator. A missing path segment yields an absent value, not an error;
// errors are reserved for predicates that cannot be applied at all, such as
// an `in` operator whose target value is not a list.
func (c Condition) Evaluate(data map[string]any) (bool, error) {
	got, found := resolvePath(data, c.field)

	switch c.operator {
	case OpExists:
		return found, nil
	case OpNotExists:
		return !found, nil
	case OpEquals:
		if !found {
			return false, nil
		}
		return looseEqual(got, c.value), nil
	case OpContains:
		if !found {
			return false, nil
		}
		return strings.Contains(stringify(got), stringify(c.value)), nil
	case OpGt, OpLt:
		if !found {
			return false, nil
		}
		want, err := toFloat(c.value)
		if err != nil {
			return false, errors.Wrap(err, errors.CategoryValidation, "condition value is not numeric").
				WithTextCode(ErrCodeMatchEvaluation).
				WithMetadata(map[string]any{"field": c.field, "operator": string(c.operator)})
		}
		have, err := toFloat(got)
		if err != nil {
			return false, nil
		}
		if c.operator == OpGt {
			return have > want, nil
		}
		return have < want, nil
	case OpIn:
		list, ok := toList(c.value)
		if !ok {
			return false, errors.New("in operator requires a list value", errors.CategoryValidation).
				WithTextCode(ErrCodeMatchEvaluation).
				WithMetadata(map[string]any{"field": c.field, "value": fmt.Sprintf("%T", c.value)})
		}
		if !found {
			return false, nil
		}
		return containsValue(list, got), nil
	case OpNotIn:
		list, ok := toList(c.value)
		if !ok {
			// a non-list target can never contain the value
			return true, nil
		}
		if !found {
			return true, nil
		}
		return !containsValue(list, got), nil
	}
	return false, ErrInvalidOperator.Clone().
		WithMetadata(map[string]any{"operator": string(c.operator)})
}

// resolvePath walks nested string-keyed maps following dot-separated
// segments. Any missing segment or non-map intermediate reports absent.
// An explicit nil leaf still counts as present.
func resolvePath(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = data
	for _, seg := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares numbers across Go numeric types (decoded JSON and
// YAML disagree on int vs float64) and everything else strictly.
func looseEqual(a, b any) bool {
	if fa, aok := numericValue(a); aok {
		fb, bok := numericValue(b)
		return bok && fa == fb
	}
	if _, bok := numericValue(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b) || stringifyComparable(a, b)
}

// numericValue reports v as float64 for Go numeric types only; strings are
// never coerced.
func numericValue(v any) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := toFloat(v)
		return f, err == nil
	}
	return 0, false
}

// stringifyComparable handles the string/[]byte crossover without folding
// every type through fmt.
func stringifyComparable(a, b any) bool {
	ab, aok := a.([]byte)
	bs, bok := b.(string)
	if aok && bok {
		return string(ab) == bs
	}
	as, aok := a.(string)
	bb, bok := b.([]byte)
	if aok && bok {
		return as == string(bb)
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("value %T is not numeric", v)
	}
}

func toList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if looseEqual(item, v) {
			return true
		}
	}
	return false
}
