package query

import (
	"fmt"
	"regexp"
	"strings"
)

// matchesFilter reports whether data satisfies filter. A nil or empty
// filter matches everything. Top-level keys are either a combinator
// ($and, $or, $not) or a dotted field path mapped to either a literal
// (equality) or an operator object such as {"$gt": 5}.
func matchesFilter(data any, filter map[string]any) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			if !matchesAll(data, asClauseList(cond)) {
				return false
			}
		case "$or":
			if !matchesAny(data, asClauseList(cond)) {
				return false
			}
		case "$not":
			if clause, ok := cond.(map[string]any); ok && matchesFilter(data, clause) {
				return false
			}
		default:
			value, exists := fieldByPath(data, key)
			if !matchesCondition(value, exists, cond) {
				return false
			}
		}
	}
	return true
}

func asClauseList(cond any) []map[string]any {
	raw, ok := cond.([]any)
	if !ok {
		return nil
	}
	clauses := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			clauses = append(clauses, m)
		}
	}
	return clauses
}

func matchesAll(data any, clauses []map[string]any) bool {
	for _, clause := range clauses {
		if !matchesFilter(data, clause) {
			return false
		}
	}
	return true
}

func matchesAny(data any, clauses []map[string]any) bool {
	if len(clauses) == 0 {
		return true
	}
	for _, clause := range clauses {
		if matchesFilter(data, clause) {
			return true
		}
	}
	return false
}

// matchesCondition evaluates one field's condition: either a bare literal
// (equality) or a map of operators, all of which must hold.
func matchesCondition(value any, exists bool, cond any) bool {
	ops, isOperatorForm := cond.(map[string]any)
	if !isOperatorForm {
		return exists && valuesEqual(value, cond)
	}
	for op, operand := range ops {
		if !evalOperator(op, value, exists, operand) {
			return false
		}
	}
	return true
}

func evalOperator(op string, value any, exists bool, operand any) bool {
	switch op {
	case "$exists":
		want, _ := operand.(bool)
		return exists == want
	case "$ne":
		return !exists || !valuesEqual(value, operand)
	case "$in":
		return exists && containsValue(operand, value)
	case "$nin":
		return !exists || !containsValue(operand, value)
	case "$gt", "$gte", "$lt", "$lte":
		_, vIsNum := asFloat(value)
		_, oIsNum := asFloat(operand)
		_, vIsStr := value.(string)
		_, oIsStr := operand.(string)
		if !exists || !(vIsNum && oIsNum || vIsStr && oIsStr) {
			return false
		}
		cmp := compareOrdered(value, operand)
		return op == "$gt" && cmp > 0 || op == "$gte" && cmp >= 0 || op == "$lt" && cmp < 0 || op == "$lte" && cmp <= 0
	case "$regex":
		pattern, ok := operand.(string)
		if !ok || !exists {
			return false
		}
		s, ok := value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		// Unknown operators never match, rather than silently passing
		// every document through.
		return false
	}
}

func containsValue(haystack any, needle any) bool {
	items, ok := haystack.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(item, needle) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// compareOrdered returns -1, 0, or 1 comparing value against operand,
// treating both as numbers when possible and falling back to string
// comparison otherwise. A value that can't be compared against operand's
// type is reported as less-than rather than panicking; evalOperator
// rejects such pairs before comparing, so an unsatisfiable ordered
// comparison fails the clause.
func compareOrdered(value, operand any) int {
	if vf, ok := asFloat(value); ok {
		if of, ok := asFloat(operand); ok {
			switch {
			case vf < of:
				return -1
			case vf > of:
				return 1
			default:
				return 0
			}
		}
	}
	vs, vIsString := value.(string)
	os, oIsString := operand.(string)
	if vIsString && oIsString {
		return strings.Compare(vs, os)
	}
	return -1
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// fieldByPath walks a dotted path ("a.b.c") through the nested objects of
// decoded JSON data and reports whether the path resolved to a value at
// all. Only maps are traversed: a segment that meets an array or any other
// non-object value leaves the path unresolved.
func fieldByPath(data any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	current := data
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}
