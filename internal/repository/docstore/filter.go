package docstore

import (
	"strings"
	"time"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Condition compares one document field with a value.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions.
type Filter []Condition

// Where starts a filter.
func Where(field string, op Op, value any) Filter {
	return Filter{{Field: field, Op: op, Value: value}}
}

// And appends a condition.
func (f Filter) And(field string, op Op, value any) Filter {
	out := make(Filter, 0, len(f)+1)
	out = append(out, f...)
	return append(out, Condition{Field: field, Op: op, Value: value})
}

// Match evaluates the filter against doc. Stores without a native query
// language use it.
func (f Filter) Match(doc Document) bool {
	for _, c := range f {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (c Condition) match(doc Document) bool {
	actual, present := doc[c.Field]
	if !present {
		return c.Op == OpNe && c.Value != nil
	}

	cmp, comparable := compare(actual, c.Value)
	switch c.Op {
	case OpEq:
		return comparable && cmp == 0
	case OpNe:
		return !comparable || cmp != 0
	case OpGt:
		return comparable && cmp > 0
	case OpGte:
		return comparable && cmp >= 0
	case OpLt:
		return comparable && cmp < 0
	case OpLte:
		return comparable && cmp <= 0
	default:
		return false
	}
}

// compare orders numbers numerically, times chronologically and everything
// else as text. Values of different kinds are not comparable.
func compare(a, b any) (int, bool) {
	// Dates may be stored as epoch numbers or strings; a time.Time on either
	// side compares both sides as instants.
	_, aIsTime := a.(time.Time)
	_, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		ta, okA := coerce.TimeOK(a)
		tb, okB := coerce.TimeOK(b)
		if !okA || !okB {
			return 0, false
		}
		return ta.Compare(tb), true
	}

	if af, ok := coerce.FloatOK(a); ok && isNumber(a) {
		bf, ok := coerce.FloatOK(b)
		if !ok || !isNumber(b) {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
