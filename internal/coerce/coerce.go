// Package coerce converts loosely typed document values into numbers, times and
// strings. Every value read from the document store goes through here before
// arithmetic or sorting, so one malformed record cannot poison a computation.
package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FloatOK returns v as a finite float64. ok is false when v is missing,
// non-numeric, NaN or infinite; the returned value is then 0.
func FloatOK(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Float is FloatOK without the flag.
func Float(v any) float64 {
	f, _ := FloatOK(v)
	return f
}

// Int truncates Float(v) toward zero.
func Int(v any) int {
	f := Float(v)
	if f >= float64(math.MaxInt64) || f <= float64(math.MinInt64) {
		return 0
	}
	return int(f)
}

// TimeOK parses time.Time values, RFC3339 and date-only strings, and unix
// seconds or milliseconds. ok is false for anything else, including the zero time.
func TimeOK(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	}

	n, ok := FloatOK(v)
	if !ok || n <= 0 {
		return time.Time{}, false
	}
	// values past year 2286 in seconds are taken as milliseconds
	if n > 1e10 {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Unix(int64(n), 0).UTC(), true
}

// Time is TimeOK without the flag.
func Time(v any) time.Time {
	t, _ := TimeOK(v)
	return t
}

// String renders scalars as text; nil becomes "".
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool accepts booleans and the usual textual spellings.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		return Float(v) != 0
	}
}

// Tally counts values that were present but could not be coerced. Missing
// values are not counted. A nil *Tally is valid and counts nothing.
type Tally struct {
	Numbers int
	Dates   int
}

// Float coerces v and records a failure.
func (t *Tally) Float(v any) float64 {
	f, ok := FloatOK(v)
	if !ok && v != nil && t != nil {
		t.Numbers++
	}
	return f
}

// Int coerces v and records a failure.
func (t *Tally) Int(v any) int {
	_, ok := FloatOK(v)
	if !ok && v != nil && t != nil {
		t.Numbers++
	}
	return Int(v)
}

// Time coerces v and records a failure.
func (t *Tally) Time(v any) (time.Time, bool) {
	parsed, ok := TimeOK(v)
	if !ok && v != nil && t != nil {
		t.Dates++
	}
	return parsed, ok
}

// Add folds other into t.
func (t *Tally) Add(other Tally) {
	if t == nil {
		return
	}
	t.Numbers += other.Numbers
	t.Dates += other.Dates
}
