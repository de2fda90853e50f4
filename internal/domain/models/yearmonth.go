package models

import (
	"fmt"
	"time"
)

const yearMonthLayout = "2006-01"

// YearMonth identifies a calendar month. Its String form is the monthly
// aggregate document id.
type YearMonth struct {
	Year  int
	Month time.Month
}

// YearMonthOf returns the month t falls in, in t's location.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse(yearMonthLayout, s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse year-month %q: %w", s, err)
	}
	return YearMonthOf(t), nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// IsZero reports whether ym is unset.
func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// Start returns the first instant of the month in loc.
func (ym YearMonth) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, loc)
}

// End returns the first instant of the following month in loc.
func (ym YearMonth) End(loc *time.Location) time.Time {
	return ym.Start(loc).AddDate(0, 1, 0)
}

// Contains reports whether t, read in loc, falls inside the month.
func (ym YearMonth) Contains(t time.Time, loc *time.Location) bool {
	return !t.Before(ym.Start(loc)) && t.Before(ym.End(loc))
}

// Prev returns the previous month.
func (ym YearMonth) Prev() YearMonth {
	return YearMonthOf(ym.Start(time.UTC).AddDate(0, -1, 0))
}

// Next returns the following month.
func (ym YearMonth) Next() YearMonth {
	return YearMonthOf(ym.Start(time.UTC).AddDate(0, 1, 0))
}

// Before orders months chronologically.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}
