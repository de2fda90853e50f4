package models

import (
	"time"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// IncomeCategory is a bucket of the monthly aggregate.
type IncomeCategory string

const (
	IncomeClass      IncomeCategory = "class"
	IncomeMembership IncomeCategory = "membership"
	IncomeProduct    IncomeCategory = "product"
	IncomeOther      IncomeCategory = "other"
)

// IncomeCategories lists every bucket in display order.
var IncomeCategories = []IncomeCategory{IncomeClass, IncomeMembership, IncomeProduct, IncomeOther}

// Valid reports whether c is a known bucket.
func (c IncomeCategory) Valid() bool {
	for _, known := range IncomeCategories {
		if c == known {
			return true
		}
	}
	return false
}

// TotalField is the document field holding the running amount of c.
func (c IncomeCategory) TotalField() string { return string(c) + "_total" }

// CountField is the document field holding the running transaction count of c.
func (c IncomeCategory) CountField() string { return string(c) + "_transactions" }

// Monthly aggregate document fields.
const (
	FieldAggregateYear              = "year"
	FieldAggregateMonth             = "month"
	FieldAggregateTotalAmount       = "total_amount"
	FieldAggregateTotalTransactions = "total_transactions"
	FieldCreatedAt                  = "created_at"
)

// CategoryTotal is the running sum of one bucket.
type CategoryTotal struct {
	Total        float64 `json:"total"`
	Transactions int     `json:"transactions"`
}

// MonthlyAggregate summarizes income for one calendar month. It is only ever
// changed through increments.
type MonthlyAggregate struct {
	YearMonth         YearMonth                        `json:"-"`
	ID                string                           `json:"id"`
	Categories        map[IncomeCategory]CategoryTotal `json:"categories"`
	TotalAmount       float64                          `json:"total_amount"`
	TotalTransactions int                              `json:"total_transactions"`
	UpdatedAt         time.Time                        `json:"updated_at,omitempty"`
}

// EmptyMonthlyAggregateDocument builds an aggregate with every total at zero.
func EmptyMonthlyAggregateDocument(ym YearMonth, now time.Time) map[string]any {
	doc := map[string]any{
		FieldAggregateYear:              int64(ym.Year),
		FieldAggregateMonth:             int64(ym.Month),
		FieldAggregateTotalAmount:       0.0,
		FieldAggregateTotalTransactions: int64(0),
		FieldCreatedAt:                  now,
		FieldUpdatedAt:                  now,
	}
	for _, c := range IncomeCategories {
		doc[c.TotalField()] = 0.0
		doc[c.CountField()] = int64(0)
	}
	return doc
}

// NewMonthlyAggregateDocument builds the document created on the first
// contribution of a month.
func NewMonthlyAggregateDocument(ym YearMonth, category IncomeCategory, amount float64, now time.Time) map[string]any {
	doc := EmptyMonthlyAggregateDocument(ym, now)
	doc[category.TotalField()] = amount
	doc[category.CountField()] = int64(1)
	doc[FieldAggregateTotalAmount] = amount
	doc[FieldAggregateTotalTransactions] = int64(1)
	return doc
}

// MonthlyAggregateFromDocument decodes an aggregate, counting malformed values.
// The month comes from the id when the year/month fields are unusable.
func MonthlyAggregateFromDocument(doc map[string]any, tally *coerce.Tally) MonthlyAggregate {
	id := coerce.String(doc["_id"])
	ym := YearMonth{
		Year:  coerce.Int(doc[FieldAggregateYear]),
		Month: time.Month(coerce.Int(doc[FieldAggregateMonth])),
	}
	if ym.Month < time.January || ym.Month > time.December || ym.Year <= 0 {
		ym, _ = ParseYearMonth(id)
	}

	agg := MonthlyAggregate{
		YearMonth:         ym,
		ID:                id,
		Categories:        make(map[IncomeCategory]CategoryTotal, len(IncomeCategories)),
		TotalAmount:       tally.Float(doc[FieldAggregateTotalAmount]),
		TotalTransactions: tally.Int(doc[FieldAggregateTotalTransactions]),
		UpdatedAt:         coerce.Time(doc[FieldUpdatedAt]),
	}
	for _, c := range IncomeCategories {
		agg.Categories[c] = CategoryTotal{
			Total:        tally.Float(doc[c.TotalField()]),
			Transactions: tally.Int(doc[c.CountField()]),
		}
	}
	return agg
}

// Category returns the running total of c.
func (a MonthlyAggregate) Category(c IncomeCategory) CategoryTotal {
	return a.Categories[c]
}
