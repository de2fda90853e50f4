package models

import (
	"time"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// OutboxStatus tracks whether a queued aggregate credit has landed.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxApplied OutboxStatus = "applied"
)

// Outbox entry document fields.
const (
	FieldOutboxYearMonth = "year_month"
	FieldOutboxCategory  = "category"
	FieldOutboxAmount    = "amount"
	FieldOutboxSource    = "source"
	FieldOutboxSourceID  = "source_id"
	FieldOutboxStatus    = "status"
	FieldOutboxAttempts  = "attempts"
	FieldOutboxLastError = "last_error"
	FieldOutboxAppliedAt = "applied_at"
)

// OutboxEntry is an aggregate credit written in the same transaction as the
// record that caused it, and applied afterwards.
type OutboxEntry struct {
	ID        string         `json:"id"`
	YearMonth YearMonth      `json:"-"`
	Month     string         `json:"year_month"`
	Category  IncomeCategory `json:"category"`
	Amount    float64        `json:"amount"`
	Source    string         `json:"source"`
	SourceID  string         `json:"source_id"`
	Status    OutboxStatus   `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	AppliedAt time.Time      `json:"applied_at,omitempty"`
}

// OutboxEntryFromDocument decodes an outbox entry.
func OutboxEntryFromDocument(doc map[string]any) OutboxEntry {
	month := coerce.String(doc[FieldOutboxYearMonth])
	ym, _ := ParseYearMonth(month)
	return OutboxEntry{
		ID:        coerce.String(doc["_id"]),
		YearMonth: ym,
		Month:     month,
		Category:  IncomeCategory(coerce.String(doc[FieldOutboxCategory])),
		Amount:    coerce.Float(doc[FieldOutboxAmount]),
		Source:    coerce.String(doc[FieldOutboxSource]),
		SourceID:  coerce.String(doc[FieldOutboxSourceID]),
		Status:    OutboxStatus(coerce.String(doc[FieldOutboxStatus])),
		Attempts:  coerce.Int(doc[FieldOutboxAttempts]),
		LastError: coerce.String(doc[FieldOutboxLastError]),
		CreatedAt: coerce.Time(doc[FieldCreatedAt]),
		AppliedAt: coerce.Time(doc[FieldOutboxAppliedAt]),
	}
}

// Document encodes a new entry for storage.
func (e OutboxEntry) Document() map[string]any {
	return map[string]any{
		FieldOutboxYearMonth: e.YearMonth.String(),
		FieldOutboxCategory:  string(e.Category),
		FieldOutboxAmount:    e.Amount,
		FieldOutboxSource:    e.Source,
		FieldOutboxSourceID:  e.SourceID,
		FieldOutboxStatus:    string(e.Status),
		FieldOutboxAttempts:  int64(e.Attempts),
		FieldCreatedAt:       e.CreatedAt,
	}
}
