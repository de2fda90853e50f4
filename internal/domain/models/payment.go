package models

import (
	"time"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// PaymentCategory is the explicit classification of a payment record.
type PaymentCategory string

const (
	PaymentClass           PaymentCategory = "class"
	PaymentMembership      PaymentCategory = "membership"
	PaymentStaff           PaymentCategory = "staff_payment"
	PaymentProductPurchase PaymentCategory = "product_purchase"
	PaymentOther           PaymentCategory = "other"
)

// Valid reports whether c is one of the known categories.
func (c PaymentCategory) Valid() bool {
	switch c {
	case PaymentClass, PaymentMembership, PaymentStaff, PaymentProductPurchase, PaymentOther:
		return true
	}
	return false
}

// IsExpense reports whether the category is money going out.
func (c PaymentCategory) IsExpense() bool {
	return c == PaymentStaff || c == PaymentProductPurchase
}

// IncomeCategory maps an income payment onto the aggregate category it feeds.
// ok is false for expenses.
func (c PaymentCategory) IncomeCategory() (IncomeCategory, bool) {
	switch c {
	case PaymentClass:
		return IncomeClass, true
	case PaymentMembership:
		return IncomeMembership, true
	case PaymentOther:
		return IncomeOther, true
	}
	return "", false
}

// Payment document fields. transaction_type is the tag older records carry
// instead of category.
const (
	FieldPaymentAmount          = "amount"
	FieldPaymentCategory        = "category"
	FieldPaymentTransactionType = "transaction_type"
	FieldPaymentIsExpense       = "is_expense"
	FieldPaymentMethod          = "method"
	FieldPaymentPayee           = "payee"
	FieldPaymentNotes           = "notes"
	FieldPaymentTimestamp       = "timestamp"
	FieldPaymentRecordedBy      = "recorded_by"
)

// Payment is a money movement recorded outside the sales flow: class fees,
// memberships, salaries, supplier purchases.
type Payment struct {
	ID              string          `json:"id"`
	Amount          float64         `json:"amount"`
	Category        PaymentCategory `json:"category,omitempty"`
	TransactionType string          `json:"transaction_type,omitempty"`
	IsExpense       bool            `json:"is_expense"`
	Method          string          `json:"method,omitempty"`
	Payee           string          `json:"payee,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	RecordedBy      string          `json:"recorded_by,omitempty"`

	TimestampValid bool `json:"-"`
}

// PaymentFromDocument decodes a payment, counting malformed values in tally.
func PaymentFromDocument(doc map[string]any, tally *coerce.Tally) Payment {
	ts, ok := tally.Time(doc[FieldPaymentTimestamp])
	return Payment{
		ID:              coerce.String(doc["_id"]),
		Amount:          tally.Float(doc[FieldPaymentAmount]),
		Category:        PaymentCategory(coerce.String(doc[FieldPaymentCategory])),
		TransactionType: coerce.String(doc[FieldPaymentTransactionType]),
		IsExpense:       coerce.Bool(doc[FieldPaymentIsExpense]),
		Method:          coerce.String(doc[FieldPaymentMethod]),
		Payee:           coerce.String(doc[FieldPaymentPayee]),
		Notes:           coerce.String(doc[FieldPaymentNotes]),
		Timestamp:       ts,
		RecordedBy:      coerce.String(doc[FieldPaymentRecordedBy]),
		TimestampValid:  ok,
	}
}

// Document encodes the payment for storage.
func (p Payment) Document() map[string]any {
	doc := map[string]any{
		FieldPaymentAmount:    p.Amount,
		FieldPaymentCategory:  string(p.Category),
		FieldPaymentIsExpense: p.IsExpense,
		FieldPaymentMethod:    p.Method,
		FieldPaymentPayee:     p.Payee,
		FieldPaymentNotes:     p.Notes,
		FieldPaymentTimestamp: p.Timestamp,
	}
	if p.TransactionType != "" {
		doc[FieldPaymentTransactionType] = p.TransactionType
	}
	if p.RecordedBy != "" {
		doc[FieldPaymentRecordedBy] = p.RecordedBy
	}
	return doc
}
