// Package payments records money movements outside the sales flow and owns
// their classification.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/identity"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
)

// ErrInvalidPayment rejects payments with a bad amount or category.
var ErrInvalidPayment = errors.New("invalid payment")

// PaymentRequest is the input of RecordPayment. A zero Timestamp means now.
// RecordedBy is set by the caller's transport, never decoded from a body.
type PaymentRequest struct {
	Amount     float64                `json:"amount"`
	Category   models.PaymentCategory `json:"category"`
	Method     string                 `json:"method"`
	Payee      string                 `json:"payee,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
	RecordedBy string                 `json:"-"`
}

// Receipt is a committed payment plus non-fatal problems.
type Receipt struct {
	Payment  models.Payment `json:"payment"`
	Warnings []error        `json:"-"`
}

// Service records and classifies payments.
type Service struct {
	store  docstore.Store
	ledger *aggregates.Ledger
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires a payment service.
func NewService(store docstore.Store, ledger *aggregates.Ledger, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, ledger: ledger, loc: loc, logger: logger, now: time.Now}
}

// RecordPayment stores a payment with an explicit category. Income payments
// credit the monthly aggregate through the outbox.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*Receipt, error) {
	switch {
	case !req.Category.Valid():
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidPayment, req.Category)
	case req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0):
		return nil, fmt.Errorf("%w: amount must be a positive number", ErrInvalidPayment)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	recordedBy := req.RecordedBy
	if recordedBy == "" {
		recordedBy = identity.CallerOr(ctx, identity.Anonymous)
	}

	payment := models.Payment{
		ID:             uuid.NewString(),
		Amount:         req.Amount,
		Category:       req.Category,
		IsExpense:      req.Category.IsExpense(),
		Method:         req.Method,
		Payee:          req.Payee,
		Notes:          req.Notes,
		Timestamp:      ts.UTC(),
		RecordedBy:     recordedBy,
		TimestampValid: true,
	}

	income, credits := req.Category.IncomeCategory()
	var entry models.OutboxEntry
	if credits {
		entry = aggregates.NewEntry(models.YearMonthOf(ts.In(s.loc)), income, payment.Amount,
			aggregates.SourcePayment, payment.ID, s.now().UTC())
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(ctx, docstore.CollectionPayments, payment.ID, payment.Document()); err != nil {
			return err
		}
		if !credits {
			return nil
		}
		return aggregates.Enqueue(ctx, tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	receipt := &Receipt{Payment: payment}
	if credits {
		if err := s.ledger.Apply(ctx, entry.ID); err != nil {
			receipt.Warnings = append(receipt.Warnings, err)
		}
	}

	s.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("category", string(payment.Category)),
		zap.Float64("amount", payment.Amount))
	return receipt, nil
}

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Scanned    int                            `json:"scanned"`
	Updated    int                            `json:"updated"`
	ByCategory map[models.PaymentCategory]int `json:"by_category"`
}

// Backfill writes an explicit category onto every stored payment that lacks
// one. With dryRun nothing is written. Aggregates are left alone; run the
// reconciliation afterwards to account for reclassified income.
func (s *Service) Backfill(ctx context.Context, dryRun bool) (BackfillResult, error) {
	docs, err := s.store.Query(ctx, docstore.CollectionPayments, nil)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("query payments: %w", err)
	}

	result := BackfillResult{ByCategory: make(map[models.PaymentCategory]int)}
	for _, doc := range docs {
		result.Scanned++
		p := models.PaymentFromDocument(doc, nil)
		if p.Category.Valid() {
			continue
		}

		category := Classify(p)
		result.ByCategory[category]++
		if dryRun {
			result.Updated++
			continue
		}

		updated, err := s.setCategory(ctx, p.ID, category)
		if err != nil {
			return result, err
		}
		if updated {
			result.Updated++
		}
	}

	s.logger.Info("payment backfill finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated))
	return result, nil
}

func (s *Service) setCategory(ctx context.Context, id string, category models.PaymentCategory) (bool, error) {
	updated := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		updated = false
		doc, err := tx.Get(ctx, docstore.CollectionPayments, id)
		if err != nil {
			return err
		}
		if models.PaymentFromDocument(doc, nil).Category.Valid() {
			return nil
		}
		updated = true
		return tx.Update(ctx, docstore.CollectionPayments, id, docstore.Update{
			Set: map[string]any{
				models.FieldPaymentCategory:  string(category),
				models.FieldPaymentIsExpense: category.IsExpense(),
			},
		})
	})
	if err != nil {
		return false, fmt.Errorf("backfill payment %s: %w", id, err)
	}
	return updated, nil
}
