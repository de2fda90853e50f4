// Package reconcile detects and repairs drift between the monthly aggregates
// and the sales and payments they summarize.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/payments"
)

// Notifier delivers drift alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Result describes one reconciled month.
type Result struct {
	Month          string                  `json:"month"`
	Skipped        bool                    `json:"skipped"`
	PendingEntries int                     `json:"pending_entries"`
	Adjustments    []aggregates.Adjustment `json:"adjustments"`
}

// Drifted reports whether the month needed a correction.
func (r Result) Drifted() bool { return len(r.Adjustments) > 0 }

// Service recomputes aggregates from source records.
type Service struct {
	store    docstore.Store
	ledger   *aggregates.Ledger
	notifier Notifier
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a reconciler. notifier may be nil.
func NewService(store docstore.Store, ledger *aggregates.Ledger, notifier Notifier, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, ledger: ledger, notifier: notifier, loc: loc, logger: logger, now: time.Now}
}

// ReconcileMonth compares the stored aggregate of ym with the totals of its
// completed sales and income payments and corrects the difference. A month
// with pending outbox entries is skipped; the replay will settle it first.
func (s *Service) ReconcileMonth(ctx context.Context, ym models.YearMonth) (Result, error) {
	result := Result{Month: ym.String()}

	pending, err := s.ledger.Pending(ctx, ym)
	if err != nil {
		return result, err
	}
	if len(pending) > 0 {
		result.Skipped = true
		result.PendingEntries = len(pending)
		s.logger.Info("reconciliation skipped, outbox not drained",
			zap.String("month", ym.String()),
			zap.Int("pending", len(pending)))
		return result, nil
	}

	expected, err := s.expected(ctx, ym)
	if err != nil {
		return result, err
	}

	adjustments, err := s.ledger.Correct(ctx, ym, expected)
	if err != nil {
		return result, err
	}
	result.Adjustments = adjustments

	if result.Drifted() {
		s.logger.Warn("aggregate drift repaired",
			zap.String("month", ym.String()),
			zap.Any("adjustments", adjustments))
		s.notify(ctx, result)
	}
	return result, nil
}

// Run reconciles the current and the previous month.
func (s *Service) Run(ctx context.Context) ([]Result, error) {
	current := models.YearMonthOf(s.now().In(s.loc))
	return s.RunFrom(ctx, current.Prev())
}

// RunFrom reconciles every month from `from` up to the current one.
func (s *Service) RunFrom(ctx context.Context, from models.YearMonth) ([]Result, error) {
	current := models.YearMonthOf(s.now().In(s.loc))

	var results []Result
	for ym := from; !current.Before(ym); ym = ym.Next() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := s.ReconcileMonth(ctx, ym)
		if err != nil {
			return results, fmt.Errorf("reconcile %s: %w", ym, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Service) expected(ctx context.Context, ym models.YearMonth) (map[models.IncomeCategory]models.CategoryTotal, error) {
	totals := make(map[models.IncomeCategory]models.CategoryTotal, len(models.IncomeCategories))
	add := func(c models.IncomeCategory, amount float64) {
		t := totals[c]
		t.Total += amount
		t.Transactions++
		totals[c] = t
	}

	// Timestamps may be stored as dates, epoch numbers or strings and a missing
	// status means completed, so records are selected after decoding.
	saleDocs, err := s.store.Query(ctx, docstore.CollectionSales, nil)
	if err != nil {
		return nil, fmt.Errorf("load sales of %s: %w", ym, err)
	}
	for _, doc := range saleDocs {
		sale := models.SaleFromDocument(doc, nil)
		if sale.Status == models.SaleCompleted && sale.TimestampValid && ym.Contains(sale.Timestamp, s.loc) {
			add(models.IncomeProduct, sale.TotalAmount)
		}
	}

	paymentDocs, err := s.store.Query(ctx, docstore.CollectionPayments, nil)
	if err != nil {
		return nil, fmt.Errorf("load payments of %s: %w", ym, err)
	}
	for _, doc := range paymentDocs {
		p := models.PaymentFromDocument(doc, nil)
		if !p.TimestampValid || !ym.Contains(p.Timestamp, s.loc) {
			continue
		}
		if c, ok := payments.Classify(p).IncomeCategory(); ok {
			add(c, p.Amount)
		}
	}
	return totals, nil
}

func (s *Service) notify(ctx context.Context, r Result) {
	if s.notifier == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Aggregate drift repaired for %s:", r.Month)
	for _, a := range r.Adjustments {
		fmt.Fprintf(&b, "\n- %s: %+.2f (%+d transactions)", a.Category, a.Amount, a.Transactions)
	}
	if err := s.notifier.Notify(ctx, b.String()); err != nil {
		s.logger.Error("failed to send drift alert", zap.String("month", r.Month), zap.Error(err))
	}
}
