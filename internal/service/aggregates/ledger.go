// Package aggregates maintains one income summary document per calendar month.
//
// Documents are created on the first contribution of a month and afterwards
// only changed through increments, so concurrent contributors never lose each
// other's updates. Credits caused by sales and payments travel through an
// outbox written in the same transaction as their source record; see Outbox.
package aggregates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/coerce"
	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

// Ledger credits and reads monthly aggregates.
type Ledger struct {
	store  docstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger wires a ledger over store.
func NewLedger(store docstore.Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// CreditCategory adds amount to category for the month in its own
// transaction. A failure is returned as *AggregateUpdateError.
func (l *Ledger) CreditCategory(ctx context.Context, ym models.YearMonth, category models.IncomeCategory, amount float64) error {
	if err := validateCredit(ym, category, amount); err != nil {
		return err
	}

	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		exists, err := aggregateExists(ctx, tx, ym)
		if err != nil {
			return err
		}
		return stageCredit(ctx, tx, ym, category, amount, exists, l.now().UTC())
	})
	if err != nil {
		l.logger.Warn("aggregate credit failed",
			zap.String("month", ym.String()),
			zap.String("category", string(category)),
			zap.Float64("amount", amount),
			zap.Error(err))
		return &AggregateUpdateError{Month: ym, Category: category, Amount: amount, Err: err}
	}

	l.logger.Debug("aggregate credited",
		zap.String("month", ym.String()),
		zap.String("category", string(category)),
		zap.Float64("amount", amount))
	return nil
}

// Get returns the aggregate of one month.
func (l *Ledger) Get(ctx context.Context, ym models.YearMonth) (*models.MonthlyAggregate, error) {
	doc, err := l.store.Get(ctx, docstore.CollectionAggregates, ym.String())
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, ym)
		}
		return nil, fmt.Errorf("load aggregate %s: %w", ym, err)
	}
	agg := models.MonthlyAggregateFromDocument(doc, nil)
	return &agg, nil
}

// List returns the aggregates between from and to inclusive, oldest first.
// A zero bound is open. Malformed stored values are counted in tally.
func (l *Ledger) List(ctx context.Context, from, to models.YearMonth, tally *coerce.Tally) ([]models.MonthlyAggregate, error) {
	var filter docstore.Filter
	if !from.IsZero() {
		filter = filter.And(docstore.IDField, docstore.OpGte, from.String())
	}
	if !to.IsZero() {
		filter = filter.And(docstore.IDField, docstore.OpLte, to.String())
	}

	docs, err := l.store.Query(ctx, docstore.CollectionAggregates, filter)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}

	out := make([]models.MonthlyAggregate, 0, len(docs))
	for _, doc := range docs {
		agg := models.MonthlyAggregateFromDocument(doc, tally)
		if agg.YearMonth.IsZero() {
			l.logger.Debug("skip aggregate with unusable month", zap.String("id", doc.ID()))
			continue
		}
		out = append(out, agg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].YearMonth.Before(out[j].YearMonth) })
	return out, nil
}

// Differences below driftTolerance are float noise, not drift.
const driftTolerance = 1e-6

// Adjustment is a signed correction of one category.
type Adjustment struct {
	Category     models.IncomeCategory `json:"category"`
	Amount       float64               `json:"amount"`
	Transactions int                   `json:"transactions"`
}

// Correct moves the stored totals of ym to expected using increments and
// returns the adjustments it applied. Categories missing from expected are
// taken as zero.
func (l *Ledger) Correct(ctx context.Context, ym models.YearMonth, expected map[models.IncomeCategory]models.CategoryTotal) ([]Adjustment, error) {
	var applied []Adjustment
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		applied = nil

		doc, err := tx.Get(ctx, docstore.CollectionAggregates, ym.String())
		exists := err == nil
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}

		var stored models.MonthlyAggregate
		if exists {
			stored = models.MonthlyAggregateFromDocument(doc, nil)
		}

		inc := map[string]any{}
		var amount float64
		var count int
		for _, c := range models.IncomeCategories {
			want := expected[c]
			have := stored.Category(c)
			adj := Adjustment{Category: c, Amount: want.Total - have.Total, Transactions: want.Transactions - have.Transactions}
			if math.Abs(adj.Amount) < driftTolerance && adj.Transactions == 0 {
				continue
			}
			applied = append(applied, adj)
			inc[c.TotalField()] = adj.Amount
			inc[c.CountField()] = int64(adj.Transactions)
			amount += adj.Amount
			count += adj.Transactions
		}
		if len(applied) == 0 {
			return nil
		}
		inc[models.FieldAggregateTotalAmount] = amount
		inc[models.FieldAggregateTotalTransactions] = int64(count)

		now := l.now().UTC()
		if !exists {
			fresh, err := docstore.ApplyUpdate(models.EmptyMonthlyAggregateDocument(ym, now), docstore.Update{Inc: inc})
			if err != nil {
				return err
			}
			return tx.Set(ctx, docstore.CollectionAggregates, ym.String(), fresh)
		}
		return tx.Update(ctx, docstore.CollectionAggregates, ym.String(), docstore.Update{
			Inc: inc,
			Set: map[string]any{models.FieldUpdatedAt: now},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("correct aggregate %s: %w", ym, err)
	}
	return applied, nil
}

func validateCredit(ym models.YearMonth, category models.IncomeCategory, amount float64) error {
	switch {
	case ym.IsZero():
		return fmt.Errorf("%w: month is required", ErrInvalidCredit)
	case !category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidCredit, category)
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return fmt.Errorf("%w: amount must be finite", ErrInvalidCredit)
	}
	return nil
}

func aggregateExists(ctx context.Context, tx docstore.Tx, ym models.YearMonth) (bool, error) {
	_, err := tx.Get(ctx, docstore.CollectionAggregates, ym.String())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	}
	return false, err
}

// stageCredit writes the credit. exists must come from a read in the same
// transaction so a concurrent creation shows up as a conflict.
func stageCredit(ctx context.Context, tx docstore.Tx, ym models.YearMonth, category models.IncomeCategory, amount float64, exists bool, now time.Time) error {
	if !exists {
		return tx.Set(ctx, docstore.CollectionAggregates, ym.String(),
			models.NewMonthlyAggregateDocument(ym, category, amount, now))
	}
	return tx.Update(ctx, docstore.CollectionAggregates, ym.String(), docstore.Update{
		Inc: map[string]any{
			category.TotalField():                  amount,
			category.CountField():                  int64(1),
			models.FieldAggregateTotalAmount:       amount,
			models.FieldAggregateTotalTransactions: int64(1),
		},
		Set: map[string]any{models.FieldUpdatedAt: now},
	})
}
