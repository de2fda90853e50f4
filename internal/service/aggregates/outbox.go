package aggregates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

// Outbox sources.
const (
	SourceSale    = "sale"
	SourcePayment = "payment"
)

// NewEntry builds a pending credit for the record sourceID.
func NewEntry(ym models.YearMonth, category models.IncomeCategory, amount float64, source, sourceID string, now time.Time) models.OutboxEntry {
	return models.OutboxEntry{
		ID:        uuid.NewString(),
		YearMonth: ym,
		Month:     ym.String(),
		Category:  category,
		Amount:    amount,
		Source:    source,
		SourceID:  sourceID,
		Status:    models.OutboxPending,
		CreatedAt: now,
	}
}

// Enqueue stages entry inside the caller's transaction, next to the record
// that caused it. Like every write it must come after the caller's reads.
func Enqueue(ctx context.Context, tx docstore.Tx, entry models.OutboxEntry) error {
	if err := validateCredit(entry.YearMonth, entry.Category, entry.Amount); err != nil {
		return err
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: outbox entry id is required", ErrInvalidCredit)
	}
	return tx.Set(ctx, docstore.CollectionOutbox, entry.ID, entry.Document())
}

// Apply credits the aggregate for one outbox entry and marks it applied in
// the same transaction. An entry already applied is left alone, so Apply
// can be repeated safely. On failure the attempt is recorded on the entry and
// an *AggregateUpdateError is returned.
func (l *Ledger) Apply(ctx context.Context, entryID string) error {
	var entry models.OutboxEntry
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, docstore.CollectionOutbox, entryID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
			}
			return err
		}
		entry = models.OutboxEntryFromDocument(doc)
		if entry.Status == models.OutboxApplied {
			return nil
		}
		if err := validateCredit(entry.YearMonth, entry.Category, entry.Amount); err != nil {
			return err
		}

		exists, err := aggregateExists(ctx, tx, entry.YearMonth)
		if err != nil {
			return err
		}

		now := l.now().UTC()
		if err := stageCredit(ctx, tx, entry.YearMonth, entry.Category, entry.Amount, exists, now); err != nil {
			return err
		}
		return tx.Update(ctx, docstore.CollectionOutbox, entryID, docstore.Update{
			Inc: map[string]any{models.FieldOutboxAttempts: int64(1)},
			Set: map[string]any{
				models.FieldOutboxStatus:    string(models.OutboxApplied),
				models.FieldOutboxAppliedAt: now,
				models.FieldOutboxLastError: "",
			},
		})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEntryNotFound) {
		return err
	}

	l.recordFailure(ctx, entryID, err)
	l.logger.Warn("outbox entry not applied",
		zap.String("entry_id", entryID),
		zap.String("month", entry.Month),
		zap.String("category", string(entry.Category)),
		zap.Error(err))
	return &AggregateUpdateError{
		Month:    entry.YearMonth,
		Category: entry.Category,
		Amount:   entry.Amount,
		EntryID:  entryID,
		Err:      err,
	}
}

func (l *Ledger) recordFailure(ctx context.Context, entryID string, cause error) {
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Update(ctx, docstore.CollectionOutbox, entryID, docstore.Update{
			Inc: map[string]any{models.FieldOutboxAttempts: int64(1)},
			Set: map[string]any{models.FieldOutboxLastError: cause.Error()},
		})
	})
	if err != nil {
		l.logger.Error("failed to record outbox attempt", zap.String("entry_id", entryID), zap.Error(err))
	}
}

// ReplayResult counts the outcome of one replay pass.
type ReplayResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// ReplayPending applies every pending entry, oldest first. Failed entries
// stay pending for the next pass.
func (l *Ledger) ReplayPending(ctx context.Context) (ReplayResult, error) {
	entries, err := l.Pending(ctx, models.YearMonth{})
	if err != nil {
		return ReplayResult{}, err
	}

	var result ReplayResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := l.Apply(ctx, e.ID); err != nil {
			result.Failed++
			continue
		}
		result.Applied++
	}

	if len(entries) > 0 {
		l.logger.Info("outbox replayed", zap.Int("applied", result.Applied), zap.Int("failed", result.Failed))
	}
	return result, nil
}

// Pending lists the pending entries, oldest first. A non-zero ym restricts
// the list to that month.
func (l *Ledger) Pending(ctx context.Context, ym models.YearMonth) ([]models.OutboxEntry, error) {
	filter := docstore.Where(models.FieldOutboxStatus, docstore.OpEq, string(models.OutboxPending))
	if !ym.IsZero() {
		filter = filter.And(models.FieldOutboxYearMonth, docstore.OpEq, ym.String())
	}

	docs, err := l.store.Query(ctx, docstore.CollectionOutbox, filter)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}

	entries := make([]models.OutboxEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, models.OutboxEntryFromDocument(doc))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}
