package aggregates

import (
	"errors"
	"fmt"

	"github.com/mamadbah2/gymledger/internal/domain/models"
)

var (
	// ErrAggregateUpdateFailed marks a credit that did not land. The record
	// that caused it is already committed.
	ErrAggregateUpdateFailed = errors.New("aggregate update failed")
	// ErrAggregateNotFound is returned by Get for a month without contributions.
	ErrAggregateNotFound = errors.New("monthly aggregate not found")
	// ErrInvalidCredit rejects unknown categories and non-finite amounts.
	ErrInvalidCredit = errors.New("invalid aggregate credit")
	// ErrEntryNotFound is returned when an outbox entry id is unknown.
	ErrEntryNotFound = errors.New("outbox entry not found")
)

// AggregateUpdateError describes a credit that failed after its source
// record committed. The outbox entry stays pending and is replayed later.
type AggregateUpdateError struct {
	Month    models.YearMonth
	Category models.IncomeCategory
	Amount   float64
	EntryID  string
	Err      error
}

func (e *AggregateUpdateError) Error() string {
	return fmt.Sprintf("aggregate update failed for %s/%s (%.2f, entry %s): %v",
		e.Month, e.Category, e.Amount, e.EntryID, e.Err)
}

func (e *AggregateUpdateError) Unwrap() []error {
	return []error{ErrAggregateUpdateFailed, e.Err}
}
