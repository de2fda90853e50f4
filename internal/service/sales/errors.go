package sales

import (
	"errors"
	"fmt"

	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/inventory"
)

// Errors returned by RecordSale. ErrBuyerNotFound and ErrAggregateUpdateFailed
// only ever appear as receipt warnings.
var (
	ErrProductNotFound       = inventory.ErrProductNotFound
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrBuyerNotFound         = errors.New("buyer not found")
	ErrTransactionAborted    = errors.New("transaction aborted")
	ErrAggregateUpdateFailed = aggregates.ErrAggregateUpdateFailed
	ErrInvalidSale           = errors.New("invalid sale")
)

// InsufficientStockError reports the stock observed when a sale was refused.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
