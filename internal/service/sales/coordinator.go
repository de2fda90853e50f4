// Package sales records product sales.
//
// A sale is one store transaction: the product and member are read first,
// then the sale record, the stock decrement, the point credit and an outbox
// entry for the monthly aggregate are written together. The aggregate credit
// itself is applied after commit; when it fails the sale stands and the
// outbox entry is replayed later.
package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/identity"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/inventory"
)

// Buyer identifies who bought. Only members collect points.
type Buyer struct {
	ID       string `json:"id"`
	IsMember bool   `json:"is_member"`
}

// SaleRequest is the input of RecordSale. RecordedBy is never read from a
// request body; when empty it falls back to the caller attached to the context.
type SaleRequest struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Buyer         *Buyer `json:"buyer,omitempty"`
	PaymentMethod string `json:"payment_method"`
	RecordedBy    string `json:"-"`
}

// Receipt is a committed sale plus the non-fatal problems met on the way.
type Receipt struct {
	Sale     models.Sale `json:"sale"`
	Warnings []error     `json:"-"`
}

// Stale reports whether the monthly statistics may not include the sale yet.
func (r *Receipt) Stale() bool {
	for _, w := range r.Warnings {
		if errors.Is(w, ErrAggregateUpdateFailed) {
			return true
		}
	}
	return false
}

// WarningMessages renders the warnings for transport.
func (r *Receipt) WarningMessages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

// Coordinator executes sales.
type Coordinator struct {
	store  docstore.Store
	ledger *aggregates.Ledger
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator wires a coordinator. loc decides which month a sale counts in.
func NewCoordinator(store docstore.Store, ledger *aggregates.Ledger, loc *time.Location, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Coordinator{store: store, ledger: ledger, loc: loc, logger: logger, now: time.Now}
}

// RecordSale sells req.Quantity units of a product. A nil error means the
// sale is committed; Receipt.Warnings may still carry ErrBuyerNotFound or an
// *aggregates.AggregateUpdateError.
func (c *Coordinator) RecordSale(ctx context.Context, req SaleRequest) (*Receipt, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	recordedBy := req.RecordedBy
	if recordedBy == "" {
		recordedBy = identity.CallerOr(ctx, identity.Anonymous)
	}

	saleID := uuid.NewString()
	var (
		sale         models.Sale
		entry        models.OutboxEntry
		buyerMissing bool
	)

	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		buyerMissing = false

		product, err := inventory.Load(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}

		member := req.Buyer != nil && req.Buyer.IsMember
		if member {
			_, err := tx.Get(ctx, docstore.CollectionMembers, req.Buyer.ID)
			switch {
			case errors.Is(err, docstore.ErrNotFound):
				buyerMissing = true
				member = false
			case err != nil:
				return fmt.Errorf("load member %s: %w", req.Buyer.ID, err)
			}
		}

		if product.Stock < req.Quantity {
			return &InsufficientStockError{ProductID: req.ProductID, Requested: req.Quantity, Available: product.Stock}
		}

		now := c.now()
		sale = models.Sale{
			ID:            saleID,
			ProductID:     req.ProductID,
			ProductName:   product.Name,
			Quantity:      req.Quantity,
			UnitPrice:     product.Price,
			TotalAmount:   product.Price * float64(req.Quantity),
			PaymentMethod: req.PaymentMethod,
			Timestamp:     now.UTC(),
			RecordedBy:    recordedBy,
			Status:        models.SaleCompleted,
		}
		if member {
			sale.BuyerID = req.Buyer.ID
			sale.IsMember = true
			sale.PointsAwarded = product.PointValue * float64(req.Quantity)
		}

		if err := tx.Set(ctx, docstore.CollectionSales, sale.ID, sale.Document()); err != nil {
			return err
		}
		product.ID = req.ProductID
		if err := inventory.Decrement(ctx, tx, product, req.Quantity, now.UTC()); err != nil {
			return err
		}
		if sale.PointsAwarded > 0 {
			err := tx.Update(ctx, docstore.CollectionMembers, sale.BuyerID, docstore.Update{
				Inc: map[string]any{models.FieldMemberPoints: sale.PointsAwarded},
			})
			if err != nil {
				return err
			}
		}

		entry = aggregates.NewEntry(models.YearMonthOf(now.In(c.loc)), models.IncomeProduct,
			sale.TotalAmount, aggregates.SourceSale, sale.ID, now.UTC())
		return aggregates.Enqueue(ctx, tx, entry)
	})
	if err != nil {
		return nil, c.classify(req, err)
	}

	receipt := &Receipt{Sale: sale}
	if buyerMissing {
		warn := fmt.Errorf("%w: %s", ErrBuyerNotFound, req.Buyer.ID)
		receipt.Warnings = append(receipt.Warnings, warn)
		c.logger.Warn("sale recorded without points", zap.String("sale_id", sale.ID), zap.Error(warn))
	}

	if err := c.ledger.Apply(ctx, entry.ID); err != nil {
		receipt.Warnings = append(receipt.Warnings, err)
		c.logger.Warn("sale recorded, monthly statistics pending",
			zap.String("sale_id", sale.ID),
			zap.String("entry_id", entry.ID),
			zap.Error(err))
	}

	c.logger.Info("sale recorded",
		zap.String("sale_id", sale.ID),
		zap.String("product_id", sale.ProductID),
		zap.Int("quantity", sale.Quantity),
		zap.Float64("total_amount", sale.TotalAmount),
		zap.Float64("points_awarded", sale.PointsAwarded),
		zap.String("recorded_by", sale.RecordedBy))
	return receipt, nil
}

func (c *Coordinator) classify(req SaleRequest, err error) error {
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrInsufficientStock):
		c.logger.Info("sale refused", zap.String("product_id", req.ProductID), zap.Int("quantity", req.Quantity), zap.Error(err))
		return err
	case errors.Is(err, docstore.ErrAborted):
		c.logger.Error("sale transaction aborted", zap.String("product_id", req.ProductID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}
	c.logger.Error("sale failed", zap.String("product_id", req.ProductID), zap.Error(err))
	return fmt.Errorf("record sale: %w", err)
}

func validate(req SaleRequest) error {
	switch {
	case strings.TrimSpace(req.ProductID) == "":
		return fmt.Errorf("%w: product id is required", ErrInvalidSale)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidSale, req.Quantity)
	case req.Buyer != nil && req.Buyer.IsMember && strings.TrimSpace(req.Buyer.ID) == "":
		return fmt.Errorf("%w: member buyer needs an id", ErrInvalidSale)
	}
	return nil
}
