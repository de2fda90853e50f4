// Package inventory owns product records: price, stock and loyalty point value.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

var (
	// ErrProductNotFound is returned when no product exists under the id.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidProduct is returned when catalog fields fail validation.
	ErrInvalidProduct = errors.New("invalid product")
)

// Service reads and seeds the product catalog.
type Service struct {
	store  docstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires a product ledger over store.
func NewService(store docstore.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Get returns the product stored under id.
func (s *Service) Get(ctx context.Context, id string) (*models.Product, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionProducts, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("load product %s: %w", id, err)
	}
	product := models.ProductFromDocument(doc)
	return &product, nil
}

// Upsert writes the catalog fields of p. A product whose stock is zero is
// stored as out of stock, and one that gets restocked becomes active again.
func (s *Service) Upsert(ctx context.Context, p models.Product) (*models.Product, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = models.ProductActive
	}
	p.Status = statusForStock(p.Status, p.Stock)
	p.UpdatedAt = s.now().UTC()

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ctx, docstore.CollectionProducts, p.ID, p.Document())
	})
	if err != nil {
		return nil, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}

	s.logger.Info("product upserted",
		zap.String("product_id", p.ID),
		zap.Int("stock", p.Stock),
		zap.String("status", string(p.Status)))
	return &p, nil
}

// Load reads a product inside a running transaction.
func Load(ctx context.Context, tx docstore.Tx, id string) (models.Product, error) {
	doc, err := tx.Get(ctx, docstore.CollectionProducts, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return models.Product{}, fmt.Errorf("load product %s: %w", id, err)
	}
	return models.ProductFromDocument(doc), nil
}

// Decrement stages a stock decrement of quantity on a product previously
// read with Load. The caller has already checked the stock.
func Decrement(ctx context.Context, tx docstore.Tx, p models.Product, quantity int, now time.Time) error {
	set := map[string]any{models.FieldUpdatedAt: now}
	if p.Stock-quantity == 0 && p.Status == models.ProductActive {
		set[models.FieldProductStatus] = string(models.ProductOutOfStock)
	}
	return tx.Update(ctx, docstore.CollectionProducts, p.ID, docstore.Update{
		Inc: map[string]any{models.FieldProductStock: int64(-quantity)},
		Set: set,
	})
}

func statusForStock(status models.ProductStatus, stock int) models.ProductStatus {
	switch {
	case stock == 0 && status == models.ProductActive:
		return models.ProductOutOfStock
	case stock > 0 && status == models.ProductOutOfStock:
		return models.ProductActive
	}
	return status
}

func validate(p models.Product) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0):
		return fmt.Errorf("%w: price must be a non-negative number", ErrInvalidProduct)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	case p.PointValue < 0 || math.IsNaN(p.PointValue) || math.IsInf(p.PointValue, 0):
		return fmt.Errorf("%w: point value must be a non-negative number", ErrInvalidProduct)
	}
	switch p.Status {
	case "", models.ProductActive, models.ProductInactive, models.ProductOutOfStock:
		return nil
	}
	return fmt.Errorf("%w: unknown status %q", ErrInvalidProduct, p.Status)
}
