package models

import (
	"time"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// ProductStatus is the catalog lifecycle state.
type ProductStatus string

const (
	ProductActive     ProductStatus = "active"
	ProductInactive   ProductStatus = "inactive"
	ProductOutOfStock ProductStatus = "out_of_stock"
)

// Product document fields.
const (
	FieldProductName       = "name"
	FieldProductPrice      = "price"
	FieldProductStock      = "stock"
	FieldProductPointValue = "point_value"
	FieldProductStatus     = "status"
	FieldUpdatedAt         = "updated_at"
)

// Product is a catalog item sold at the front desk.
type Product struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Price      float64       `json:"price"`
	Stock      int           `json:"stock"`
	PointValue float64       `json:"point_value"`
	Status     ProductStatus `json:"status"`
	UpdatedAt  time.Time     `json:"updated_at,omitempty"`
}

// ProductFromDocument decodes a product. Malformed numbers read as zero.
func ProductFromDocument(doc map[string]any) Product {
	status := ProductStatus(coerce.String(doc[FieldProductStatus]))
	if status == "" {
		status = ProductActive
	}
	return Product{
		ID:         coerce.String(doc["_id"]),
		Name:       coerce.String(doc[FieldProductName]),
		Price:      coerce.Float(doc[FieldProductPrice]),
		Stock:      coerce.Int(doc[FieldProductStock]),
		PointValue: coerce.Float(doc[FieldProductPointValue]),
		Status:     status,
		UpdatedAt:  coerce.Time(doc[FieldUpdatedAt]),
	}
}

// Document encodes the product for storage.
func (p Product) Document() map[string]any {
	return map[string]any{
		FieldProductName:       p.Name,
		FieldProductPrice:      p.Price,
		FieldProductStock:      int64(p.Stock),
		FieldProductPointValue: p.PointValue,
		FieldProductStatus:     string(p.Status),
		FieldUpdatedAt:         p.UpdatedAt,
	}
}

// Member document fields.
const (
	FieldMemberName   = "name"
	FieldMemberPoints = "points"
)

// Member is a gym member who collects loyalty points on purchases.
type Member struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// MemberFromDocument decodes a member.
func MemberFromDocument(doc map[string]any) Member {
	return Member{
		ID:     coerce.String(doc["_id"]),
		Name:   coerce.String(doc[FieldMemberName]),
		Points: coerce.Float(doc[FieldMemberPoints]),
	}
}
