package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = fault.New(fault.NotFound, "product not found")

// Product represents a catalog item sold by a single seller.
type Product struct {
	ID       string
	SellerID string
	Name     string
	Price    decimal.Decimal
	Category string
	ImageURL string
}

// Category is a distinct product category with the number of active
// products in it.
type Category struct {
	Name  string
	Count int
}

// Repository defines read operations for the product catalog. Only active
// products are returned.
type Repository interface {
	List(ctx context.Context, category string) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// ListCategories returns categories ordered by name.
	ListCategories(ctx context.Context) ([]Category, error)
}
