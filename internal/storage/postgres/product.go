package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, seller_id, name, price, category, image_url FROM products
	WHERE active AND ($1 = '' OR category = $1) ORDER BY id`

	getProductByIDSQL = `SELECT id, seller_id, name, price, category, image_url FROM products
	WHERE id = $1 AND active`

	getProductsByIDsSQL = `SELECT id, seller_id, name, price, category, image_url FROM products
	WHERE id = ANY($1) AND active`

	listCategoriesSQL = `SELECT category, COUNT(*) FROM products
	WHERE active GROUP BY category ORDER BY category`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	db *DB
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns active products, optionally restricted to a category.
func (r *ProductRepository) List(ctx context.Context, category string) ([]product.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listProductsSQL, category)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}

	return products, nil
}

// GetByID returns a single product or product.ErrNotFound.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("scanning product %q: %w", id, err)
	}

	return &p, nil
}

// GetByIDs returns the active products among ids. Missing ids are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("querying products by IDs: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}

	return products, nil
}

// ListCategories returns the distinct categories of active products.
func (r *ProductRepository) ListCategories(ctx context.Context) ([]product.Category, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}

	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Category, error) {
		var c product.Category
		err := row.Scan(&c.Name, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning categories: %w", err)
	}

	return categories, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Price, &p.Category, &p.ImageURL)
	return p, err
}
