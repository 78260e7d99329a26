package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, name, price, category, stock, image_url
		FROM products ORDER BY id`

	getProductsByIDsSQL = `SELECT id, name, price, category, stock, image_url
		FROM products WHERE id = ANY($1)`

	// Compare-and-decrement: the WHERE clause guarantees concurrent
	// reservations against the same product never drive stock negative.
	reserveStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`

	releaseStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	getStockSQL = `SELECT stock FROM products WHERE id = $1`

	listPricingRangesSQL = `SELECT range_id, percentage FROM pricing_range_settings`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns the full catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Reserve decrements available stock with a guard against overselling. When
// the conditional update matches no row, the current stock is read back to
// distinguish a missing product from an insufficient reservation.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, qty int) error {
	tag, err := r.pool.Exec(ctx, reserveStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("reserving stock for %q: %w", productID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var available int
	err = r.pool.QueryRow(ctx, getStockSQL, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return fmt.Errorf("reading stock for %q: %w", productID, err)
	}
	return &product.InsufficientStockError{
		ProductID: productID,
		Requested: qty,
		Available: available,
	}
}

// Release returns previously reserved units to the pool.
func (r *ProductRepository) Release(ctx context.Context, productID string, qty int) error {
	tag, err := r.pool.Exec(ctx, releaseStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("releasing stock for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// PricingRanges loads the markup bands, parsing the range_id bounds
// ("0-10", "500+") into comparable decimals, ordered by lower bound.
func (r *ProductRepository) PricingRanges(ctx context.Context) ([]product.PricingRange, error) {
	rows, err := r.pool.Query(ctx, listPricingRangesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing pricing ranges: %w", err)
	}
	ranges, err := pgx.CollectRows(rows, scanPricingRange)
	if err != nil {
		return nil, err
	}

	// Insertion sort by lower bound; the table holds five fixed rows.
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j].Min.LessThan(ranges[j-1].Min); j-- {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
		}
	}
	return ranges, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.Stock, &p.ImageURL)
	return p, err
}

func scanPricingRange(row pgx.CollectableRow) (product.PricingRange, error) {
	var pr product.PricingRange
	if err := row.Scan(&pr.RangeID, &pr.Percentage); err != nil {
		return pr, err
	}
	if err := parseRangeBounds(&pr); err != nil {
		return pr, err
	}
	return pr, nil
}

// parseRangeBounds fills Min/Max from range_id. "500+" is open-ended.
func parseRangeBounds(pr *product.PricingRange) error {
	id := pr.RangeID
	if open, ok := strings.CutSuffix(id, "+"); ok {
		min, err := decimal.NewFromString(open)
		if err != nil {
			return fmt.Errorf("parsing pricing range %q: %w", id, err)
		}
		pr.Min = min
		pr.Max = nil
		return nil
	}

	lo, hi, ok := strings.Cut(id, "-")
	if !ok {
		return fmt.Errorf("malformed pricing range %q", id)
	}
	min, err := decimal.NewFromString(lo)
	if err != nil {
		return fmt.Errorf("parsing pricing range %q: %w", id, err)
	}
	max, err := decimal.NewFromString(hi)
	if err != nil {
		return fmt.Errorf("parsing pricing range %q: %w", id, err)
	}
	pr.Min = min
	pr.Max = &max
	return nil
}
