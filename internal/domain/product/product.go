package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// InsufficientStockError indicates a reservation would drive available stock
// below zero.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Product is a catalog item available for purchase. Stock is the number of
// units not currently reserved by a pending or confirmed order.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Stock    int
	ImageURL string
}

// PricingRange is one row of the markup lookup table. Bounds are price bands:
// a unit price p falls in the band when Min <= p < Max (Max nil means open).
type PricingRange struct {
	RangeID    string
	Percentage decimal.Decimal
	Min        decimal.Decimal
	Max        *decimal.Decimal
}

// Markup applies the range percentage to a base price, rounded to 2 places.
func (r PricingRange) Markup(base decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(r.Percentage.Div(decimal.NewFromInt(100)))
	return base.Mul(factor).Round(2)
}

// Contains reports whether price falls within this range's band.
func (r PricingRange) Contains(price decimal.Decimal) bool {
	if price.LessThan(r.Min) {
		return false
	}
	return r.Max == nil || price.LessThan(*r.Max)
}

// Repository defines catalog reads and the stock reservation discipline.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)

	// Reserve decrements available stock by qty. The decrement is conditional
	// on sufficient stock so concurrent reservations cannot oversell; it
	// returns InsufficientStockError instead of going negative.
	Reserve(ctx context.Context, productID string, qty int) error

	// Release returns previously reserved stock to the pool.
	Release(ctx context.Context, productID string, qty int) error

	// PricingRanges returns the markup bands ordered by lower bound.
	PricingRanges(ctx context.Context) ([]PricingRange, error)
}

// MarkupFor picks the band containing price. Prices outside every band are
// returned unchanged.
func MarkupFor(ranges []PricingRange, price decimal.Decimal) decimal.Decimal {
	for _, r := range ranges {
		if r.Contains(price) {
			return r.Markup(price)
		}
	}
	return price
}
