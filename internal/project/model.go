package project

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("project not found")
	ErrInactive = errors.New("project is not listed")
	ErrReadOnly = errors.New("catalog is read-only")
)

// Project is a carbon-credit listing as the marketplace publishes it.
type Project struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Vintage          string          `db:"vintage" json:"vintage"`
	Standard         string          `db:"standard" json:"standard"`
	PricePerUnit     decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	AvailableCredits decimal.Decimal `db:"available_credits" json:"available_credits"`
	Active           bool            `db:"active" json:"active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Catalog answers listing lookups for purchases.
type Catalog interface {
	Get(ctx context.Context, id string) (*Project, error)
}

// Listings is a catalog that operators can also edit.
type Listings interface {
	Catalog
	Upsert(ctx context.Context, p *Project) error
}
