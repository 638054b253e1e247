package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := r.db.GetContext(ctx, p,
		`SELECT id, name, vintage, standard, price_per_unit, available_credits, active, created_at
		 FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) Upsert(ctx context.Context, p *Project) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO projects (id, name, vintage, standard, price_per_unit, available_credits, active)
		 VALUES (:id, :name, :vintage, :standard, :price_per_unit, :available_credits, :active)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   vintage = EXCLUDED.vintage,
		   standard = EXCLUDED.standard,
		   price_per_unit = EXCLUDED.price_per_unit,
		   available_credits = EXCLUDED.available_credits,
		   active = EXCLUDED.active`,
		p,
	)
	return err
}
