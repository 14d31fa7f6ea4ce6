package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/repository"
)

var (
	_ repository.PackageTemplateRepository = (*packageTemplateRepo)(nil)
	_ repository.PackageTemplateWriter     = (*packageTemplateRepo)(nil)
)

type packageTemplateRepo struct{ pool *pgxpool.Pool }

func NewPackageTemplateRepo(pool *pgxpool.Pool) *packageTemplateRepo {
	return &packageTemplateRepo{pool: pool}
}

func (r *packageTemplateRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PackageTemplate, error) {
	const q = `SELECT id, name, zone_id, data_bytes, validity_days, price::text, currency, active, updated_at FROM package_templates WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	var (
		t     model.PackageTemplate
		price string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.ZoneID, &t.DataBytes, &t.ValidityDays, &price, &t.Currency, &t.Active, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	t.Currency = strings.TrimSpace(t.Currency)
	return &t, nil
}

func (r *packageTemplateRepo) Upsert(ctx context.Context, tx repository.Tx, t *model.PackageTemplate) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO package_templates (id, name, zone_id, data_bytes, validity_days, price, currency, active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, NOW())
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name, zone_id=EXCLUDED.zone_id, data_bytes=EXCLUDED.data_bytes,
  validity_days=EXCLUDED.validity_days, price=EXCLUDED.price, currency=EXCLUDED.currency,
  active=EXCLUDED.active, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.Name, t.ZoneID, t.DataBytes, t.ValidityDays, t.Price.StringFixed(2), t.Currency, t.Active)
	if err != nil {
		if passThrough(err) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
