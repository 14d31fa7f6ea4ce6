package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/repository"
)

var (
	_ repository.PackageTemplateRepository = (*packageTemplateRepo)(nil)
	_ repository.PackageTemplateWriter     = (*packageTemplateRepo)(nil)
)

type packageTemplateRepo struct{ db *sql.DB }

func NewPackageTemplateRepo(db *sql.DB) *packageTemplateRepo {
	return &packageTemplateRepo{db: db}
}

func (r *packageTemplateRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PackageTemplate, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	var t model.PackageTemplate
	err = ex.QueryRowContext(ctx, `
		SELECT id, name, zone_id, data_bytes, validity_days, price, currency, active, updated_at
		FROM package_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.ZoneID, &t.DataBytes, &t.ValidityDays, &t.Price, &t.Currency, &t.Active, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &t, nil
}

func (r *packageTemplateRepo) Upsert(ctx context.Context, tx repository.Tx, t *model.PackageTemplate) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return domain.ErrInvalidArgument
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO package_templates (id, name, zone_id, data_bytes, validity_days, price, currency, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP(6))
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), zone_id = VALUES(zone_id), data_bytes = VALUES(data_bytes),
			validity_days = VALUES(validity_days), price = VALUES(price), currency = VALUES(currency),
			active = VALUES(active), updated_at = CURRENT_TIMESTAMP(6)`,
		t.ID, t.Name, t.ZoneID, t.DataBytes, t.ValidityDays, t.Price.StringFixed(2), t.Currency, t.Active)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}
