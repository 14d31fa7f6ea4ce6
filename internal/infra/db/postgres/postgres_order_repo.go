package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/repository"
	"esim-reseller/internal/infra/metrics"
)

var _ repository.OrderRepository = (*orderRepo)(nil)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const orderColumns = `id, order_number, user_id, package_template_id, type, status,
  amount::text, currency, payment_intent_id, payment_status,
  subscriber_id, imsi, iccid, msisdn, activation_code,
  subs_package_id, esim_id, smdp_server, url_qr_code, user_sim_name,
  validity_period, active_period_start, active_period_end, start_time_utc, activation_at_first_use,
  error_message, created_at, updated_at`

type orderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepo(pool *pgxpool.Pool) *orderRepo {
	return &orderRepo{pool: pool}
}

func (r *orderRepo) Create(ctx context.Context, tx repository.Tx, o *model.Order) error {
	const q = `
INSERT INTO orders (
  id, order_number, user_id, package_template_id, type, status,
  amount, currency, payment_intent_id, payment_status,
  subscriber_id, imsi, iccid, msisdn, activation_code,
  validity_period, active_period_start, active_period_end, start_time_utc, activation_at_first_use,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
);`
	_, err := execSQL(ctx, r.pool, tx, q,
		o.ID, o.OrderNumber, o.UserID, o.PackageTemplateID, string(o.Type), string(o.Status),
		o.Amount.StringFixed(2), o.Currency, o.PaymentIntentID, string(o.PaymentStatus),
		o.SubscriberID, o.IMSI, o.ICCID, o.MSISDN, o.ActivationCode,
		o.ValidityPeriod, o.ActivePeriodStart, o.ActivePeriodEnd, o.StartTimeUTC, o.ActivationAtFirstUse,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if passThrough(err) {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	metrics.IncOrderCreated(string(o.Type))
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return o, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id OFFSET $2 LIMIT $3;`
	return r.list(ctx, tx, q, userID, offset, limit)
}

func (r *orderRepo) ListAll(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id OFFSET $1 LIMIT $2;`
	return r.list(ctx, tx, q, offset, limit)
}

func (r *orderRepo) ListAwaitingPaymentOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE status='AWAITING_PAYMENT' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, before, limit)
}

func (r *orderRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Order, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		if passThrough(err) {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make([]*model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

// Transition is a compare-and-set on status. Unset patch fields bind NULL
// and COALESCE back to the stored value.
func (r *orderRepo) Transition(ctx context.Context, tx repository.Tx, id string, expected, next model.OrderStatus, p model.OrderPatch) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, domain.ErrInvalidStateTransition
	}
	const q = `
UPDATE orders
   SET status = $3,
       amount = COALESCE($4::numeric, amount),
       currency = COALESCE($5, currency),
       payment_intent_id = COALESCE($6, payment_intent_id),
       payment_status = COALESCE($7, payment_status),
       validity_period = COALESCE($8::int, validity_period),
       active_period_start = COALESCE($9::timestamptz, active_period_start),
       active_period_end = COALESCE($10::timestamptz, active_period_end),
       start_time_utc = COALESCE($11::timestamptz, start_time_utc),
       activation_at_first_use = COALESCE($12::boolean, activation_at_first_use),
       subscriber_id = COALESCE($13::bigint, subscriber_id),
       subs_package_id = COALESCE($14::bigint, subs_package_id),
       esim_id = COALESCE($15::bigint, esim_id),
       imsi = COALESCE($16, imsi),
       iccid = COALESCE($17, iccid),
       msisdn = COALESCE($18, msisdn),
       activation_code = COALESCE($19, activation_code),
       smdp_server = COALESCE($20, smdp_server),
       url_qr_code = COALESCE($21, url_qr_code),
       user_sim_name = COALESCE($22, user_sim_name),
       error_message = COALESCE($23, error_message),
       updated_at = NOW()
 WHERE id = $1
   AND status = $2`

	args := append([]interface{}{id, string(expected), string(next)}, patchArgs(p)...)
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		if passThrough(err) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	won := cmd.RowsAffected() == 1
	if won {
		metrics.IncOrderTransition(string(expected), string(next))
	} else {
		metrics.IncOrderLostRace(string(expected), string(next))
	}
	return won, nil
}

func (r *orderRepo) ReclaimProcessing(ctx context.Context, tx repository.Tx, id string, staleBefore time.Time) (bool, error) {
	const q = `UPDATE orders SET updated_at = NOW() WHERE id = $1 AND status = 'PROCESSING' AND updated_at < $2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, staleBefore)
	if err != nil {
		if passThrough(err) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	from := string(model.OrderStatusProcessing)
	if cmd.RowsAffected() == 1 {
		metrics.IncOrderTransition(from, from)
		return true, nil
	}
	metrics.IncOrderLostRace(from, from)
	return false, nil
}

// patchArgs returns the bind values for $4..$23 of the transition update.
func patchArgs(p model.OrderPatch) []interface{} {
	var amount *string
	if p.Amount != nil {
		s := p.Amount.StringFixed(2)
		amount = &s
	}
	var payStatus *string
	if p.PaymentStatus != nil {
		s := string(*p.PaymentStatus)
		payStatus = &s
	}
	var (
		subscriberID, subsPackageID, esimID *int64
		imsi, iccid, msisdn, code           *string
		smdp, qr, simName                   *string
	)
	if res := p.Provisioned; res != nil {
		subscriberID, subsPackageID, esimID = &res.SubscriberID, &res.SubsPackageID, &res.EsimID
		imsi, iccid = nonEmpty(res.IMSI), nonEmpty(res.ICCID)
		msisdn, code = nonEmpty(res.MSISDN), nonEmpty(res.ActivationCode)
		smdp, qr, simName = &res.SmdpServer, &res.URLQrCode, &res.UserSimName
	}
	return []interface{}{
		amount, p.Currency, p.PaymentIntentID, payStatus,
		p.ValidityPeriod, p.ActivePeriodStart, p.ActivePeriodEnd, p.StartTimeUTC, p.ActivationAtFirstUse,
		subscriberID, subsPackageID, esimID,
		imsi, iccid, msisdn, code,
		smdp, qr, simName,
		p.ErrorMessage,
	}
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o                              model.Order
		typ, status, payStatus, amount string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.PackageTemplateID, &typ, &status,
		&amount, &o.Currency, &o.PaymentIntentID, &payStatus,
		&o.SubscriberID, &o.IMSI, &o.ICCID, &o.MSISDN, &o.ActivationCode,
		&o.SubsPackageID, &o.EsimID, &o.SmdpServer, &o.URLQrCode, &o.UserSimName,
		&o.ValidityPeriod, &o.ActivePeriodStart, &o.ActivePeriodEnd, &o.StartTimeUTC, &o.ActivationAtFirstUse,
		&o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(payStatus)
	o.Currency = strings.TrimSpace(o.Currency)
	return &o, nil
}
