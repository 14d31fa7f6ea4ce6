package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/repository"
	"esim-reseller/internal/infra/metrics"
)

var _ repository.OrderRepository = (*orderRepo)(nil)

// erDupEntry is the server error number for a duplicate key.
const erDupEntry = 1062

const orderColumns = `id, order_number, user_id, package_template_id, type, status,
  amount, currency, payment_intent_id, payment_status,
  subscriber_id, imsi, iccid, msisdn, activation_code,
  subs_package_id, esim_id, smdp_server, url_qr_code, user_sim_name,
  validity_period, active_period_start, active_period_end, start_time_utc, activation_at_first_use,
  error_message, created_at, updated_at`

type orderRepo struct{ db *sql.DB }

func NewOrderRepo(db *sql.DB) *orderRepo {
	return &orderRepo{db: db}
}

func (r *orderRepo) Create(ctx context.Context, tx repository.Tx, o *model.Order) error {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO orders (
  id, order_number, user_id, package_template_id, type, status,
  amount, currency, payment_intent_id, payment_status,
  subscriber_id, imsi, iccid, msisdn, activation_code,
  url_qr_code, validity_period, active_period_start, active_period_end, start_time_utc, activation_at_first_use,
  error_message, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OrderNumber, o.UserID, o.PackageTemplateID, string(o.Type), string(o.Status),
		o.Amount.StringFixed(2), o.Currency, o.PaymentIntentID, string(o.PaymentStatus),
		o.SubscriberID, o.IMSI, o.ICCID, o.MSISDN, o.ActivationCode,
		o.URLQrCode, o.ValidityPeriod, utc(o.ActivePeriodStart), utc(o.ActivePeriodEnd), utc(o.StartTimeUTC), o.ActivationAtFirstUse,
		o.ErrorMessage, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == erDupEntry {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	metrics.IncOrderCreated(string(o.Type))
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Order, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if _, ok := tx.(*sql.Tx); ok {
		q += " FOR UPDATE"
	}
	o, err := scanOrder(ex.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return o, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	return r.list(ctx, tx, q, userID, limit, offset)
}

func (r *orderRepo) ListAll(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	return r.list(ctx, tx, q, limit, offset)
}

func (r *orderRepo) ListAwaitingPaymentOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'AWAITING_PAYMENT' AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`
	return r.list(ctx, tx, q, before.UTC(), limit)
}

func (r *orderRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Order, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, q, args...)
	if err != nil {
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

func (r *orderRepo) Transition(ctx context.Context, tx repository.Tx, id string, expected, next model.OrderStatus, p model.OrderPatch) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, domain.ErrInvalidStateTransition
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE orders
   SET status = ?,
       amount = COALESCE(?, amount),
       currency = COALESCE(?, currency),
       payment_intent_id = COALESCE(?, payment_intent_id),
       payment_status = COALESCE(?, payment_status),
       validity_period = COALESCE(?, validity_period),
       active_period_start = COALESCE(?, active_period_start),
       active_period_end = COALESCE(?, active_period_end),
       start_time_utc = COALESCE(?, start_time_utc),
       activation_at_first_use = COALESCE(?, activation_at_first_use),
       subscriber_id = COALESCE(?, subscriber_id),
       subs_package_id = COALESCE(?, subs_package_id),
       esim_id = COALESCE(?, esim_id),
       imsi = COALESCE(?, imsi),
       iccid = COALESCE(?, iccid),
       msisdn = COALESCE(?, msisdn),
       activation_code = COALESCE(?, activation_code),
       smdp_server = COALESCE(?, smdp_server),
       url_qr_code = COALESCE(?, url_qr_code),
       user_sim_name = COALESCE(?, user_sim_name),
       error_message = COALESCE(?, error_message),
       updated_at = CURRENT_TIMESTAMP(6)
 WHERE id = ?
   AND status = ?`

	args := append([]interface{}{string(next)}, patchArgs(p)...)
	args = append(args, id, string(expected))
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return false, domain.ErrOperationFailed
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.ErrOperationFailed
	}
	if n == 1 {
		metrics.IncOrderTransition(string(expected), string(next))
		return true, nil
	}
	metrics.IncOrderLostRace(string(expected), string(next))
	return false, nil
}

func (r *orderRepo) ReclaimProcessing(ctx context.Context, tx repository.Tx, id string, staleBefore time.Time) (bool, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE orders SET updated_at = CURRENT_TIMESTAMP(6) WHERE id = ? AND status = 'PROCESSING' AND updated_at < ?`,
		id, staleBefore.UTC())
	if err != nil {
		return false, domain.ErrOperationFailed
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.ErrOperationFailed
	}
	from := string(model.OrderStatusProcessing)
	if n == 1 {
		metrics.IncOrderTransition(from, from)
		return true, nil
	}
	metrics.IncOrderLostRace(from, from)
	return false, nil
}

// patchArgs returns the bind values between status and the WHERE clause.
// Nil pointers bind NULL so COALESCE keeps the stored value.
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
		p.ValidityPeriod, utc(p.ActivePeriodStart), utc(p.ActivePeriodEnd), utc(p.StartTimeUTC), p.ActivationAtFirstUse,
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

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o                      model.Order
		typ, status, payStatus string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.PackageTemplateID, &typ, &status,
		&o.Amount, &o.Currency, &o.PaymentIntentID, &payStatus,
		&o.SubscriberID, &o.IMSI, &o.ICCID, &o.MSISDN, &o.ActivationCode,
		&o.SubsPackageID, &o.EsimID, &o.SmdpServer, &o.URLQrCode, &o.UserSimName,
		&o.ValidityPeriod, &o.ActivePeriodStart, &o.ActivePeriodEnd, &o.StartTimeUTC, &o.ActivationAtFirstUse,
		&o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(payStatus)
	return &o, nil
}
