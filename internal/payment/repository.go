package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tokopay-be/internal/logger"

	"go.uber.org/zap"
)

type ListFilter struct {
	Status  *Status
	Method  *Method
	UserID  *uint
	OrderID *string
	Limit   int32
	Page    int32
}

type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByExternalRef(ctx context.Context, provider, externalRef string) (*Payment, error)
	ListPayments(ctx context.Context, f ListFilter) ([]*Payment, int64, error)

	MarkPaid(ctx context.Context, id, externalRef string, raw json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, id string, raw json.RawMessage) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)

	SumRefunded(ctx context.Context, paymentID string) (int64, error)
	CreateRefundTx(ctx context.Context, r *Refund) (Status, error)
	RecordFailedRefund(ctx context.Context, r *Refund) error
	ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error)

	ApplyWebhookTx(ctx context.Context, e *WebhookEvent, target Status, externalRef string) (applied bool, isDuplicate bool, err error)
	ListWebhookEvents(ctx context.Context, paymentID string) ([]*WebhookEvent, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const paymentColumns = `
	id, order_id, user_id, method, provider, amount, currency, status,
	external_transaction_id, gateway_response, expires_at, paid_at,
	cancelled_at, created_at, updated_at
`

func (r *repository) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, user_id, method, provider, amount, currency,
			status, external_transaction_id, gateway_response, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		p.ID, p.OrderID, p.UserID, p.Method, p.Provider, p.Amount,
		p.Currency, p.Status, p.ExternalTransactionID,
		[]byte(p.GatewayResponse), p.ExpiresAt,
	)
	return err
}

func (r *repository) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (r *repository) GetPaymentByExternalRef(ctx context.Context, provider, externalRef string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE provider = $1 AND external_transaction_id = $2
	`, provider, externalRef)
	return scanPayment(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	var extRef sql.NullString
	var raw []byte

	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Method, &p.Provider,
		&p.Amount, &p.Currency, &p.Status, &extRef, &raw,
		&p.ExpiresAt, &p.PaidAt, &p.CancelledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	if extRef.Valid {
		p.ExternalTransactionID = &extRef.String
	}
	p.GatewayResponse = raw
	return &p, nil
}

func (r *repository) ListPayments(ctx context.Context, f ListFilter) ([]*Payment, int64, error) {
	finalLimit := int32(20)
	finalPage := int32(1)

	if f.Limit > 0 {
		finalLimit = f.Limit
	}
	if f.Page > 0 {
		finalPage = f.Page
	}
	if finalLimit > 100 {
		finalLimit = 100
	}

	offset := (finalPage - 1) * finalLimit

	log := logger.FromCtx(ctx).With(
		zap.String("method", "ListPayments"),
		zap.Int32("limit", finalLimit),
		zap.Int32("page", finalPage),
	)

	where := " WHERE 1=1"
	args := []any{}
	argIndex := 1

	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *f.Status)
		argIndex++
	}
	if f.Method != nil {
		where += fmt.Sprintf(" AND method = $%d", argIndex)
		args = append(args, *f.Method)
		argIndex++
	}
	if f.UserID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, *f.UserID)
		argIndex++
	}
	if f.OrderID != nil {
		where += fmt.Sprintf(" AND order_id = $%d", argIndex)
		args = append(args, *f.OrderID)
		argIndex++
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payments"+where, args...).Scan(&total); err != nil {
		log.Error("failed to count payments", zap.Error(err))
		return nil, 0, err
	}

	query := "SELECT " + paymentColumns + " FROM payments" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, finalLimit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query payments", zap.Error(err))
		return nil, 0, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			log.Error("failed to scan payment row", zap.Error(err))
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return payments, total, nil
}

// MarkPaid is the atomic SUCCESS transition: the status guard lives in
// the WHERE clause so a confirm and a webhook racing for the same row
// cannot both win. Returns false when the payment was already resolved.
func (r *repository) MarkPaid(ctx context.Context, id, externalRef string, raw json.RawMessage) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'SUCCESS',
		    paid_at = now(),
		    external_transaction_id = COALESCE(NULLIF($2, ''), external_transaction_id),
		    gateway_response = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
	`, id, externalRef, []byte(raw))
	if err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id string, raw json.RawMessage) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'FAILED',
		    gateway_response = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
	`, id, []byte(raw))
	if err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *repository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'CANCELLED',
		    cancelled_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *repository) SumRefunded(ctx context.Context, paymentID string) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = $1 AND status = 'SUCCESS'
	`, paymentID).Scan(&sum)
	return sum, err
}

// CreateRefundTx records a successful refund and moves the payment to
// REFUNDED or PARTIALLY_REFUNDED in one transaction. The payment row is
// locked and the refunded sum re-read inside the lock: two concurrent
// refunds that each fit the remaining balance individually must not
// both commit when their sum would exceed it.
func (r *repository) CreateRefundTx(ctx context.Context, rf *Refund) (Status, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "CreateRefundTx"),
		zap.String("payment_id", rf.PaymentID),
		zap.String("refund_id", rf.ID),
		zap.Int64("amount", rf.Amount),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return "", err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	var amount int64
	var status Status
	err = tx.QueryRowContext(ctx, `
		SELECT amount, status FROM payments WHERE id = $1 FOR UPDATE
	`, rf.PaymentID).Scan(&amount, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPaymentNotFound
	}
	if err != nil {
		return "", err
	}

	if status != StatusSuccess && status != StatusPartiallyRefunded {
		return "", &StateConflictError{PaymentID: rf.PaymentID, Current: status, Message: "payment is not refundable"}
	}

	var refunded int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = $1 AND status = 'SUCCESS'
	`, rf.PaymentID).Scan(&refunded)
	if err != nil {
		return "", err
	}

	if refunded+rf.Amount > amount {
		return "", &StateConflictError{
			PaymentID: rf.PaymentID,
			Current:   status,
			Message:   fmt.Sprintf("refund of %d exceeds remaining balance %d", rf.Amount, amount-refunded),
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refunds (
			id, payment_id, order_id, user_id, amount, reason, status,
			external_refund_id, gateway_response, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,'SUCCESS',$7,$8,now())
	`,
		rf.ID, rf.PaymentID, rf.OrderID, rf.UserID, rf.Amount, rf.Reason,
		rf.ExternalRefundID, []byte(rf.GatewayResponse),
	)
	if err != nil {
		return "", err
	}

	newStatus := StatusPartiallyRefunded
	if refunded+rf.Amount == amount {
		newStatus = StatusRefunded
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = now() WHERE id = $2
	`, newStatus, rf.PaymentID)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true

	log.Info("refund recorded", zap.String("new_status", string(newStatus)))
	return newStatus, nil
}

// RecordFailedRefund keeps an audit row for a refund the provider
// declined. Failed rows never count toward the refunded sum.
func (r *repository) RecordFailedRefund(ctx context.Context, rf *Refund) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refunds (
			id, payment_id, order_id, user_id, amount, reason, status,
			external_refund_id, gateway_response, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,'FAILED',$7,$8,now())
	`,
		rf.ID, rf.PaymentID, rf.OrderID, rf.UserID, rf.Amount, rf.Reason,
		rf.ExternalRefundID, []byte(rf.GatewayResponse),
	)
	return err
}

func (r *repository) ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, order_id, user_id, amount, reason, status,
		       external_refund_id, processed_at, created_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []*Refund
	for rows.Next() {
		var rf Refund
		var extRef sql.NullString
		if err := rows.Scan(
			&rf.ID, &rf.PaymentID, &rf.OrderID, &rf.UserID, &rf.Amount,
			&rf.Reason, &rf.Status, &extRef, &rf.ProcessedAt, &rf.CreatedAt,
		); err != nil {
			return nil, err
		}
		if extRef.Valid {
			rf.ExternalRefundID = &extRef.String
		}
		refunds = append(refunds, &rf)
	}
	return refunds, rows.Err()
}

// ApplyWebhookTx records the event and applies the resulting status
// transition in one transaction. The event row only survives when the
// transition commits with it, so a delivery that fails mid-way leaves
// no dedupe trace and the provider's retry gets a clean attempt.
// target "" records the event without touching the payment.
func (r *repository) ApplyWebhookTx(ctx context.Context, e *WebhookEvent, target Status, externalRef string) (bool, bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "ApplyWebhookTx"),
		zap.String("payment_id", e.PaymentID),
		zap.String("event_id", e.EventID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return false, false, err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payment_webhook_events (
			payment_id, provider, event_id, event_type, payload
		)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id)
		DO NOTHING
		RETURNING id
	`, e.PaymentID, e.Provider, e.EventID, e.EventType, []byte(e.Payload)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate delivery: an earlier attempt already committed.
		return false, true, nil
	}
	if err != nil {
		return false, false, err
	}
	e.ID = id

	applied := false
	switch target {
	case StatusSuccess:
		res, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET status = 'SUCCESS',
			    paid_at = now(),
			    external_transaction_id = COALESCE(NULLIF($2, ''), external_transaction_id),
			    gateway_response = $3,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'PENDING'
		`, e.PaymentID, externalRef, []byte(e.Payload))
		if err != nil {
			return false, false, err
		}
		affected, _ := res.RowsAffected()
		applied = affected > 0

	case StatusFailed:
		res, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET status = 'FAILED',
			    gateway_response = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'PENDING'
		`, e.PaymentID, []byte(e.Payload))
		if err != nil {
			return false, false, err
		}
		affected, _ := res.RowsAffected()
		applied = affected > 0
	}

	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	committed = true

	return applied, false, nil
}

func (r *repository) ListWebhookEvents(ctx context.Context, paymentID string) ([]*WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, provider, event_id, event_type, payload, received_at
		FROM payment_webhook_events
		WHERE payment_id = $1
		ORDER BY received_at
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Provider, &e.EventID, &e.EventType, &payload, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}
