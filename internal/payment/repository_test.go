package payment

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentCols = []string{
	"id", "order_id", "user_id", "method", "provider", "amount", "currency", "status",
	"external_transaction_id", "gateway_response", "expires_at", "paid_at",
	"cancelled_at", "created_at", "updated_at",
}

func paymentRow(id string, status Status) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(paymentCols).AddRow(
		id, "ORD-1", 7, "card", "stripe", int64(50000), "IDR", string(status),
		"pi_123", []byte(`{}`), now.Add(30*time.Minute), nil, nil, now, now,
	)
}

func TestRepository_CreatePayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	p := &Payment{
		ID:        "PAY-1",
		OrderID:   "ORD-1",
		UserID:    7,
		Method:    MethodCard,
		Provider:  ProviderStripe,
		Amount:    50000,
		Currency:  "IDR",
		Status:    StatusPending,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payments`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.CreatePayment(context.Background(), p)
		assert.NoError(t, err)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payments`).
			WillReturnError(errors.New("database error"))

		err := repo.CreatePayment(context.Background(), p)
		assert.Error(t, err)
	})
}

func TestRepository_GetPayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE id = \$1`).
			WithArgs("PAY-1").
			WillReturnRows(paymentRow("PAY-1", StatusPending))

		p, err := repo.GetPayment(context.Background(), "PAY-1")
		assert.NoError(t, err)
		assert.Equal(t, "PAY-1", p.ID)
		assert.Equal(t, StatusPending, p.Status)
		assert.Equal(t, "pi_123", *p.ExternalTransactionID)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(paymentCols))

		_, err := repo.GetPayment(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestRepository_MarkPaid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	raw := json.RawMessage(`{"ok":true}`)

	t.Run("PendingRowUpdated", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1", "pi_123", []byte(raw)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkPaid(context.Background(), "PAY-1", "pi_123", raw)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("AlreadyResolvedNoRows", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1", "pi_123", []byte(raw)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkPaid(context.Background(), "PAY-1", "pi_123", raw)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRepository_MarkCancelled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	t.Run("PendingRowUpdated", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkCancelled(context.Background(), "PAY-1")
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("AlreadyResolvedNoRows", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkCancelled(context.Background(), "PAY-1")
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRepository_CreateRefundTx(t *testing.T) {
	newRefund := func(amount int64) *Refund {
		return &Refund{
			ID:        "RFD-1",
			PaymentID: "PAY-1",
			OrderID:   "ORD-1",
			UserID:    7,
			Amount:    amount,
			Reason:    "customer request",
		}
	}

	t.Run("FullRefund", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT amount, status FROM payments WHERE id = \$1 FOR UPDATE`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}).AddRow(int64(500), "SUCCESS"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
		mock.ExpectExec(`INSERT INTO refunds`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE payments SET status = \$1`).
			WithArgs(driver.Value("REFUNDED"), "PAY-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		status, err := repo.CreateRefundTx(context.Background(), newRefund(500))
		assert.NoError(t, err)
		assert.Equal(t, StatusRefunded, status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PartialRefund", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT amount, status FROM payments WHERE id = \$1 FOR UPDATE`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}).AddRow(int64(500), "SUCCESS"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
		mock.ExpectExec(`INSERT INTO refunds`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE payments SET status = \$1`).
			WithArgs(driver.Value("PARTIALLY_REFUNDED"), "PAY-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		status, err := repo.CreateRefundTx(context.Background(), newRefund(300))
		assert.NoError(t, err)
		assert.Equal(t, StatusPartiallyRefunded, status)
	})

	t.Run("ExceedsBalanceUnderLock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		// 300 already refunded out of 500: another 300 is over.
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT amount, status FROM payments WHERE id = \$1 FOR UPDATE`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}).AddRow(int64(500), "PARTIALLY_REFUNDED"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(300)))
		mock.ExpectRollback()

		_, err = repo.CreateRefundTx(context.Background(), newRefund(300))
		assert.True(t, IsStateConflict(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotRefundableStatus", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT amount, status FROM payments WHERE id = \$1 FOR UPDATE`).
			WithArgs("PAY-1").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}).AddRow(int64(500), "PENDING"))
		mock.ExpectRollback()

		_, err = repo.CreateRefundTx(context.Background(), newRefund(100))
		assert.True(t, IsStateConflict(err))
	})
}

func TestRepository_ApplyWebhookTx(t *testing.T) {
	ctx := context.Background()

	newEvent := func() *WebhookEvent {
		return &WebhookEvent{
			PaymentID: "PAY-1",
			Provider:  ProviderStripe,
			EventID:   "evt_1",
			EventType: "payment_intent.succeeded",
			Payload:   json.RawMessage(`{}`),
		}
	}

	t.Run("SettlesPendingPayment", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO payment_webhook_events`).
			WithArgs("PAY-1", "stripe", "evt_1", "payment_intent.succeeded", []byte(`{}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1", "pi_123", []byte(`{}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		evt := newEvent()
		applied, dup, err := repo.ApplyWebhookTx(ctx, evt, StatusSuccess, "pi_123")
		assert.NoError(t, err)
		assert.True(t, applied)
		assert.False(t, dup)
		assert.Equal(t, int64(7), evt.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateDeliverySkipsTransition", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO payment_webhook_events`).
			WithArgs("PAY-1", "stripe", "evt_1", "payment_intent.succeeded", []byte(`{}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		applied, dup, err := repo.ApplyWebhookTx(ctx, newEvent(), StatusSuccess, "pi_123")
		assert.NoError(t, err)
		assert.False(t, applied)
		assert.True(t, dup)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ResolvedPaymentKeepsEventRow", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO payment_webhook_events`).
			WithArgs("PAY-1", "stripe", "evt_1", "payment_intent.succeeded", []byte(`{}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1", "pi_123", []byte(`{}`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		applied, dup, err := repo.ApplyWebhookTx(ctx, newEvent(), StatusSuccess, "pi_123")
		assert.NoError(t, err)
		assert.False(t, applied)
		assert.False(t, dup)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("TransitionFailureRollsBackEventRow", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		// The update dies mid-transaction: the event row must roll
		// back with it so the provider's retry is not deduped away.
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO payment_webhook_events`).
			WithArgs("PAY-1", "stripe", "evt_1", "payment_intent.succeeded", []byte(`{}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
		mock.ExpectExec(`UPDATE payments`).
			WithArgs("PAY-1", "pi_123", []byte(`{}`)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, _, err = repo.ApplyWebhookTx(ctx, newEvent(), StatusSuccess, "pi_123")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RecordOnlyForIgnoredOutcome", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO payment_webhook_events`).
			WithArgs("PAY-1", "stripe", "evt_1", "payment_intent.succeeded", []byte(`{}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
		mock.ExpectCommit()

		applied, dup, err := repo.ApplyWebhookTx(ctx, newEvent(), "", "pi_123")
		assert.NoError(t, err)
		assert.False(t, applied)
		assert.False(t, dup)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_ListPayments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	t.Run("StatusFilter", func(t *testing.T) {
		status := StatusPending

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payments WHERE 1=1 AND status = \$1`).
			WithArgs(driver.Value("PENDING")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectQuery(`FROM payments WHERE 1=1 AND status = \$1 ORDER BY created_at DESC`).
			WithArgs(driver.Value("PENDING"), int32(20), int32(0)).
			WillReturnRows(paymentRow("PAY-1", StatusPending))

		payments, total, err := repo.ListPayments(context.Background(), ListFilter{Status: &status})
		assert.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Len(t, payments, 1)
	})

	t.Run("EmptyResult", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payments WHERE 1=1`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery(`FROM payments WHERE 1=1 ORDER BY created_at DESC`).
			WithArgs(int32(20), int32(0)).
			WillReturnRows(sqlmock.NewRows(paymentCols))

		payments, total, err := repo.ListPayments(context.Background(), ListFilter{})
		assert.NoError(t, err)
		assert.Equal(t, int64(0), total)
		assert.Empty(t, payments)
	})
}

func TestRepository_GetPaymentByExternalRef(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE provider = \$1 AND external_transaction_id = \$2`).
			WithArgs("stripe", "pi_123").
			WillReturnRows(paymentRow("PAY-1", StatusPending))

		p, err := repo.GetPaymentByExternalRef(context.Background(), "stripe", "pi_123")
		assert.NoError(t, err)
		assert.Equal(t, "PAY-1", p.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM payments WHERE provider = \$1 AND external_transaction_id = \$2`).
			WithArgs("stripe", "unknown").
			WillReturnRows(sqlmock.NewRows(paymentCols))

		_, err := repo.GetPaymentByExternalRef(context.Background(), "stripe", "unknown")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}
