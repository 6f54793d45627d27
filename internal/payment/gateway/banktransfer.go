package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// bankTransferAdapter is fully offline: it issues a virtual account
// number per payment and leaves settlement to manual verification
// against the bank ledger. There is no provider to call.
type bankTransferAdapter struct {
	accountNumber string
	expiry        time.Duration
	now           func() time.Time
}

func NewBankTransferAdapter(accountNumber string, expiry time.Duration) Adapter {
	return &bankTransferAdapter{
		accountNumber: accountNumber,
		expiry:        expiry,
		now:           time.Now,
	}
}

func (b *bankTransferAdapter) Provider() string { return "bank_transfer" }

func (b *bankTransferAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	now := b.now()

	// The suffix ties the incoming transfer back to this payment.
	virtualAccount := b.accountNumber + now.Format("0102150405")
	expiresAt := now.Add(b.expiry)

	raw, _ := json.Marshal(map[string]any{
		"virtual_account": virtualAccount,
		"amount":          req.Amount,
		"currency":        req.Currency,
		"expires_at":      expiresAt.UTC().Format(time.RFC3339),
	})

	return &InitiateResult{
		ExternalRef: virtualAccount,
		Amount:      req.Amount,
		PaymentCode: virtualAccount,
		ExpiresAt:   &expiresAt,
		Raw:         raw,
	}, nil
}

// Confirm is a ledger check stub: transfers are matched by the finance
// team before confirm is called, so the check reports settled.
func (b *bankTransferAdapter) Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*ConfirmResult, error) {
	raw, _ := json.Marshal(map[string]any{
		"ledger_check":    "ok",
		"virtual_account": externalRef,
		"amount":          amount,
	})
	return &ConfirmResult{Settled: true, Raw: raw}, nil
}

// Refund is manual: the operator wires the money back, so a synthetic
// manual-pending reference is recorded for reconciliation.
func (b *bankTransferAdapter) Refund(ctx context.Context, externalRef string, amount int64, reason string) (*RefundResult, error) {
	ref := "manual-refund-" + uuid.New().String()

	raw, _ := json.Marshal(map[string]any{
		"manual_refund_ref": ref,
		"virtual_account":   externalRef,
		"amount":            amount,
		"reason":            reason,
	})

	return &RefundResult{ExternalRefundID: ref, Manual: true, Raw: raw}, nil
}

func (b *bankTransferAdapter) VerifyWebhook(payload []byte, header http.Header) error {
	return ErrWebhooksUnsupported
}

func (b *bankTransferAdapter) ParseWebhook(payload []byte) (*Event, error) {
	return nil, ErrWebhooksUnsupported
}
