package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// codAdapter settles cash on delivery: no external provider, the
// courier collects the order total plus a surcharge.
type codAdapter struct {
	fee int64
}

func NewCODAdapter(fee int64) Adapter {
	return &codAdapter{fee: fee}
}

func (c *codAdapter) Provider() string { return "cod" }

func (c *codAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	total := req.Amount + c.fee

	raw, _ := json.Marshal(map[string]any{
		"cod_fee":      c.fee,
		"order_amount": req.Amount,
		"total_amount": total,
		"currency":     req.Currency,
	})

	return &InitiateResult{
		ExternalRef: "cod-" + uuid.New().String(),
		Amount:      total,
		Raw:         raw,
	}, nil
}

// Confirm is a no-op success: the courier confirmed collection.
func (c *codAdapter) Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*ConfirmResult, error) {
	raw, _ := json.Marshal(map[string]any{
		"collected": true,
		"amount":    amount,
	})
	return &ConfirmResult{Settled: true, Raw: raw}, nil
}

// Refund is manual cash handling, tracked with a synthetic reference.
func (c *codAdapter) Refund(ctx context.Context, externalRef string, amount int64, reason string) (*RefundResult, error) {
	ref := "manual-refund-" + uuid.New().String()

	raw, _ := json.Marshal(map[string]any{
		"manual_refund_ref": ref,
		"amount":            amount,
		"reason":            reason,
	})

	return &RefundResult{ExternalRefundID: ref, Manual: true, Raw: raw}, nil
}

func (c *codAdapter) VerifyWebhook(payload []byte, header http.Header) error {
	return ErrWebhooksUnsupported
}

func (c *codAdapter) ParseWebhook(payload []byte) (*Event, error) {
	return nil, ErrWebhooksUnsupported
}
