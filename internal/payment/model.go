package payment

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSuccess           Status = "SUCCESS"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

type Method string

const (
	MethodCard           Method = "card"
	MethodWalletA        Method = "wallet_a"
	MethodWalletB        Method = "wallet_b"
	MethodBankTransfer   Method = "bank_transfer"
	MethodCashOnDelivery Method = "cash_on_delivery"
)

// Provider names double as the {provider} segment of the webhook route.
const (
	ProviderStripe       = "stripe"
	ProviderMomo         = "momo"
	ProviderPayPal       = "paypal"
	ProviderBankTransfer = "bank_transfer"
	ProviderCOD          = "cod"
)

// Payment is one checkout attempt. Rows are never deleted; they are a
// financial record.
type Payment struct {
	ID       string `json:"paymentId"`
	OrderID  string `json:"orderId"`
	UserID   uint   `json:"userId"`
	Method   Method `json:"method"`
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"` // integer minor units
	Currency string `json:"currency"`
	Status   Status `json:"status"`

	// Provider-side reference; empty until the provider acknowledges.
	ExternalTransactionID *string `json:"externalTransactionId,omitempty"`

	// Last raw provider payload, opaque to business logic, kept for
	// audit and dispute handling.
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`

	ExpiresAt   time.Time  `json:"expiresAt"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Resolved reports whether the payment has left PENDING on the
// pay/cancel axis.
func (p *Payment) Resolved() bool {
	return p.Status != StatusPending
}

type RefundStatus string

const (
	RefundPending RefundStatus = "PENDING"
	RefundSuccess RefundStatus = "SUCCESS"
	RefundFailed  RefundStatus = "FAILED"
)

type Refund struct {
	ID               string          `json:"refundId"`
	PaymentID        string          `json:"paymentId"`
	OrderID          string          `json:"orderId"`
	UserID           uint            `json:"userId"`
	Amount           int64           `json:"amount"`
	Reason           string          `json:"reason"`
	Status           RefundStatus    `json:"status"`
	ExternalRefundID *string         `json:"externalRefundId,omitempty"`
	GatewayResponse  json.RawMessage `json:"-"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// WebhookEvent is one authenticated provider callback. The log per
// payment is append-only in arrival order; duplicates by provider event
// id are dropped, not appended.
type WebhookEvent struct {
	ID         int64           `json:"id"`
	PaymentID  string          `json:"paymentId"`
	Provider   string          `json:"provider"`
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

var methodProvider = map[Method]string{
	MethodCard:           ProviderStripe,
	MethodWalletA:        ProviderMomo,
	MethodWalletB:        ProviderPayPal,
	MethodBankTransfer:   ProviderBankTransfer,
	MethodCashOnDelivery: ProviderCOD,
}

// ProviderFor maps a payment method to its owning provider.
func ProviderFor(m Method) (string, bool) {
	p, ok := methodProvider[m]
	return p, ok
}

func ValidMethod(m Method) bool {
	_, ok := methodProvider[m]
	return ok
}
