package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Signature / authentication failures on inbound callbacks. These are
// rejected before any business logic runs.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Offline providers (bank transfer, COD) never call back.
var ErrWebhooksUnsupported = errors.New("provider does not deliver webhooks")

// Error is a structured provider failure. Adapters never let a raw
// transport error escape: the orchestrator uses Transient to decide
// between leaving the payment PENDING (retryable) and marking it FAILED.
type Error struct {
	Provider  string
	Transient bool
	Code      string
	Message   string
	Raw       json.RawMessage
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s provider error: %s", e.Provider, kind, e.Message)
}

// IsTransient reports whether a retry of the same call may succeed
// (network timeout, provider 5xx). Explicit declines are terminal.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Transient
}

type InitiateRequest struct {
	PaymentID string
	OrderID   string
	Amount    int64
	Currency  string
	Metadata  map[string]string
}

type InitiateResult struct {
	// Provider-side reference used for Confirm/Refund and webhook
	// correlation.
	ExternalRef string

	// Amount actually owed; adapters may adjust it (COD surcharge).
	Amount int64

	// Redirect/token artifact for wallet methods.
	RedirectURL string

	// Code displayed to the payer (virtual account number).
	PaymentCode string

	// Provider-dictated deadline; nil means the caller's default applies.
	ExpiresAt *time.Time

	Raw json.RawMessage
}

type ConfirmResult struct {
	Settled bool
	Raw     json.RawMessage
}

type RefundResult struct {
	ExternalRefundID string

	// Manual refunds are reconciled by an operator; no provider call
	// was made.
	Manual bool

	Raw json.RawMessage
}

type Outcome string

const (
	OutcomeSettled Outcome = "settled"
	OutcomeFailed  Outcome = "failed"
	OutcomeIgnored Outcome = "ignored"
)

// Event is a provider callback normalised after signature verification.
type Event struct {
	ID          string
	Type        string
	ExternalRef string
	Outcome     Outcome
	Raw         json.RawMessage
}

// Adapter is the capability contract every payment provider satisfies.
// Implementations hide request shapes, signing schemes and callback
// mechanics behind this surface; they report outcomes and never mutate
// payment state themselves.
type Adapter interface {
	Provider() string

	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*ConfirmResult, error)
	Refund(ctx context.Context, externalRef string, amount int64, reason string) (*RefundResult, error)

	// VerifyWebhook authenticates a raw callback against the
	// provider-specific signature header scheme.
	VerifyWebhook(payload []byte, header http.Header) error

	// ParseWebhook extracts the provider event after verification.
	ParseWebhook(payload []byte) (*Event, error)
}

// Registry maps provider names (the {provider} webhook path segment) to
// adapters. Built once at startup and passed in; no ambient singletons.
type Registry map[string]Adapter

func (r Registry) Lookup(provider string) (Adapter, bool) {
	a, ok := r[provider]
	return a, ok
}
