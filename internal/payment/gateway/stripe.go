package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tokopay-be/internal/logger"

	"go.uber.org/zap"
)

const stripeBaseURL = "https://api.stripe.com"

// stripeAdapter charges cards through a Stripe-style payment-intent API.
type stripeAdapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewStripeAdapter(apiKey, webhookSecret string) Adapter {
	if apiKey == "" {
		logger.L().Warn("stripe API key is empty")
	}

	return &stripeAdapter{
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		baseURL:       stripeBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *stripeAdapter) Provider() string { return "stripe" }

type stripeIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func (s *stripeAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	log := logger.L().With(
		zap.String("provider", "stripe"),
		zap.String("payment_id", req.PaymentID),
		zap.Int64("amount", req.Amount),
	)

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("metadata[payment_id]", req.PaymentID)

	body, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, req.PaymentID)
	if err != nil {
		log.Error("stripe payment intent failed", zap.Error(err))
		return nil, err
	}

	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, &Error{Provider: "stripe", Transient: false, Message: "malformed intent response", Raw: body}
	}

	log.Info("stripe payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("status", intent.Status),
	)

	return &InitiateResult{
		ExternalRef: intent.ID,
		Amount:      req.Amount,
		Raw:         body,
	}, nil
}

func (s *stripeAdapter) Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*ConfirmResult, error) {
	body, err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+externalRef, nil, "")
	if err != nil {
		return nil, err
	}

	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, &Error{Provider: "stripe", Transient: false, Message: "malformed intent response", Raw: body}
	}

	switch intent.Status {
	case "succeeded":
		return &ConfirmResult{Settled: true, Raw: body}, nil
	case "processing", "requires_action", "requires_confirmation":
		// Still in flight on the provider side; retryable.
		return nil, &Error{Provider: "stripe", Transient: true, Code: intent.Status, Message: "intent not settled yet", Raw: body}
	default:
		return &ConfirmResult{Settled: false, Raw: body}, nil
	}
}

func (s *stripeAdapter) Refund(ctx context.Context, externalRef string, amount int64, reason string) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", externalRef)
	form.Set("amount", strconv.FormatInt(amount, 10))
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	body, err := s.do(ctx, http.MethodPost, "/v1/refunds", form, "")
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, &Error{Provider: "stripe", Transient: false, Message: "malformed refund response", Raw: body}
	}

	return &RefundResult{ExternalRefundID: refund.ID, Raw: body}, nil
}

// VerifyWebhook checks the Stripe-Signature header: HMAC-SHA256 over
// "<t>.<payload>" compared against the v1 component in constant time.
// The timestamp is extracted but not checked against a freshness
// window, matching the provider contract we run against today.
func (s *stripeAdapter) VerifyWebhook(payload []byte, header http.Header) error {
	sigHeader := header.Get("Stripe-Signature")
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	var timestamp, signature string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signature = v
		}
	}
	if timestamp == "" || signature == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *stripeAdapter) ParseWebhook(payload []byte) (*Event, error) {
	var evt struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("malformed stripe event: %w", err)
	}

	outcome := OutcomeIgnored
	switch evt.Type {
	case "payment_intent.succeeded":
		outcome = OutcomeSettled
	case "payment_intent.payment_failed", "payment_intent.canceled":
		outcome = OutcomeFailed
	}

	return &Event{
		ID:          evt.ID,
		Type:        evt.Type,
		ExternalRef: evt.Data.Object.ID,
		Outcome:     outcome,
		Raw:         payload,
	}, nil
}

func (s *stripeAdapter) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (json.RawMessage, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, &Error{Provider: "stripe", Transient: false, Message: err.Error()}
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors are retryable.
		return nil, &Error{Provider: "stripe", Transient: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "stripe", Transient: true, Message: "failed to read response body"}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Provider: "stripe", Transient: true, Code: strconv.Itoa(resp.StatusCode), Message: string(body), Raw: body}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Provider: "stripe", Transient: false, Code: strconv.Itoa(resp.StatusCode), Message: string(body), Raw: body}
	}

	return body, nil
}
