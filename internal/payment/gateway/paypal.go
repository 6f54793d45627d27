package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tokopay-be/internal/logger"

	"go.uber.org/zap"
)

const paypalBaseURL = "https://api-m.paypal.com"

// paypalAdapter handles the second redirect wallet through an
// orders/capture API.
type paypalAdapter struct {
	clientID   string
	secret     string
	baseURL    string
	httpClient *http.Client
}

func NewPayPalAdapter(clientID, secret string) Adapter {
	if clientID == "" || secret == "" {
		logger.L().Warn("paypal credentials are empty")
	}

	return &paypalAdapter{
		clientID:   clientID,
		secret:     secret,
		baseURL:    paypalBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *paypalAdapter) Provider() string { return "paypal" }

func (p *paypalAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	log := logger.L().With(
		zap.String("provider", "paypal"),
		zap.String("payment_id", req.PaymentID),
		zap.Int64("amount", req.Amount),
	)

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": req.PaymentID,
				"custom_id":    req.OrderID,
				"amount": map[string]string{
					"currency_code": req.Currency,
					"value":         minorToDecimal(req.Amount),
				},
			},
		},
	}

	body, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		log.Error("paypal order create failed", zap.Error(err))
		return nil, err
	}

	var res struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Provider: "paypal", Transient: false, Message: "malformed order response", Raw: body}
	}

	var approveURL string
	for _, link := range res.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}

	log.Info("paypal order created", zap.String("order_id", res.ID))

	return &InitiateResult{
		ExternalRef: res.ID,
		Amount:      req.Amount,
		RedirectURL: approveURL,
		Raw:         body,
	}, nil
}

// Confirm captures the approved order.
func (p *paypalAdapter) Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*ConfirmResult, error) {
	body, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+externalRef+"/capture", nil)
	if err != nil {
		return nil, err
	}

	var res struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Provider: "paypal", Transient: false, Message: "malformed capture response", Raw: body}
	}

	return &ConfirmResult{Settled: res.Status == "COMPLETED", Raw: body}, nil
}

func (p *paypalAdapter) Refund(ctx context.Context, externalRef string, amount int64, reason string) (*RefundResult, error) {
	payload := map[string]any{
		"note_to_payer": reason,
	}

	body, err := p.do(ctx, http.MethodPost, "/v2/payments/captures/"+externalRef+"/refund", payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Provider: "paypal", Transient: false, Message: "malformed refund response", Raw: body}
	}

	return &RefundResult{ExternalRefundID: res.ID, Raw: body}, nil
}

// VerifyWebhook accepts every delivery.
// TODO: call /v1/notifications/verify-webhook-signature with the
// transmission headers instead of trusting the payload.
func (p *paypalAdapter) VerifyWebhook(payload []byte, header http.Header) error {
	return nil
}

func (p *paypalAdapter) ParseWebhook(payload []byte) (*Event, error) {
	var evt struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("malformed paypal event: %w", err)
	}

	outcome := OutcomeIgnored
	switch evt.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		outcome = OutcomeSettled
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		outcome = OutcomeFailed
	}

	return &Event{
		ID:          evt.ID,
		Type:        evt.EventType,
		ExternalRef: evt.Resource.ID,
		Outcome:     outcome,
		Raw:         payload,
	}, nil
}

func (p *paypalAdapter) do(ctx context.Context, method, path string, payload map[string]any) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Provider: "paypal", Transient: false, Message: err.Error()}
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, &Error{Provider: "paypal", Transient: false, Message: err.Error()}
	}

	req.SetBasicAuth(p.clientID, p.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: "paypal", Transient: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "paypal", Transient: true, Message: "failed to read response body"}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Provider: "paypal", Transient: true, Code: strconv.Itoa(resp.StatusCode), Message: string(body), Raw: body}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Provider: "paypal", Transient: false, Code: strconv.Itoa(resp.StatusCode), Message: string(body), Raw: body}
	}

	return body, nil
}

// minorToDecimal renders integer minor units as a two-decimal string,
// the only amount format this API accepts.
func minorToDecimal(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
