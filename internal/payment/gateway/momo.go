package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tokopay-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const momoBaseURL = "https://payment.momo.vn"

const (
	momoSignatureHeader = "X-Momo-Signature"
	momoNonceHeader     = "X-Momo-Nonce"
)

// momoAdapter handles the redirect wallet whose requests and callbacks
// are both signed with the same keyed-nonce scheme.
type momoAdapter struct {
	partnerCode string
	secretKey   string
	baseURL     string
	httpClient  *http.Client
}

func NewMomoAdapter(partnerCode, secretKey string) Adapter {
	if secretKey == "" {
		logger.L().Warn("momo secret key is empty")
	}

	return &momoAdapter{
		partnerCode: partnerCode,
		secretKey:   secretKey,
		baseURL:     momoBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (m *momoAdapter) Provider() string { return "momo" }

// sign computes base64(HMAC-SHA256(secret, secret || body || nonce)).
// The same function authenticates outbound requests and inbound
// callbacks.
func (m *momoAdapter) sign(body []byte, nonce string) string {
	mac := hmac.New(sha256.New, []byte(m.secretKey))
	mac.Write([]byte(m.secretKey))
	mac.Write(body)
	mac.Write([]byte(nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (m *momoAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	log := logger.L().With(
		zap.String("provider", "momo"),
		zap.String("payment_id", req.PaymentID),
		zap.Int64("amount", req.Amount),
	)

	payload := map[string]any{
		"partnerCode": m.partnerCode,
		"requestId":   req.PaymentID,
		"orderId":     req.OrderID,
		"amount":      req.Amount,
		"currency":    req.Currency,
	}

	body, err := m.do(ctx, "/v2/gateway/api/create", payload)
	if err != nil {
		log.Error("momo create failed", zap.Error(err))
		return nil, err
	}

	var res struct {
		TransID string `json:"transId"`
		PayURL  string `json:"payUrl"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Provider: "momo", Transient: false, Message: "malformed create response", Raw: body}
	}

	log.Info("momo payment created", zap.String("trans_id", res.TransID))

	return &InitiateResult{
		ExternalRef: res.TransID,
		Amount:      req.Amount,
		RedirectURL: res.PayURL,
		Raw:         body,
	}, nil
}

// Confirm performs the wallet's explicit capture call.
func (m *momoAdapter) Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*ConfirmResult, error) {
	payload := map[string]any{
		"partnerCode": m.partnerCode,
		"transId":     externalRef,
		"amount":      amount,
		"currency":    currency,
	}

	body, err := m.do(ctx, "/v2/gateway/api/capture", payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		ResultCode int `json:"resultCode"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Provider: "momo", Transient: false, Message: "malformed capture response", Raw: body}
	}

	return &ConfirmResult{Settled: res.ResultCode == 0, Raw: body}, nil
}

func (m *momoAdapter) Refund(ctx context.Context, externalRef string, amount int64, reason string) (*RefundResult, error) {
	payload := map[string]any{
		"partnerCode": m.partnerCode,
		"transId":     externalRef,
		"amount":      amount,
		"description": reason,
	}

	body, err := m.do(ctx, "/v2/gateway/api/refund", payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		RefundTransID string `json:"refundTransId"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Provider: "momo", Transient: false, Message: "malformed refund response", Raw: body}
	}

	return &RefundResult{ExternalRefundID: res.RefundTransID, Raw: body}, nil
}

func (m *momoAdapter) VerifyWebhook(payload []byte, header http.Header) error {
	signature := header.Get(momoSignatureHeader)
	nonce := header.Get(momoNonceHeader)
	if signature == "" || nonce == "" {
		return ErrInvalidSignature
	}

	expected := m.sign(payload, nonce)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func (m *momoAdapter) ParseWebhook(payload []byte) (*Event, error) {
	var evt struct {
		NotifyID   string `json:"notifyId"`
		TransID    string `json:"transId"`
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("malformed momo notification: %w", err)
	}

	outcome := OutcomeFailed
	eventType := "payment.failed"
	if evt.ResultCode == 0 {
		outcome = OutcomeSettled
		eventType = "payment.settled"
	}

	return &Event{
		ID:          evt.NotifyID,
		Type:        eventType,
		ExternalRef: evt.TransID,
		Outcome:     outcome,
		Raw:         payload,
	}, nil
}

func (m *momoAdapter) do(ctx context.Context, path string, payload map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Provider: "momo", Transient: false, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, &Error{Provider: "momo", Transient: false, Message: err.Error()}
	}

	nonce := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(momoNonceHeader, nonce)
	req.Header.Set(momoSignatureHeader, m.sign(jsonBody, nonce))

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: "momo", Transient: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "momo", Transient: true, Message: "failed to read response body"}
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Provider: "momo", Transient: true, Code: strconv.Itoa(resp.StatusCode), Message: string(body), Raw: body}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Provider: "momo", Transient: false, Code: strconv.Itoa(resp.StatusCode), Message: string(body), Raw: body}
	}

	return body, nil
}
