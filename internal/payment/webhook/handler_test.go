package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tokopay-be/internal/payment"
	"tokopay-be/internal/payment/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

type MockAdapter struct {
	mock.Mock
	provider string
}

func (m *MockAdapter) Provider() string { return m.provider }

func (m *MockAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitiateResult), args.Error(1)
}

func (m *MockAdapter) Confirm(ctx context.Context, externalRef string, amount int64, currency string) (*gateway.ConfirmResult, error) {
	args := m.Called(ctx, externalRef, amount, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ConfirmResult), args.Error(1)
}

func (m *MockAdapter) Refund(ctx context.Context, externalRef string, amount int64, reason string) (*gateway.RefundResult, error) {
	args := m.Called(ctx, externalRef, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RefundResult), args.Error(1)
}

func (m *MockAdapter) VerifyWebhook(payload []byte, header http.Header) error {
	args := m.Called(payload, header)
	return args.Error(0)
}

func (m *MockAdapter) ParseWebhook(payload []byte) (*gateway.Event, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Event), args.Error(1)
}

type MockService struct {
	mock.Mock
}

func (m *MockService) CreatePayment(ctx context.Context, in payment.CreatePaymentInput) (*payment.CreatePaymentResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CreatePaymentResult), args.Error(1)
}

func (m *MockService) ConfirmPayment(ctx context.Context, paymentID string, in payment.ConfirmPaymentInput) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockService) CancelPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockService) ProcessRefund(ctx context.Context, in payment.RefundInput) (*payment.Refund, *payment.Payment, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*payment.Refund), args.Get(1).(*payment.Payment), args.Error(2)
}

func (m *MockService) GetPayment(ctx context.Context, paymentID string) (*payment.PaymentDetail, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentDetail), args.Error(1)
}

func (m *MockService) ListPayments(ctx context.Context, f payment.ListFilter) ([]*payment.Payment, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*payment.Payment), args.Get(1).(int64), args.Error(2)
}

func (m *MockService) ApplyWebhookEvent(ctx context.Context, provider string, evt *gateway.Event) error {
	args := m.Called(ctx, provider, evt)
	return args.Error(0)
}

// --- Tests ---

func serveWebhook(h *Handler, provider, body string, header http.Header) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/webhook/{provider}", h.Receive)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/"+provider, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Receive(t *testing.T) {
	payload := `{"id":"evt_1"}`

	t.Run("ValidDelivery", func(t *testing.T) {
		adapter := &MockAdapter{provider: "stripe"}
		svc := new(MockService)
		h := NewHandler(gateway.Registry{"stripe": adapter}, svc)

		evt := &gateway.Event{ID: "evt_1", Outcome: gateway.OutcomeSettled}
		adapter.On("VerifyWebhook", []byte(payload), mock.Anything).Return(nil)
		adapter.On("ParseWebhook", []byte(payload)).Return(evt, nil)
		svc.On("ApplyWebhookEvent", mock.Anything, "stripe", evt).Return(nil)

		rec := serveWebhook(h, "stripe", payload, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		h := NewHandler(gateway.Registry{}, new(MockService))

		rec := serveWebhook(h, "nosuch", payload, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InvalidSignature", func(t *testing.T) {
		adapter := &MockAdapter{provider: "stripe"}
		svc := new(MockService)
		h := NewHandler(gateway.Registry{"stripe": adapter}, svc)

		adapter.On("VerifyWebhook", []byte(payload), mock.Anything).Return(gateway.ErrInvalidSignature)

		rec := serveWebhook(h, "stripe", payload, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "ApplyWebhookEvent", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("OfflineProviderHasNoWebhooks", func(t *testing.T) {
		adapter := &MockAdapter{provider: "cod"}
		h := NewHandler(gateway.Registry{"cod": adapter}, new(MockService))

		adapter.On("VerifyWebhook", []byte(payload), mock.Anything).Return(gateway.ErrWebhooksUnsupported)

		rec := serveWebhook(h, "cod", payload, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		adapter := &MockAdapter{provider: "stripe"}
		h := NewHandler(gateway.Registry{"stripe": adapter}, new(MockService))

		adapter.On("VerifyWebhook", []byte(payload), mock.Anything).Return(nil)
		adapter.On("ParseWebhook", []byte(payload)).Return(nil, errors.New("malformed stripe event"))

		rec := serveWebhook(h, "stripe", payload, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ServiceFailure", func(t *testing.T) {
		adapter := &MockAdapter{provider: "stripe"}
		svc := new(MockService)
		h := NewHandler(gateway.Registry{"stripe": adapter}, svc)

		evt := &gateway.Event{ID: "evt_1"}
		adapter.On("VerifyWebhook", []byte(payload), mock.Anything).Return(nil)
		adapter.On("ParseWebhook", []byte(payload)).Return(evt, nil)
		svc.On("ApplyWebhookEvent", mock.Anything, "stripe", evt).Return(errors.New("db down"))

		rec := serveWebhook(h, "stripe", payload, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
