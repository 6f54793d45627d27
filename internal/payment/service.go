package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tokopay-be/internal/eventbus"
	"tokopay-be/internal/logger"
	"tokopay-be/internal/metrics"
	"tokopay-be/internal/payment/gateway"
	"tokopay-be/internal/utils"

	"go.uber.org/zap"
)

type CreatePaymentInput struct {
	OrderID  string
	UserID   uint
	Method   Method
	Amount   int64
	Currency string
	Metadata map[string]string
}

// CreatePaymentResult carries the persisted payment plus the per-method
// artifacts the checkout page needs.
type CreatePaymentResult struct {
	Payment      *Payment
	RedirectURL  string
	PaymentCode  string
	Instructions []string
}

// ConfirmPaymentInput carries the caller's view of the transaction.
// Amount and currency, when supplied, must match the stored payment;
// the transaction ID fills in the external reference for offline
// methods that have none until the payer acts.
type ConfirmPaymentInput struct {
	TransactionID string
	Amount        int64
	Currency      string
}

type RefundInput struct {
	PaymentID string
	Amount    int64
	Reason    string
}

// PaymentDetail is the read-side view: the payment with its append-only
// webhook log and refund ledger.
type PaymentDetail struct {
	Payment  *Payment
	Refunds  []*Refund
	Webhooks []*WebhookEvent
}

type Service interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error)
	ConfirmPayment(ctx context.Context, paymentID string, in ConfirmPaymentInput) (*Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*Payment, error)
	ProcessRefund(ctx context.Context, in RefundInput) (*Refund, *Payment, error)

	GetPayment(ctx context.Context, paymentID string) (*PaymentDetail, error)
	ListPayments(ctx context.Context, f ListFilter) ([]*Payment, int64, error)

	// ApplyWebhookEvent is the single entry point for verified provider
	// callbacks. It is idempotent under redelivery.
	ApplyWebhookEvent(ctx context.Context, provider string, evt *gateway.Event) error
}

type Policy struct {
	MinAmount     int64
	MaxAmount     int64
	DefaultExpiry time.Duration
}

type service struct {
	repo     Repository
	adapters gateway.Registry
	policy   Policy
	bus      *eventbus.Bus
	now      func() time.Time
}

func NewService(repo Repository, adapters gateway.Registry, policy Policy, bus *eventbus.Bus) Service {
	return &service{
		repo:     repo,
		adapters: adapters,
		policy:   policy,
		bus:      bus,
		now:      time.Now,
	}
}

func (s *service) adapterFor(p *Payment) (gateway.Adapter, error) {
	adapter, ok := s.adapters.Lookup(p.Provider)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", p.Provider)
	}
	return adapter, nil
}

// CreatePayment validates the request, asks the provider to open a
// transaction and persists the PENDING record. Nothing is persisted
// when the provider call fails: a payment row always has a provider
// counterpart.
func (s *service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "CreatePayment"),
		zap.String("order_id", in.OrderID),
		zap.String("payment_method", string(in.Method)),
		zap.Int64("amount", in.Amount),
	)

	if in.OrderID == "" {
		return nil, NewValidationError("order_id", "must not be empty")
	}
	if !ValidMethod(in.Method) {
		return nil, NewValidationError("method", fmt.Sprintf("unknown payment method %q", in.Method))
	}
	if in.Currency == "" {
		return nil, NewValidationError("currency", "must not be empty")
	}
	if in.Amount < s.policy.MinAmount {
		return nil, NewValidationError("amount", fmt.Sprintf("must be at least %d", s.policy.MinAmount))
	}
	if in.Amount > s.policy.MaxAmount {
		return nil, NewValidationError("amount", fmt.Sprintf("must not exceed %d", s.policy.MaxAmount))
	}

	provider, _ := ProviderFor(in.Method)
	adapter, ok := s.adapters.Lookup(provider)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", provider)
	}

	paymentID := utils.GeneratePaymentID()

	res, err := adapter.Initiate(ctx, gateway.InitiateRequest{
		PaymentID: paymentID,
		OrderID:   in.OrderID,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Metadata:  in.Metadata,
	})
	if err != nil {
		log.Error("provider initiate failed", zap.Error(err))
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.policy.DefaultExpiry)
	if res.ExpiresAt != nil {
		expiresAt = *res.ExpiresAt
	}

	p := &Payment{
		ID:              paymentID,
		OrderID:         in.OrderID,
		UserID:          in.UserID,
		Method:          in.Method,
		Provider:        provider,
		Amount:          res.Amount,
		Currency:        in.Currency,
		Status:          StatusPending,
		GatewayResponse: res.Raw,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if res.ExternalRef != "" {
		p.ExternalTransactionID = utils.StrPtr(res.ExternalRef)
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		log.Error("failed to persist payment", zap.Error(err))
		return nil, err
	}

	metrics.PaymentsCreated.WithLabelValues(string(in.Method)).Inc()

	s.bus.Publish(eventbus.Event{
		Type:       eventbus.PaymentCreated,
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Status:     string(p.Status),
		Amount:     p.Amount,
		Currency:   p.Currency,
		OccurredAt: now,
	})

	instructions := InjectVariables(GetInstructions(in.Method), InstructionVars{
		"amount":       strconv.FormatInt(p.Amount, 10) + " " + p.Currency,
		"payment_code": res.PaymentCode,
	})

	log.Info("payment created", zap.String("payment_id", p.ID), zap.String("provider", provider))

	return &CreatePaymentResult{
		Payment:      p,
		RedirectURL:  res.RedirectURL,
		PaymentCode:  res.PaymentCode,
		Instructions: instructions,
	}, nil
}

// ConfirmPayment checks the provider and settles the payment. A
// transient provider error leaves the payment PENDING and surfaces the
// error; a provider decline marks it FAILED and returns the payment.
func (s *service) ConfirmPayment(ctx context.Context, paymentID string, in ConfirmPaymentInput) (*Payment, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "ConfirmPayment"),
		zap.String("payment_id", paymentID),
	)

	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if in.Amount != 0 && in.Amount != p.Amount {
		return nil, NewValidationError("amount", fmt.Sprintf("does not match payment amount %d", p.Amount))
	}
	if in.Currency != "" && in.Currency != p.Currency {
		return nil, NewValidationError("currency", fmt.Sprintf("does not match payment currency %s", p.Currency))
	}

	if p.Resolved() {
		return nil, &StateConflictError{PaymentID: p.ID, Current: p.Status, Message: "payment is already resolved"}
	}
	if s.now().After(p.ExpiresAt) {
		return nil, ErrPaymentExpired
	}

	adapter, err := s.adapterFor(p)
	if err != nil {
		return nil, err
	}

	extRef := ""
	if p.ExternalTransactionID != nil {
		extRef = *p.ExternalTransactionID
	}
	if extRef == "" {
		extRef = in.TransactionID
	}

	res, err := adapter.Confirm(ctx, extRef, p.Amount, p.Currency)
	if err != nil {
		if gateway.IsTransient(err) {
			log.Warn("transient provider error, payment stays pending", zap.Error(err))
			return nil, err
		}

		// Terminal decline: record the failure.
		log.Info("provider declined payment", zap.Error(err))
		return s.transition(ctx, p, func() (bool, error) {
			return s.repo.MarkFailed(ctx, p.ID, rawOf(err))
		}, StatusFailed, eventbus.PaymentFailed)
	}

	if !res.Settled {
		log.Info("provider reports payment not settled")
		return s.transition(ctx, p, func() (bool, error) {
			return s.repo.MarkFailed(ctx, p.ID, res.Raw)
		}, StatusFailed, eventbus.PaymentFailed)
	}

	return s.transition(ctx, p, func() (bool, error) {
		return s.repo.MarkPaid(ctx, p.ID, extRef, res.Raw)
	}, StatusSuccess, eventbus.PaymentSucceeded)
}

// transition applies a guarded status update and re-reads the row. A
// lost race (guard matched zero rows) is reported as a state conflict
// with the winner's status.
func (s *service) transition(ctx context.Context, p *Payment, apply func() (bool, error), target Status, evtType eventbus.Type) (*Payment, error) {
	ok, err := apply()
	if err != nil {
		return nil, err
	}

	updated, gerr := s.repo.GetPayment(ctx, p.ID)
	if gerr != nil {
		return nil, gerr
	}

	if !ok {
		return nil, &StateConflictError{PaymentID: p.ID, Current: updated.Status, Message: "payment is already resolved"}
	}

	metrics.PaymentTransitions.WithLabelValues(string(target)).Inc()

	s.bus.Publish(eventbus.Event{
		Type:       evtType,
		PaymentID:  updated.ID,
		OrderID:    updated.OrderID,
		Status:     string(updated.Status),
		Amount:     updated.Amount,
		Currency:   updated.Currency,
		OccurredAt: s.now(),
	})

	return updated, nil
}

func (s *service) CancelPayment(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.Resolved() {
		return nil, &StateConflictError{PaymentID: p.ID, Current: p.Status, Message: "only pending payments can be cancelled"}
	}

	return s.transition(ctx, p, func() (bool, error) {
		return s.repo.MarkCancelled(ctx, p.ID)
	}, StatusCancelled, eventbus.PaymentCancelled)
}

// ProcessRefund runs the refund against the provider first, then
// finalizes the ledger row and payment status in one transaction. The
// pre-check keeps obviously over-sized refunds away from the provider;
// the transaction re-checks under lock and is authoritative.
func (s *service) ProcessRefund(ctx context.Context, in RefundInput) (*Refund, *Payment, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "ProcessRefund"),
		zap.String("payment_id", in.PaymentID),
		zap.Int64("amount", in.Amount),
	)

	if in.Amount <= 0 {
		return nil, nil, NewValidationError("amount", "must be positive")
	}
	if in.Reason == "" {
		return nil, nil, NewValidationError("reason", "must not be empty")
	}

	p, err := s.repo.GetPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, nil, err
	}

	if p.Status != StatusSuccess && p.Status != StatusPartiallyRefunded {
		return nil, nil, &StateConflictError{PaymentID: p.ID, Current: p.Status, Message: "payment is not refundable"}
	}

	refunded, err := s.repo.SumRefunded(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if refunded+in.Amount > p.Amount {
		return nil, nil, &StateConflictError{
			PaymentID: p.ID,
			Current:   p.Status,
			Message:   fmt.Sprintf("refund of %d exceeds remaining balance %d", in.Amount, p.Amount-refunded),
		}
	}

	adapter, err := s.adapterFor(p)
	if err != nil {
		return nil, nil, err
	}

	extRef := ""
	if p.ExternalTransactionID != nil {
		extRef = *p.ExternalTransactionID
	}

	rf := &Refund{
		ID:        utils.GenerateRefundID(),
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Amount:    in.Amount,
		Reason:    in.Reason,
	}

	res, err := adapter.Refund(ctx, extRef, in.Amount, in.Reason)
	if err != nil {
		if gateway.IsTransient(err) {
			log.Warn("transient provider error, refund not recorded", zap.Error(err))
			return nil, nil, err
		}

		// Terminal decline: keep an audit row, payment unchanged.
		rf.Status = RefundFailed
		rf.GatewayResponse = rawOf(err)
		if saveErr := s.repo.RecordFailedRefund(ctx, rf); saveErr != nil {
			log.Error("failed to record declined refund", zap.Error(saveErr))
		}
		metrics.RefundsProcessed.WithLabelValues(p.Provider, string(RefundFailed)).Inc()
		return nil, nil, err
	}

	rf.Status = RefundSuccess
	rf.GatewayResponse = res.Raw
	if res.ExternalRefundID != "" {
		rf.ExternalRefundID = utils.StrPtr(res.ExternalRefundID)
	}

	newStatus, err := s.repo.CreateRefundTx(ctx, rf)
	if err != nil {
		log.Error("failed to finalize refund", zap.Error(err))
		return nil, nil, err
	}

	metrics.RefundsProcessed.WithLabelValues(p.Provider, string(RefundSuccess)).Inc()
	metrics.PaymentTransitions.WithLabelValues(string(newStatus)).Inc()

	updated, err := s.repo.GetPayment(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}

	s.bus.Publish(eventbus.Event{
		Type:       eventbus.PaymentRefunded,
		PaymentID:  updated.ID,
		OrderID:    updated.OrderID,
		Status:     string(updated.Status),
		Amount:     rf.Amount,
		Currency:   updated.Currency,
		OccurredAt: s.now(),
	})

	log.Info("refund processed",
		zap.String("refund_id", rf.ID),
		zap.String("new_status", string(updated.Status)),
	)

	return rf, updated, nil
}

// ApplyWebhookEvent correlates the event, records it with dedup and
// applies the outcome through the same guarded transitions as confirm.
// An unknown external reference or a duplicate delivery is a logged
// no-op: providers retry until they see success.
func (s *service) ApplyWebhookEvent(ctx context.Context, provider string, evt *gateway.Event) error {
	log := logger.FromCtx(ctx).With(
		zap.String("method", "ApplyWebhookEvent"),
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type),
	)

	p, err := s.repo.GetPaymentByExternalRef(ctx, provider, evt.ExternalRef)
	if errors.Is(err, ErrPaymentNotFound) {
		log.Warn("webhook for unknown payment", zap.String("external_ref", evt.ExternalRef))
		metrics.WebhookEvents.WithLabelValues(provider, "unmatched").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	var target Status
	var evtType eventbus.Type
	switch evt.Outcome {
	case gateway.OutcomeSettled:
		target, evtType = StatusSuccess, eventbus.PaymentSucceeded
	case gateway.OutcomeFailed:
		target, evtType = StatusFailed, eventbus.PaymentFailed
	}

	extRef := ""
	if p.ExternalTransactionID != nil {
		extRef = *p.ExternalTransactionID
	}

	// Event row and status transition commit together: a delivery that
	// fails here leaves no dedupe trace, so the provider's retry is not
	// dropped as a duplicate.
	applied, duplicate, err := s.repo.ApplyWebhookTx(ctx, &WebhookEvent{
		PaymentID: p.ID,
		Provider:  provider,
		EventID:   evt.ID,
		EventType: evt.Type,
		Payload:   evt.Raw,
	}, target, extRef)
	if err != nil {
		return err
	}
	if duplicate {
		log.Info("duplicate webhook delivery ignored")
		metrics.WebhookEvents.WithLabelValues(provider, "duplicate").Inc()
		return nil
	}

	metrics.WebhookEvents.WithLabelValues(provider, "accepted").Inc()

	if target == "" {
		log.Info("webhook event recorded without state change")
		return nil
	}
	if !applied {
		log.Info("payment already resolved, webhook outcome dropped")
		return nil
	}

	metrics.PaymentTransitions.WithLabelValues(string(target)).Inc()

	updated, err := s.repo.GetPayment(ctx, p.ID)
	if err != nil {
		return err
	}

	s.bus.Publish(eventbus.Event{
		Type:       evtType,
		PaymentID:  updated.ID,
		OrderID:    updated.OrderID,
		Status:     string(updated.Status),
		Amount:     updated.Amount,
		Currency:   updated.Currency,
		OccurredAt: s.now(),
	})

	return nil
}

func (s *service) GetPayment(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	refunds, err := s.repo.ListRefunds(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	webhooks, err := s.repo.ListWebhookEvents(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	return &PaymentDetail{Payment: p, Refunds: refunds, Webhooks: webhooks}, nil
}

func (s *service) ListPayments(ctx context.Context, f ListFilter) ([]*Payment, int64, error) {
	return s.repo.ListPayments(ctx, f)
}

// rawOf extracts the provider payload from a gateway error for the
// audit trail.
func rawOf(err error) []byte {
	var ge *gateway.Error
	if errors.As(err, &ge) && len(ge.Raw) > 0 {
		return ge.Raw
	}
	return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
}
