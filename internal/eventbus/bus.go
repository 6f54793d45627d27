package eventbus

import (
	"sync"
	"time"

	"tokopay-be/internal/logger"

	"go.uber.org/zap"
)

type Type string

const (
	PaymentCreated   Type = "payment.created"
	PaymentSucceeded Type = "payment.succeeded"
	PaymentFailed    Type = "payment.failed"
	PaymentCancelled Type = "payment.cancelled"
	PaymentRefunded  Type = "payment.refunded"
)

// Event is what downstream collaborators (order fulfillment,
// notification) observe when a payment changes status.
type Event struct {
	Type       Type
	PaymentID  string
	OrderID    string
	Status     string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

type HandlerFunc func(Event) error

type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]HandlerFunc
}

func New() *Bus {
	return &Bus{
		handlers: make(map[Type][]HandlerFunc),
	}
}

func (b *Bus) Subscribe(eventType Type, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish delivers the event to every subscriber. Handler failures are
// logged, never propagated: a broken notifier must not roll back a
// payment transition.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := b.handlers[evt.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(evt); err != nil {
			logger.L().Error("event handler failed",
				zap.String("event_type", string(evt.Type)),
				zap.String("payment_id", evt.PaymentID),
				zap.Error(err),
			)
		}
	}
}
