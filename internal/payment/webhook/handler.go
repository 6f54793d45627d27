package webhook

import (
	"errors"
	"io"
	"net/http"

	"tokopay-be/internal/logger"
	"tokopay-be/internal/metrics"
	"tokopay-be/internal/payment"
	"tokopay-be/internal/payment/gateway"
	"tokopay-be/internal/utils"

	"go.uber.org/zap"
)

// maxPayloadBytes caps webhook bodies; provider events are small.
const maxPayloadBytes = 1 << 20

// Handler is the single inbound door for provider callbacks. It
// authenticates and normalises deliveries, then hands the event to the
// orchestrator; it never touches payment state itself.
type Handler struct {
	adapters gateway.Registry
	service  payment.Service
}

func NewHandler(adapters gateway.Registry, service payment.Service) *Handler {
	return &Handler{adapters: adapters, service: service}
}

// Receive handles POST /payments/webhook/{provider}.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	ctx := logger.WithProvider(r.Context(), provider)
	log := logger.FromCtx(ctx)

	adapter, ok := h.adapters.Lookup(provider)
	if !ok {
		utils.WriteJSONError(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		utils.WriteJSONError(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	if err := adapter.VerifyWebhook(body, r.Header); err != nil {
		if errors.Is(err, gateway.ErrWebhooksUnsupported) {
			utils.WriteJSONError(w, "provider does not deliver webhooks", http.StatusNotFound)
			return
		}

		log.Warn("webhook signature rejected", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(provider, "rejected").Inc()
		utils.WriteJSONError(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evt, err := adapter.ParseWebhook(body)
	if err != nil {
		log.Warn("webhook payload rejected", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(provider, "rejected").Inc()
		utils.WriteJSONError(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := h.service.ApplyWebhookEvent(ctx, provider, evt); err != nil {
		log.Error("failed to apply webhook event", zap.Error(err))
		utils.WriteJSONError(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	// Always 200 once processed, including unknown references and
	// duplicates, so the provider stops retrying.
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
