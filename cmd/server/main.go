package main

import (
	"net/http"

	"tokopay-be/internal/config"
	"tokopay-be/internal/db"
	"tokopay-be/internal/eventbus"
	"tokopay-be/internal/logger"
	"tokopay-be/internal/middleware"
	"tokopay-be/internal/payment"
	"tokopay-be/internal/payment/gateway"
	"tokopay-be/internal/payment/webhook"
	"tokopay-be/internal/rest"
	"tokopay-be/internal/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := db.InitDB(cfg)
	defer database.Close()

	// Adapters are built once at startup; the registry is the only
	// place provider wiring lives.
	adapters := gateway.Registry{}
	for _, a := range []gateway.Adapter{
		gateway.NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		gateway.NewMomoAdapter(cfg.MomoPartnerCode, cfg.MomoSecretKey),
		gateway.NewPayPalAdapter(cfg.PayPalClientID, cfg.PayPalSecret),
		gateway.NewBankTransferAdapter(cfg.BankAccountNumber, cfg.BankTransferExpiry),
		gateway.NewCODAdapter(cfg.CODFee),
	} {
		adapters[a.Provider()] = a
	}

	bus := eventbus.New()
	bus.Subscribe(eventbus.PaymentSucceeded, notifyTransition)
	bus.Subscribe(eventbus.PaymentFailed, notifyTransition)
	bus.Subscribe(eventbus.PaymentRefunded, notifyTransition)

	paymentRepo := payment.NewRepository(database)
	paymentSvc := payment.NewService(paymentRepo, adapters, payment.Policy{
		MinAmount:     cfg.MinAmount,
		MaxAmount:     cfg.MaxAmount,
		DefaultExpiry: cfg.PaymentExpiry,
	}, bus)

	paymentHandler := rest.NewPaymentHandler(paymentSvc)
	webhookHandler := webhook.NewHandler(adapters, paymentSvc)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", paymentHandler.Create)
	mux.HandleFunc("GET /payments", paymentHandler.List)
	mux.HandleFunc("GET /payments/{id}", paymentHandler.Get)
	mux.HandleFunc("POST /payments/{id}/confirm", paymentHandler.Confirm)
	mux.HandleFunc("POST /payments/{id}/cancel", paymentHandler.Cancel)
	mux.HandleFunc("POST /payments/{id}/refund", paymentHandler.Refund)
	mux.HandleFunc("POST /payments/webhook/{provider}", webhookHandler.Receive)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	limiter := middleware.NewRateLimiter(cfg.InternalAPIKeyHash)

	var handler http.Handler = mux
	handler = limiter.Middleware(handler)
	handler = middleware.AuthMiddleware(handler)
	handler = logger.LoggingMiddleware(handler)
	handler = logger.RequestIDMiddleware(handler)

	logger.L().Info("payment service listening", zap.String("port", cfg.AppPort))
	if err := http.ListenAndServe(":"+cfg.AppPort, handler); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

// notifyTransition stands in for the notification service call; order
// fulfillment subscribes to the same bus.
func notifyTransition(evt eventbus.Event) error {
	logger.L().Info("payment status notification",
		zap.String("event_type", string(evt.Type)),
		zap.String("payment_id", evt.PaymentID),
		zap.String("order_id", evt.OrderID),
		zap.String("status", evt.Status),
	)
	return nil
}
