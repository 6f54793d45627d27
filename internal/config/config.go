package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	// Card network credentials.
	StripeSecretKey     string
	StripeWebhookSecret string

	// Redirect wallets.
	MomoPartnerCode string
	MomoSecretKey   string
	PayPalClientID  string
	PayPalSecret    string

	// Offline methods.
	BankAccountNumber string
	CODFee            int64

	// Payment policy.
	MinAmount          int64
	MaxAmount          int64
	PaymentExpiry      time.Duration
	BankTransferExpiry time.Duration

	// bcrypt hash of the key trusted internal services send on X-Service-Auth.
	InternalAPIKeyHash string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    os.Getenv("APP_PORT"),
		AppEnv:     os.Getenv("APP_ENV"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		MomoPartnerCode:     os.Getenv("MOMO_PARTNER_CODE"),
		MomoSecretKey:       os.Getenv("MOMO_SECRET_KEY"),
		PayPalClientID:      os.Getenv("PAYPAL_CLIENT_ID"),
		PayPalSecret:        os.Getenv("PAYPAL_SECRET"),

		BankAccountNumber: os.Getenv("BANK_ACCOUNT_NUMBER"),
		CODFee:            envInt64("COD_FEE", 2000),

		MinAmount:          envInt64("PAYMENT_MIN_AMOUNT", 100),
		MaxAmount:          envInt64("PAYMENT_MAX_AMOUNT", 100000000),
		PaymentExpiry:      envDuration("PAYMENT_EXPIRY", 30*time.Minute),
		BankTransferExpiry: envDuration("BANK_TRANSFER_EXPIRY", 24*time.Hour),

		InternalAPIKeyHash: os.Getenv("INTERNAL_API_KEY_HASH"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}
