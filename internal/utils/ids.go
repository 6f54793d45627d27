package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

func generateID(prefix string) string {
	now := time.Now().UTC()

	datePart := now.Format("20060102-150405")
	millis := now.Nanosecond() / int(time.Millisecond)

	// 4-digit cryptographic random
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// fallback: time-based entropy
		n = big.NewInt(now.UnixNano() % 10000)
	}

	return fmt.Sprintf(
		"%s-%s-%03d-%04d",
		prefix,
		datePart,
		millis,
		n.Int64(),
	)
}

// GeneratePaymentID returns an opaque correlation key for a payment row.
func GeneratePaymentID() string {
	return generateID("PAY")
}

// GenerateRefundID returns an opaque correlation key for a refund row.
func GenerateRefundID() string {
	return generateID("RFD")
}
