package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tokopay-be/internal/utils"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// Rate limit tiers
const (
	// Payment mutations and webhooks (strict)
	limitStrict = rate.Limit(2)
	burstStrict = 5

	// General (default)
	limitGeneral = rate.Limit(10)
	burstGeneral = 20

	// Internal / trusted services
	limitInternal = rate.Limit(100)
	burstInternal = 200
)

// visitor holds the rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// bcrypt hash of the internal service key; empty disables the tier.
	internalKeyHash string
}

func NewRateLimiter(internalKeyHash string) *RateLimiter {
	rl := &RateLimiter{
		visitors:        make(map[string]*visitor),
		internalKeyHash: internalKeyHash,
	}
	go rl.cleanupVisitors()
	return rl
}

// getVisitor retrieves or creates a rate limiter for the given key.
func (rl *RateLimiter) getVisitor(key string, r rate.Limit, b int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(r, b)
		rl.visitors[key] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale entries to prevent memory leaks.
func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		rl.mu.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware checks if the request is allowed by the rate limiter.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, burst, tier := rl.resolveRateTier(r)

		var identity string
		if userID, ok := utils.GetUserIDFromContext(r.Context()); ok {
			identity = fmt.Sprintf("user:%d", userID)
		} else {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			identity = "ip:" + ip
		}

		// Same caller gets separate quotas for strict vs general actions.
		key := fmt.Sprintf("%s:%s", identity, tier)

		limiter := rl.getVisitor(key, limit, burst)
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// resolveRateTier determines which rate limit policy applies.
func (rl *RateLimiter) resolveRateTier(r *http.Request) (rate.Limit, int, string) {
	// Trusted services present the internal key; compare against the
	// stored bcrypt hash so the plaintext never sits in config.
	if rl.internalKeyHash != "" {
		if key := r.Header.Get("X-Service-Auth"); key != "" {
			if bcrypt.CompareHashAndPassword([]byte(rl.internalKeyHash), []byte(key)) == nil {
				return limitInternal, burstInternal, "internal"
			}
		}
	}

	// Payment mutations and provider callbacks get the strict tier.
	if strings.HasPrefix(r.URL.Path, "/payments/webhook/") ||
		(r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/payments")) {
		return limitStrict, burstStrict, "strict"
	}

	return limitGeneral, burstGeneral, "general"
}
