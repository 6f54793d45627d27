package auth

import (
	"net/http"
	"strings"
)

// ExtractAccessToken pulls the access token from the cookie (preferred)
// or the Authorization header. Token issuance lives in the identity
// service; this side only reads.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie("access_token"); err == nil {
		if cookie.Value != "" {
			return cookie.Value
		}
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
