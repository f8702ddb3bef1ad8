package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The remote API verifies signatures; the client only reads claims to
// label the session and estimate expiry.
func parseClaims(token string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func subjectOf(token string) string {
	claims := parseClaims(token)
	if claims == nil {
		return ""
	}
	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		return name
	}
	sub, _ := claims.GetSubject()
	return sub
}

func expiryOf(token string) time.Time {
	claims := parseClaims(token)
	if claims == nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
