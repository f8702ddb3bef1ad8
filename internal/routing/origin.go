package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var ErrBadOrigin = errors.New("origin must be an absolute http(s) url")

func parseOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrBadOrigin, raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// requestOrigin is the Origin header, or the origin of the Referer when
// the browser sent no Origin.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	referer, err := url.Parse(r.Header.Get("Referer"))
	if err != nil || referer.Host == "" {
		return ""
	}
	return referer.Scheme + "://" + referer.Host
}

// sameOrigin rejects state-changing requests that were not sent from
// origin. Requests carrying neither Origin nor Referer are rejected too.
func sameOrigin(origin string, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if got := requestOrigin(r); got != origin {
				logger.Warn("cross-origin request rejected",
					zap.String("method", r.Method),
					zap.String("uri", r.RequestURI),
					zap.String("origin", got))
				returnJson(w, http.StatusForbidden, map[string]string{"message": "cross-origin request rejected"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func returnJson(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
