package guard

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const DefaultNavigatorCookie = "inventory_nav"

type MiddlewareOptions struct {
	// Origin prefixes the request path to form the login return target,
	// e.g. "https://inventory.example.com".
	Origin          string
	NavigatorCookie string
	SecureCookie    bool
}

// Middleware guards every mux route whose name is in table. Routes not in
// the table pass through untouched.
func (g *Guard) Middleware(table *Table, opts MiddlewareOptions) mux.MiddlewareFunc {
	if opts.NavigatorCookie == "" {
		opts.NavigatorCookie = DefaultNavigatorCookie
	}
	origin := strings.TrimRight(opts.Origin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := mux.CurrentRoute(r)
			if current == nil {
				next.ServeHTTP(w, r)
				return
			}
			route, ok := table.Lookup(current.GetName())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision := g.Evaluate(r.Context(), Navigation{
				Navigator: navigatorID(w, r, opts),
				Route:     route,
				Target:    origin + r.URL.RequestURI(),
			})

			switch decision.Outcome {
			case Allow:
				next.ServeHTTP(w, r)
			case Redirect:
				http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			default:
				g.logger.Debug("navigation abandoned",
					zap.String("path", r.URL.Path),
					zap.String("reason", decision.Reason))
				http.Error(w, "navigation superseded", http.StatusConflict)
			}
		})
	}
}

// navigatorID identifies the browser so a newer navigation can supersede
// an older one still waiting. A cookie is issued on first sight.
func navigatorID(w http.ResponseWriter, r *http.Request, opts MiddlewareOptions) string {
	if cookie, err := r.Cookie(opts.NavigatorCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     opts.NavigatorCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
