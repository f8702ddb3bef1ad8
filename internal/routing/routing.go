// Package routing assembles the inventory HTTP surface: the guarded view
// and API routes plus the unguarded sign-in plumbing.
package routing

import (
	"context"
	"net/http"
	"time"

	"git.sr.ht/~jakintosh/inventory/internal/views"
	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"git.sr.ht/~jakintosh/inventory/pkg/guard"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Authenticator is the sign-in surface of the credential client.
type Authenticator interface {
	Phase() credential.Phase
	HandleAuthorizationCode() http.HandlerFunc
	HandleLogout() http.HandlerFunc
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Authenticator = (*credential.Client)(nil)
var _ guard.Authority = (*credential.Client)(nil)
var _ views.Session = (*credential.Client)(nil)

type Options struct {
	Auth         Authenticator
	Guard        *guard.Guard
	Views        *views.Views
	Store        Pinger
	Origin       string
	SecureCookie bool
	Logger       *zap.Logger
}

// Routes is the route table. Names match the mux route names.
func Routes() []guard.Route {
	return []guard.Route{
		{Name: "landing", Path: "/"},
		{Name: "products", Path: "/products", RequiresAuth: true},
		{Name: "history", Path: "/products/{id}/history", RequiresAuth: true},
		{Name: "dashboard", Path: "/dashboard", RequiresAuth: true},
		{Name: "notfound", Path: "/pages/notfound"},
		{Name: "accessDenied", Path: "/auth/access"},
		{Name: "error", Path: "/auth/error"},
		{Name: "apiListProducts", Path: "/api/products", RequiresAuth: true},
		{Name: "apiCreateProduct", Path: "/api/products", RequiresAuth: true},
		{Name: "apiGetProduct", Path: "/api/products/{id}", RequiresAuth: true},
		{Name: "apiUpdateProduct", Path: "/api/products/{id}", RequiresAuth: true},
		{Name: "apiDeleteProduct", Path: "/api/products/{id}", RequiresAuth: true},
		{Name: "apiProductHistory", Path: "/api/products/{id}/history", RequiresAuth: true},
		{Name: "apiAdjustQuantity", Path: "/api/products/{id}/quantity", RequiresAuth: true},
		{Name: "apiDashboard", Path: "/api/dashboard", RequiresAuth: true},
	}
}

func BuildRouter(opts Options) (*mux.Router, error) {
	table, err := guard.NewTable(Routes()...)
	if err != nil {
		return nil, err
	}
	origin, err := parseOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	v := opts.Views

	r := mux.NewRouter()

	// plumbing stays outside the guard
	r.HandleFunc("/auth/callback", opts.Auth.HandleAuthorizationCode()).Methods(http.MethodGet)
	r.Handle("/auth/logout", sameOrigin(origin, logger)(opts.Auth.HandleLogout())).Methods(http.MethodPost)
	r.HandleFunc("/healthz", health(opts)).Methods(http.MethodGet)

	s := r.NewRoute().Subrouter()
	s.Use(logRequests(logger))
	s.Use(sameOrigin(origin, logger))
	s.Use(opts.Guard.Middleware(table, guard.MiddlewareOptions{
		Origin:       opts.Origin,
		SecureCookie: opts.SecureCookie,
	}))

	handlers := map[string]struct {
		method  string
		handler http.HandlerFunc
	}{
		"landing":           {http.MethodGet, v.Landing()},
		"products":          {http.MethodGet, v.Products()},
		"history":           {http.MethodGet, v.History()},
		"dashboard":         {http.MethodGet, v.Dashboard()},
		"notfound":          {http.MethodGet, v.NotFound()},
		"accessDenied":      {http.MethodGet, v.AccessDenied()},
		"error":             {http.MethodGet, v.Error()},
		"apiListProducts":   {http.MethodGet, v.ListProducts()},
		"apiCreateProduct":  {http.MethodPost, v.CreateProduct()},
		"apiGetProduct":     {http.MethodGet, v.GetProduct()},
		"apiUpdateProduct":  {http.MethodPut, v.UpdateProduct()},
		"apiDeleteProduct":  {http.MethodDelete, v.DeleteProduct()},
		"apiProductHistory": {http.MethodGet, v.ProductHistory()},
		"apiAdjustQuantity": {http.MethodPut, v.AdjustQuantity()},
		"apiDashboard":      {http.MethodGet, v.DashboardStats()},
	}
	for _, route := range table.Routes() {
		h := handlers[route.Name]
		s.HandleFunc(route.Path, h.handler).
			Methods(h.method).
			Name(route.Name)
	}

	r.NotFoundHandler = v.NotFound()
	return r, nil
}

func logRequests(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	Credential string `json:"credential"`
	Policy     string `json:"policy"`
	Pending    int    `json:"pending"`
	Database   string `json:"database,omitempty"`
}

func health(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := healthResponse{
			Status:     "ok",
			Credential: opts.Auth.Phase().String(),
			Policy:     opts.Guard.Policy().String(),
			Pending:    opts.Guard.Pending(),
		}
		status := http.StatusOK
		if opts.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Store.Ping(ctx); err != nil {
				res.Status = "degraded"
				res.Database = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				res.Database = "ok"
			}
		}
		returnJson(w, status, res)
	}
}
