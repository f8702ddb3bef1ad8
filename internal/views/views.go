// Package views serves the product-management pages and the JSON
// endpoints behind them. Every handler reads and writes through the
// product client; none of them talk to the identity provider.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"git.sr.ht/~jakintosh/inventory/pkg/gateway"
	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"go.uber.org/zap"
)

// Session is what the pages show about the signed-in operator.
// *credential.Client satisfies it.
type Session interface {
	Authenticated() bool
	Subject() string
}

// Products is the slice of *products.Client the views use.
type Products interface {
	List(ctx context.Context, query products.ListQuery) (*products.Page[products.Product], error)
	Get(ctx context.Context, id int64) (*products.Product, error)
	Create(ctx context.Context, p products.Product) (*products.Product, error)
	Update(ctx context.Context, p products.Product) (*products.Product, error)
	Delete(ctx context.Context, id int64) error
	History(ctx context.Context, id int64, page int, size int) (*products.Page[products.QuantityChange], error)
	AdjustQuantity(ctx context.Context, id int64, delta int64) (*products.Product, error)
	Dashboard(ctx context.Context) (*products.Dashboard, error)
}

// Renderer executes a named page template.
type Renderer interface {
	Render(w io.Writer, name string, data any) error
}

type Options struct {
	Products  Products
	Session   Session
	Templates Renderer
	Logger    *zap.Logger
}

type Views struct {
	products  Products
	session   Session
	templates Renderer
	logger    *zap.Logger
}

func New(opts Options) *Views {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Views{
		products:  opts.Products,
		session:   opts.Session,
		templates: opts.Templates,
		logger:    logger.Named("views"),
	}
}

type errorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func decodeRequest[T any](req *T, w http.ResponseWriter, r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		returnJson(w, http.StatusUnsupportedMediaType, errorResponse{Message: "content type must be application/json"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		returnJson(w, http.StatusBadRequest, errorResponse{Message: "bad json request"})
		return false
	}
	return true
}

func returnJson(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (v *Views) logErr(r *http.Request, msg string, err error) {
	v.logger.Warn(msg,
		zap.String("method", r.Method),
		zap.String("uri", r.RequestURI),
		zap.Error(err))
}

// errorStatus maps a failed product call to the status the browser sees
// and the body it receives.
func errorStatus(err error) (int, any) {
	var invalid *products.ValidationError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, errorResponse{
			Message: products.ErrInvalidProduct.Error(),
			Fields:  invalid.Fields,
		}
	}
	if errors.Is(err, products.ErrInvalidID) {
		return http.StatusBadRequest, errorResponse{Message: err.Error()}
	}
	if apiErr, ok := gateway.AsAPIError(err); ok {
		switch apiErr.Payload.(type) {
		case map[string]any, []any:
			return apiErr.Status, apiErr.Payload
		default:
			return apiErr.Status, errorResponse{Message: apiErr.Message()}
		}
	}
	if gateway.IsTransportError(err) {
		return http.StatusBadGateway, errorResponse{Message: "service unreachable"}
	}
	return http.StatusInternalServerError, errorResponse{Message: "internal error"}
}

func (v *Views) returnErr(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		v.logErr(r, "product request failed", err)
	}
	returnJson(w, status, body)
}
