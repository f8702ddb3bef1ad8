package views

import (
	"net/http"

	"git.sr.ht/~jakintosh/inventory/pkg/gateway"
	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

const serverErrorHTML = "<!doctype html><title>Error</title><h1>Internal Server Error</h1>"

type pageModel struct {
	Title         string
	User          string
	Authenticated bool
	Content       any
}

func (v *Views) model(title string, content any) pageModel {
	m := pageModel{Title: title, Content: content}
	if v.session != nil && v.session.Authenticated() {
		m.Authenticated = true
		m.User = v.session.Subject()
	}
	return m
}

func (v *Views) render(w http.ResponseWriter, r *http.Request, status int, name string, model pageModel) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := v.templates.Render(w, name, model); err != nil {
		v.logErr(r, "couldn't render template", err)
		_, _ = w.Write([]byte(serverErrorHTML))
	}
}

// renderFailure shows a failed product call on the error page, or on the
// not-found page when the API says the product doesn't exist.
func (v *Views) renderFailure(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr, ok := gateway.AsAPIError(err); ok && apiErr.Status == http.StatusNotFound {
		v.render(w, r, http.StatusNotFound, "notfound.html", v.model("Not found", nil))
		return
	}
	status, _ := errorStatus(err)
	message := "The product service is unavailable. Try again shortly."
	if apiErr, ok := gateway.AsAPIError(err); ok {
		message = apiErr.Message()
	}
	v.logErr(r, "page request failed", err)
	v.render(w, r, status, "error.html", v.model("Error", message))
}

func (v *Views) Landing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v.render(w, r, http.StatusOK, "landing.html", v.model("Home", nil))
	}
}

type productsContent struct {
	Query products.ListQuery
	Page  products.Page[products.Product]
}

func (v *Views) Products() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := products.ParseListQuery(r.URL.Query())
		page, err := v.products.List(r.Context(), query)
		if err != nil {
			v.renderFailure(w, r, err)
			return
		}
		v.render(w, r, http.StatusOK, "products.html",
			v.model("Products", productsContent{Query: query, Page: *page}))
	}
}

type historyContent struct {
	Product products.Product
	History products.Page[products.QuantityChange]
}

// History shows a product's stock movements. Ids that can't name a
// product send the browser back to the listing.
func (v *Views) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := products.ParseID(mux.Vars(r)["id"])
		if err != nil {
			http.Redirect(w, r, "/products", http.StatusSeeOther)
			return
		}
		query := products.ParseListQuery(r.URL.Query())

		var content historyContent
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			product, err := v.products.Get(ctx, id)
			if err != nil {
				return err
			}
			content.Product = *product
			return nil
		})
		g.Go(func() error {
			history, err := v.products.History(ctx, id, query.Page, query.Size)
			if err != nil {
				return err
			}
			content.History = *history
			return nil
		})
		if err := g.Wait(); err != nil {
			v.renderFailure(w, r, err)
			return
		}
		v.render(w, r, http.StatusOK, "history.html", v.model("History", content))
	}
}

func (v *Views) Dashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dashboard, err := v.products.Dashboard(r.Context())
		if err != nil {
			v.renderFailure(w, r, err)
			return
		}
		v.render(w, r, http.StatusOK, "dashboard.html", v.model("Dashboard", dashboard))
	}
}

func (v *Views) AccessDenied() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v.render(w, r, http.StatusForbidden, "access.html", v.model("Access denied", nil))
	}
}

func (v *Views) Error() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v.render(w, r, http.StatusServiceUnavailable, "error.html", v.model("Error", nil))
	}
}

func (v *Views) NotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v.render(w, r, http.StatusNotFound, "notfound.html", v.model("Not found", nil))
	}
}
