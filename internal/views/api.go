package views

import (
	"net/http"
	"strconv"

	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"github.com/gorilla/mux"
)

// pathID reads the {id} route variable, answering 400 when it isn't a
// product id.
func (v *Views) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := products.ParseID(mux.Vars(r)["id"])
	if err != nil {
		returnJson(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return 0, false
	}
	return id, true
}

func (v *Views) ListProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := v.products.List(r.Context(), products.ParseListQuery(r.URL.Query()))
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusOK, page)
	}
}

func (v *Views) GetProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := v.pathID(w, r)
		if !ok {
			return
		}
		product, err := v.products.Get(r.Context(), id)
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusOK, product)
	}
}

func (v *Views) CreateProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req products.Product
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}
		created, err := v.products.Create(r.Context(), req)
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusCreated, created)
	}
}

func (v *Views) UpdateProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := v.pathID(w, r)
		if !ok {
			return
		}
		var req products.Product
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}
		req.ID = id
		updated, err := v.products.Update(r.Context(), req)
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusOK, updated)
	}
}

func (v *Views) DeleteProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := v.pathID(w, r)
		if !ok {
			return
		}
		if err := v.products.Delete(r.Context(), id); err != nil {
			v.returnErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (v *Views) ProductHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := v.pathID(w, r)
		if !ok {
			return
		}
		query := products.ParseListQuery(r.URL.Query())
		history, err := v.products.History(r.Context(), id, query.Page, query.Size)
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusOK, history)
	}
}

type adjustRequest struct {
	Change int64 `json:"change"`
}

// AdjustQuantity applies {"change": n} to a product's stock.
func (v *Views) AdjustQuantity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := v.pathID(w, r)
		if !ok {
			return
		}
		var req adjustRequest
		if raw := r.URL.Query().Get("change"); raw != "" {
			change, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				returnJson(w, http.StatusBadRequest, errorResponse{Message: "change must be an integer"})
				return
			}
			req.Change = change
		} else if ok := decodeRequest(&req, w, r); !ok {
			return
		}

		product, err := v.products.AdjustQuantity(r.Context(), id, req.Change)
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusOK, product)
	}
}

func (v *Views) DashboardStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dashboard, err := v.products.Dashboard(r.Context())
		if err != nil {
			v.returnErr(w, r, err)
			return
		}
		returnJson(w, http.StatusOK, dashboard)
	}
}
