package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"github.com/gorilla/mux"
)

// TokenVerifier checks a bearer token and returns the caller's name.
type TokenVerifier func(token string) (string, error)

// RecordedRequest is what the fake API saw of one request.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
}

type movement struct {
	productID int64
	username  string
	date      time.Time
	change    int64
	actual    int64
}

// ProductAPI is an in-memory stand-in for the remote product API. It
// follows the same paths, payloads and error statuses.
type ProductAPI struct {
	URL string

	server *httptest.Server
	verify TokenVerifier

	mu        sync.Mutex
	nextID    int64
	products  map[int64]products.Product
	active    map[int64]bool
	movements []movement
	requests  []RecordedRequest
	now       func() time.Time
}

// StartProductAPI serves a fresh ProductAPI until the test ends. With a
// nil verifier every request is accepted.
func StartProductAPI(t testing.TB, verify TokenVerifier) *ProductAPI {
	t.Helper()
	api := &ProductAPI{
		verify:   verify,
		nextID:   1,
		products: make(map[int64]products.Product),
		active:   make(map[int64]bool),
		now:      time.Now,
	}
	api.server = httptest.NewServer(api.router())
	api.URL = api.server.URL
	t.Cleanup(api.server.Close)
	return api
}

// Down stops the server so later requests fail at the transport.
func (a *ProductAPI) Down() {
	a.server.CloseClientConnections()
	a.server.Close()
}

// Seed stores p as if it had been created by user and returns it with its
// id.
func (a *ProductAPI) Seed(p products.Product, user string) products.Product {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insert(p, user)
}

func (a *ProductAPI) insert(p products.Product, user string) products.Product {
	p.ID = a.nextID
	a.nextID++
	a.products[p.ID] = p
	a.active[p.ID] = true
	a.movements = append(a.movements, movement{
		productID: p.ID,
		username:  user,
		date:      a.now(),
		change:    p.InitialQuantity,
		actual:    p.InitialQuantity,
	})
	return p
}

// Requests returns every request seen so far.
func (a *ProductAPI) Requests() []RecordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.requests)
}

func (a *ProductAPI) Product(id int64) (products.Product, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.products[id]
	return p, ok && a.active[id]
}

func (a *ProductAPI) router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.record, a.authorize)
	r.HandleFunc("/productos", a.list).Methods(http.MethodGet)
	r.HandleFunc("/productos", a.create).Methods(http.MethodPost)
	r.HandleFunc("/productos", a.update).Methods(http.MethodPut)
	r.HandleFunc("/productos/{id:[0-9]+}", a.get).Methods(http.MethodGet)
	r.HandleFunc("/productos/{id:[0-9]+}", a.remove).Methods(http.MethodDelete)
	r.HandleFunc("/productos/{id:[0-9]+}/history", a.history).Methods(http.MethodGet)
	r.HandleFunc("/productos/{id:[0-9]+}/update-quantity", a.adjust).Methods(http.MethodPut)
	r.HandleFunc("/dashboard/{stat}", a.dashboard).Methods(http.MethodGet)
	return r
}

func (a *ProductAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.requests = append(a.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
		})
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (a *ProductAPI) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.verify == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := a.verify(token); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *ProductAPI) username(r *http.Request) string {
	if a.verify == nil {
		return "anonymous"
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	name, _ := a.verify(token)
	return name
}

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg, Status: status})
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Objeto no encontrado"))
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func intParam(r *http.Request, name string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return fallback
}

func paginate[T any](items []T, page int, size int) products.Page[T] {
	if size <= 0 {
		size = products.DefaultPageSize
	}
	start := min(page*size, len(items))
	end := min(start+size, len(items))
	return products.NewPage(items[start:end], page, size, int64(len(items)))
}

func (a *ProductAPI) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := strings.ToLower(q.Get("name"))
	category := q.Get("category")
	minPrice, _ := strconv.ParseFloat(q.Get("minPrice"), 64)
	maxPrice := -1.0
	if v, err := strconv.ParseFloat(q.Get("maxPrice"), 64); err == nil {
		maxPrice = v
	}

	a.mu.Lock()
	var matched []products.Product
	for id, p := range a.products {
		switch {
		case !a.active[id]:
		case name != "" && !strings.Contains(strings.ToLower(p.Name), name):
		case category != "" && p.Category != category:
		case p.Price < minPrice:
		case maxPrice >= 0 && p.Price > maxPrice:
		default:
			matched = append(matched, p)
		}
	}
	a.mu.Unlock()

	slices.SortFunc(matched, func(x, y products.Product) int {
		return int(y.ID - x.ID)
	})
	writeJSON(w, http.StatusOK, paginate(matched, intParam(r, "page", 0), intParam(r, "size", products.DefaultPageSize)))
}

func (a *ProductAPI) get(w http.ResponseWriter, r *http.Request) {
	p, ok := a.Product(pathID(r))
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func validateProduct(p products.Product) string {
	switch {
	case len(p.Name) < 3:
		return "Name is required"
	case len(p.Description) < 3:
		return "Description is required"
	case p.Category == "":
		return "Category is required"
	case p.Price < 0 || p.Cost < 0:
		return "Price and cost must not be negative"
	}
	return ""
}

func (a *ProductAPI) create(w http.ResponseWriter, r *http.Request) {
	var p products.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := validateProduct(p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if p.InitialQuantity < p.MinimumStock {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	user := a.username(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, existing := range a.products {
		if a.active[id] && existing.Name == p.Name {
			writeError(w, http.StatusConflict, "Nombre de producto ya existe")
			return
		}
	}
	writeJSON(w, http.StatusOK, a.insert(p, user))
}

func (a *ProductAPI) update(w http.ResponseWriter, r *http.Request) {
	var p products.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := validateProduct(p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	user := a.username(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.products[p.ID]
	if !ok || !a.active[p.ID] {
		writeError(w, http.StatusNotFound, "Producto no encontrado")
		return
	}
	if old.InitialQuantity != p.InitialQuantity {
		change := p.InitialQuantity - old.InitialQuantity
		if change < 0 {
			change = -change
		}
		a.movements = append(a.movements, movement{
			productID: p.ID,
			username:  user,
			date:      a.now(),
			change:    change,
			actual:    p.InitialQuantity,
		})
	}
	a.products[p.ID] = p
	writeJSON(w, http.StatusOK, p)
}

func (a *ProductAPI) remove(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.products[id]
	if !ok || !a.active[id] {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	a.active[id] = false
	writeJSON(w, http.StatusOK, p)
}

func (a *ProductAPI) history(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	a.mu.Lock()
	if !a.active[id] {
		a.mu.Unlock()
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	var changes []products.QuantityChange
	for i := len(a.movements) - 1; i >= 0; i-- {
		m := a.movements[i]
		if m.productID != id {
			continue
		}
		changes = append(changes, products.QuantityChange{
			Username:         m.username,
			RevisionDate:     products.Timestamp{Time: m.date},
			Quantity:         m.actual,
			PreviousQuantity: m.actual - m.change,
			QuantityChange:   m.change,
		})
	}
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, paginate(changes, intParam(r, "page", 0), intParam(r, "size", products.DefaultPageSize)))
}

func (a *ProductAPI) adjust(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	delta, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	user := a.username(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.products[id]
	if !ok || !a.active[id] {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	if p.InitialQuantity+delta < p.MinimumStock {
		writeError(w, http.StatusBadRequest, "Minimum stock exceeded")
		return
	}
	p.InitialQuantity += delta
	a.products[id] = p
	a.movements = append(a.movements, movement{
		productID: id,
		username:  user,
		date:      a.now(),
		change:    delta,
		actual:    p.InitialQuantity,
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *ProductAPI) dashboard(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	perDay := make([]int64, 7)
	perCategory := make(map[string]int64)
	perProduct := make(map[int64]int64)
	for id, p := range a.products {
		if a.active[id] {
			perCategory[p.Category] += 0
		}
	}
	for _, m := range a.movements {
		if !a.active[m.productID] {
			continue
		}
		// weeks start on monday
		perDay[(int(m.date.Weekday())+6)%7]++
		perCategory[a.products[m.productID].Category]++
		perProduct[m.productID]++
	}
	names := make(map[int64]string, len(perProduct))
	for id := range perProduct {
		names[id] = a.products[id].Name
	}
	a.mu.Unlock()

	switch mux.Vars(r)["stat"] {
	case "movements-per-day":
		writeJSON(w, http.StatusOK, perDay)
	case "movements-per-category":
		writeJSON(w, http.StatusOK, perCategory)
	case "most-moved-product":
		writeJSON(w, http.StatusOK, extreme(perProduct, names, true))
	case "least-moved-product":
		writeJSON(w, http.StatusOK, extreme(perProduct, names, false))
	case "most-demanded-category":
		writeJSON(w, http.StatusOK, categoryExtreme(perCategory, true))
	case "least-demanded-category":
		writeJSON(w, http.StatusOK, categoryExtreme(perCategory, false))
	default:
		notFound(w)
	}
}

func extreme(counts map[int64]int64, names map[int64]string, most bool) map[string]any {
	var (
		bestID    int64
		bestCount int64
		found     bool
	)
	for id, count := range counts {
		if !found || (most && count > bestCount) || (!most && count < bestCount) ||
			(count == bestCount && id < bestID) {
			bestID, bestCount, found = id, count, true
		}
	}
	if !found {
		return map[string]any{}
	}
	return map[string]any{"name": names[bestID], "quantity": bestCount}
}

func categoryExtreme(counts map[string]int64, most bool) map[string]any {
	var (
		best      string
		bestCount int64
		found     bool
	)
	for category, count := range counts {
		if !found || (most && count > bestCount) || (!most && count < bestCount) ||
			(count == bestCount && category < best) {
			best, bestCount, found = category, count, true
		}
	}
	if !found {
		return map[string]any{}
	}
	return map[string]any{"description": best, "quantity": bestCount}
}
