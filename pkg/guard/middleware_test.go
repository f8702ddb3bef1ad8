package guard_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"git.sr.ht/~jakintosh/inventory/pkg/guard"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, g *guard.Guard) *mux.Router {
	t.Helper()
	table, err := guard.NewTable(landing, products)
	require.NoError(t, err)

	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	r := mux.NewRouter()
	r.HandleFunc("/", ok).Name("landing")
	r.HandleFunc("/products", ok).Name("products")
	r.HandleFunc("/auth/callback", ok)
	r.Use(g.Middleware(table, guard.MiddlewareOptions{Origin: "http://inventory.test/"}))
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RedirectsToLogin(t *testing.T) {
	t.Parallel()

	// setup env
	auth := newAuthority()
	auth.conclude(credential.PhaseReady, false)
	r := newRouter(t, guard.New(auth, guard.Options{}))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/products?page=2", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "http://idp.test/login")
	require.Equal(t, 1, auth.loginCount())
	assert.Equal(t, "http://inventory.test/products?page=2", auth.logins[0])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, guard.DefaultNavigatorCookie, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestMiddleware_AllowsPublicAndUnlistedRoutes(t *testing.T) {
	t.Parallel()

	// setup env
	auth := newAuthority()
	auth.conclude(credential.PhaseFailed, false)
	r := newRouter(t, guard.New(auth, guard.Options{}))

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/auth/callback?code=x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies(), "unguarded routes get no navigator cookie")
}

func TestMiddleware_KeepsNavigatorCookie(t *testing.T) {
	t.Parallel()

	// setup env
	auth := newAuthority()
	auth.conclude(credential.PhaseReady, true)
	r := newRouter(t, guard.New(auth, guard.Options{}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.AddCookie(&http.Cookie{Name: guard.DefaultNavigatorCookie, Value: "known"})
	rec := serve(r, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddleware_FailedProvider(t *testing.T) {
	t.Parallel()

	auth := newAuthority()
	auth.conclude(credential.PhaseFailed, false)
	r := newRouter(t, guard.New(auth, guard.Options{}))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, guard.DefaultErrorPath, rec.Header().Get("Location"))
}
