//go:build e2e

package routing_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/inventory/internal/testutil"
	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

func launchBrowser(t *testing.T) *rod.Browser {
	t.Helper()
	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		t.Skipf("no browser available: %v", err)
	}
	t.Cleanup(l.Cleanup)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		t.Fatalf("connect browser: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })
	return browser
}

func signIn(t *testing.T, page *rod.Page, username string, password string) {
	t.Helper()
	page.MustElement("#username").MustInput(username)
	page.MustElement("#password").MustInput(password)
	page.MustElement("#kc-login").MustClick()
	page.MustWaitLoad()
}

func TestBrowser_LoginThenProducts(t *testing.T) {
	// setup env
	env := testutil.SetupTestEnv(t, testutil.EnvOptions{})
	env.API.Seed(products.Product{
		Name:            "Laptop",
		Description:     "Work laptop",
		Category:        "Electronics",
		Price:           1200,
		Cost:            800,
		InitialQuantity: 3,
	}, testutil.TestUser)
	browser := launchBrowser(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	page := browser.Context(ctx).MustPage(env.URL + "/products")
	defer page.MustClose()
	page.MustWaitLoad()

	if !strings.HasPrefix(page.MustInfo().URL, env.IdP.URL) {
		t.Fatalf("expected the identity provider login page, got %s", page.MustInfo().URL)
	}
	signIn(t, page, testutil.TestUser, testutil.TestPassword)

	u, err := url.Parse(page.MustInfo().URL)
	if err != nil {
		t.Fatalf("bad page url: %v", err)
	}
	if u.Path != "/products" {
		t.Fatalf("expected to land on /products, got %s", u.Path)
	}
	if text := page.MustElement("#products").MustText(); !strings.Contains(text, "Laptop") {
		t.Errorf("expected the product table to list Laptop, got %q", text)
	}
	if user := page.MustElement("#user").MustText(); user != testutil.TestUser {
		t.Errorf("expected %s in the nav, got %q", testutil.TestUser, user)
	}
}

func TestBrowser_WrongPassword(t *testing.T) {
	// setup env
	env := testutil.SetupTestEnv(t, testutil.EnvOptions{})
	browser := launchBrowser(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	page := browser.Context(ctx).MustPage(env.URL + "/dashboard")
	defer page.MustClose()
	page.MustWaitLoad()

	signIn(t, page, testutil.TestUser, "not-the-password")

	if !strings.HasPrefix(page.MustInfo().URL, env.IdP.URL) {
		t.Fatalf("expected to stay on the login page, got %s", page.MustInfo().URL)
	}
	if !strings.Contains(page.MustElement("body").MustText(), "Invalid username or password.") {
		t.Error("expected the login error message")
	}
	if env.Credentials.Authenticated() {
		t.Error("expected to remain signed out")
	}
}
