package products_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"git.sr.ht/~jakintosh/inventory/internal/testutil"
	"git.sr.ht/~jakintosh/inventory/pkg/gateway"
	"git.sr.ht/~jakintosh/inventory/pkg/products"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*products.Client, *testutil.ProductAPI) {
	t.Helper()
	api := testutil.StartProductAPI(t, nil)
	gw, err := gateway.New(nil, gateway.Options{BaseURL: api.URL})
	require.NoError(t, err)
	return products.New(gw), api
}

func widget() products.Product {
	return products.Product{
		Name:            "Widget",
		Description:     "A small widget",
		Category:        "TOOLS",
		Price:           12.5,
		Cost:            7.25,
		InitialQuantity: 20,
		MinimumStock:    5,
	}
}

func TestCreate_DerivesProfitAndReturnsProduct(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)

	created, err := client.Create(context.Background(), widget())
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 5.25, created.Profit)

	stored, ok := api.Product(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Widget", stored.Name)
}

func TestCreate_EmptyProductFailsLocally(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)

	_, err := client.Create(context.Background(), products.Product{})
	require.ErrorIs(t, err, products.ErrInvalidProduct)

	var invalid *products.ValidationError
	require.True(t, errors.As(err, &invalid))
	want := map[string]string{
		"name":        "Name is required (min 3 chars)",
		"description": "Description is required (min 3 chars)",
		"category":    "Category is required",
		"price":       "Price must be greater than 0",
		"cost":        "Cost must be greater than 0",
	}
	if diff := cmp.Diff(want, invalid.Fields); diff != "" {
		t.Fatalf("field errors mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, api.Requests(), "no request should reach the API")
}

func TestCreate_DuplicateNameIsConflict(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	api.Seed(widget(), "alice")

	_, err := client.Create(context.Background(), widget())
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok, "expected API error, got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "Nombre de producto ya existe", apiErr.Message())
}

func TestList_FiltersAndPaginates(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	for _, name := range []string{"Hammer", "Wrench", "Hammer Drill"} {
		p := widget()
		p.Name = name
		api.Seed(p, "alice")
	}

	page, err := client.List(context.Background(), products.ListQuery{Name: "hammer", Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.First)
	assert.False(t, page.Last)
	require.Len(t, page.Content, 1)
	assert.Equal(t, "Hammer Drill", page.Content[0].Name)

	requests := api.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "name=hammer&page=0&size=1", requests[0].Query)
}

func TestList_ZeroMaxPriceExcludesPricedProducts(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	api.Seed(widget(), "alice")

	free := 0.0
	page, err := client.List(context.Background(), products.ListQuery{MaxPrice: &free})
	require.NoError(t, err)
	assert.True(t, page.Empty)

	page, err = client.List(context.Background(), products.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Content, 1)
}

func TestUpdate_RecordsHistory(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	seeded := api.Seed(widget(), "alice")

	seeded.InitialQuantity = 30
	updated, err := client.Update(context.Background(), seeded)
	require.NoError(t, err)
	assert.Equal(t, int64(30), updated.InitialQuantity)

	history, err := client.History(context.Background(), seeded.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, history.Content, 2)
	assert.Equal(t, int64(30), history.Content[0].Quantity)
	assert.Equal(t, int64(10), history.Content[0].QuantityChange)
	assert.Equal(t, int64(20), history.Content[0].PreviousQuantity)
	assert.False(t, history.Content[0].RevisionDate.IsZero())
}

func TestUpdate_RequiresID(t *testing.T) {
	t.Parallel()

	client, _ := setup(t)
	_, err := client.Update(context.Background(), widget())
	assert.ErrorIs(t, err, products.ErrInvalidID)
}

func TestAdjustQuantity(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	seeded := api.Seed(widget(), "alice")

	adjusted, err := client.AdjustQuantity(context.Background(), seeded.ID, -10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), adjusted.InitialQuantity)

	_, err = client.AdjustQuantity(context.Background(), seeded.ID, -8)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Minimum stock exceeded", apiErr.Message())
}

func TestDelete_ThenGetIsNotFound(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	seeded := api.Seed(widget(), "alice")

	require.NoError(t, client.Delete(context.Background(), seeded.ID))

	_, err := client.Get(context.Background(), seeded.ID)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestDashboard(t *testing.T) {
	t.Parallel()

	// setup env
	client, api := setup(t)
	hammer := widget()
	hammer.Name = "Hammer"
	seeded := api.Seed(hammer, "alice")
	drill := widget()
	drill.Name = "Drill"
	drill.Category = "POWER"
	api.Seed(drill, "alice")
	_, err := client.AdjustQuantity(context.Background(), seeded.ID, 3)
	require.NoError(t, err)

	d, err := client.Dashboard(context.Background())
	require.NoError(t, err)

	var total int64
	for _, n := range d.MovementsPerDay {
		total += n
	}
	assert.Len(t, d.MovementsPerDay, 7)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, map[string]int64{"TOOLS": 2, "POWER": 1}, d.MovementsPerCategory)
	assert.Equal(t, products.ProductCount{Name: "Hammer", Quantity: 2}, d.MostMovedProduct)
	assert.Equal(t, products.ProductCount{Name: "Drill", Quantity: 1}, d.LeastMovedProduct)
	assert.Equal(t, products.CategoryCount{Description: "TOOLS", Quantity: 2}, d.MostDemandedCategory)
	assert.Equal(t, products.CategoryCount{Description: "POWER", Quantity: 1}, d.LeastDemandedCategory)
}

func TestDashboard_TransportFailure(t *testing.T) {
	t.Parallel()

	client, api := setup(t)
	api.Down()

	_, err := client.Dashboard(context.Background())
	assert.True(t, gateway.IsTransportError(err), "expected transport error, got %v", err)
}
