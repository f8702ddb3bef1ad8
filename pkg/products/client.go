package products

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"
)

var ErrInvalidID = errors.New("invalid product id")

// Requester sends one JSON request to the remote API and decodes the
// reply into out. *gateway.Gateway satisfies it.
type Requester interface {
	Do(ctx context.Context, method string, path string, body any, query url.Values, out any) error
}

// Client is the typed view of the remote product API.
type Client struct {
	api Requester
}

func New(api Requester) *Client {
	return &Client{api: api}
}

// ParseID reads a product id from a path segment. Ids are positive.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

func productPath(id int64) string {
	return "/productos/" + strconv.FormatInt(id, 10)
}

func (c *Client) List(ctx context.Context, query ListQuery) (*Page[Product], error) {
	page := new(Page[Product])
	if err := c.api.Do(ctx, http.MethodGet, "/productos", nil, query.Values(), page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*Product, error) {
	product := new(Product)
	if err := c.api.Do(ctx, http.MethodGet, productPath(id), nil, nil, product); err != nil {
		return nil, err
	}
	return product, nil
}

// Create validates p locally, derives its profit and sends it. Nothing is
// sent when validation fails.
func (c *Client) Create(ctx context.Context, p Product) (*Product, error) {
	p.ID = 0
	p.DeriveProfit()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	created := new(Product)
	if err := c.api.Do(ctx, http.MethodPost, "/productos", p, nil, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Update validates p locally and replaces the stored product with it.
func (c *Client) Update(ctx context.Context, p Product) (*Product, error) {
	if p.ID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, p.ID)
	}
	p.DeriveProfit()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	updated := new(Product)
	if err := c.api.Do(ctx, http.MethodPut, "/productos", p, nil, updated); err != nil {
		return nil, err
	}
	if updated.ID == 0 {
		*updated = p
	}
	return updated, nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.api.Do(ctx, http.MethodDelete, productPath(id), nil, nil, nil)
}

func (c *Client) History(ctx context.Context, id int64, page int, size int) (*Page[QuantityChange], error) {
	q := ListQuery{Page: page, Size: size}.normalized()
	query := url.Values{
		"page": {strconv.Itoa(q.Page)},
		"size": {strconv.Itoa(q.Size)},
	}

	history := new(Page[QuantityChange])
	if err := c.api.Do(ctx, http.MethodGet, productPath(id)+"/history", nil, query, history); err != nil {
		return nil, err
	}
	return history, nil
}

// AdjustQuantity adds delta (which may be negative) to a product's stock.
// The API refuses adjustments that would leave stock below the product's
// minimum.
func (c *Client) AdjustQuantity(ctx context.Context, id int64, delta int64) (*Product, error) {
	if delta == 0 {
		return nil, &ValidationError{Fields: map[string]string{"quantity": "Quantity change must not be 0"}}
	}
	query := url.Values{"quantity": {strconv.FormatInt(delta, 10)}}

	product := new(Product)
	if err := c.api.Do(ctx, http.MethodPut, productPath(id)+"/update-quantity", nil, query, product); err != nil {
		return nil, err
	}
	return product, nil
}

// Dashboard fetches every statistic concurrently. The first failure
// cancels the rest.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	d := new(Dashboard)
	g, ctx := errgroup.WithContext(ctx)

	fetch := func(stat string, out any) {
		g.Go(func() error {
			return c.api.Do(ctx, http.MethodGet, "/dashboard/"+stat, nil, nil, out)
		})
	}
	fetch("movements-per-day", &d.MovementsPerDay)
	fetch("movements-per-category", &d.MovementsPerCategory)
	fetch("most-moved-product", &d.MostMovedProduct)
	fetch("least-moved-product", &d.LeastMovedProduct)
	fetch("most-demanded-category", &d.MostDemandedCategory)
	fetch("least-demanded-category", &d.LeastDemandedCategory)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}
