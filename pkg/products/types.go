package products

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"
)

// Product is the remote API's product record. JSON names follow the
// remote contract.
type Product struct {
	ID              int64   `json:"id,omitempty"`
	Name            string  `json:"nombre"`
	Description     string  `json:"descripcion"`
	Category        string  `json:"categoria"`
	Price           float64 `json:"precio"`
	Cost            float64 `json:"costo"`
	Profit          float64 `json:"beneficio"`
	Tax             *int    `json:"impuesto,omitempty"`
	InitialQuantity int64   `json:"cantidadInicial"`
	MinimumStock    int64   `json:"stockMinimo,omitempty"`
}

// DeriveProfit sets Profit to Price minus Cost, rounded to cents.
func (p *Product) DeriveProfit() {
	p.Profit = math.Round((p.Price-p.Cost)*100) / 100
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Content          []T   `json:"content"`
	Page             int   `json:"page"`
	Size             int   `json:"size"`
	TotalElements    int64 `json:"totalElements"`
	TotalPages       int   `json:"totalPages"`
	First            bool  `json:"first"`
	Last             bool  `json:"last"`
	Empty            bool  `json:"empty"`
	NumberOfElements int   `json:"numberOfElements"`
}

// NewPage builds the page metadata the way the remote API does.
func NewPage[T any](content []T, page int, size int, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(size)))
	}
	return Page[T]{
		Content:          content,
		Page:             page,
		Size:             size,
		TotalElements:    total,
		TotalPages:       totalPages,
		First:            page == 0,
		Last:             page >= totalPages-1,
		Empty:            len(content) == 0,
		NumberOfElements: len(content),
	}
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListQuery filters a product listing. A nil MaxPrice means no upper
// bound; zero is a real bound.
type ListQuery struct {
	Page     int
	Size     int
	Name     string
	Category string
	MinPrice float64
	MaxPrice *float64
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	if q.MinPrice < 0 {
		q.MinPrice = 0
	}
	if q.MaxPrice != nil && *q.MaxPrice < 0 {
		q.MaxPrice = nil
	}
	return q
}

func (q ListQuery) Values() url.Values {
	q = q.normalized()
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("size", strconv.Itoa(q.Size))
	if q.Name != "" {
		v.Set("name", q.Name)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.MinPrice > 0 {
		v.Set("minPrice", strconv.FormatFloat(q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil {
		v.Set("maxPrice", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	return v
}

// ParseListQuery reads a listing filter from request query parameters,
// ignoring values that don't parse.
func ParseListQuery(v url.Values) ListQuery {
	q := ListQuery{
		Name:     v.Get("name"),
		Category: v.Get("category"),
	}
	q.Page, _ = strconv.Atoi(v.Get("page"))
	q.Size, _ = strconv.Atoi(v.Get("size"))
	q.MinPrice, _ = strconv.ParseFloat(v.Get("minPrice"), 64)
	if maxPrice, err := strconv.ParseFloat(v.Get("maxPrice"), 64); err == nil {
		q.MaxPrice = &maxPrice
	}
	return q.normalized()
}

// Timestamp reads both zoned and zoneless ISO-8601 timestamps.
type Timestamp struct {
	time.Time
}

const localDateTime = "2006-01-02T15:04:05.999999999"

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339Nano, localDateTime} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(localDateTime))
}

// QuantityChange is one entry in a product's stock history.
type QuantityChange struct {
	Username         string    `json:"username"`
	RevisionDate     Timestamp `json:"revisionDate"`
	Quantity         int64     `json:"quantity"`
	PreviousQuantity int64     `json:"previousQuantity"`
	QuantityChange   int64     `json:"quantityChange"`
}

type ProductCount struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

type CategoryCount struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
}

// Dashboard gathers the stock movement statistics.
type Dashboard struct {
	MovementsPerDay       []int64          `json:"movementsPerDay"`
	MovementsPerCategory  map[string]int64 `json:"movementsPerCategory"`
	MostMovedProduct      ProductCount     `json:"mostMovedProduct"`
	LeastMovedProduct     ProductCount     `json:"leastMovedProduct"`
	MostDemandedCategory  CategoryCount    `json:"mostDemandedCategory"`
	LeastDemandedCategory CategoryCount    `json:"leastDemandedCategory"`
}
