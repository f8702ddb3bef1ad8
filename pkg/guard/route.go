package guard

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoute   = errors.New("invalid route")
	ErrDuplicateRoute = errors.New("duplicate route name")
)

// Route describes one navigable view.
type Route struct {
	Name         string
	Path         string
	RequiresAuth bool
}

// Table is the route table. It is fixed at construction.
type Table struct {
	routes []Route
	byName map[string]Route
}

func NewTable(routes ...Route) (*Table, error) {
	t := &Table{
		routes: make([]Route, 0, len(routes)),
		byName: make(map[string]Route, len(routes)),
	}
	for _, route := range routes {
		if route.Name == "" || route.Path == "" {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidRoute, route)
		}
		if _, exists := t.byName[route.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Name)
		}
		t.byName[route.Name] = route
		t.routes = append(t.routes, route)
	}
	return t, nil
}

func (t *Table) Lookup(name string) (Route, bool) {
	route, ok := t.byName[name]
	return route, ok
}

// Routes returns the table in declaration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}
