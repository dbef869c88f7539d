// Package route holds the service-name to backend table and the path-rewrite policy.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"edge-gateway/internal/config"
)

var (
	// ErrNoService is returned when the path does not name a service at all.
	ErrNoService = errors.New("no service named in path")
	// ErrUnknownService is returned when the named service has no route.
	ErrUnknownService = errors.New("unknown service")
	// ErrUnconfigured is returned when the route exists but has no base address.
	ErrUnconfigured = errors.New("service has no configured base address")
)

// Route binds a logical service name to a backend base address.
// A Route is never modified after the table holding it is built.
type Route struct {
	Name    string
	EnvKey  string
	BaseURL *url.URL // nil when unconfigured
	Timeout time.Duration
}

// Configured reports whether the route has a base address.
func (r Route) Configured() bool {
	return r.BaseURL != nil
}

// Target is the result of resolving an inbound path.
type Target struct {
	Route     Route
	Remainder string // escaped path after "<service>/", may be empty
}

// URL returns the outbound target: base + "/" + remainder, with rawQuery
// appended unchanged. An empty remainder addresses the base itself.
func (t Target) URL(rawQuery string) string {
	s := t.Route.BaseURL.String()
	if t.Remainder != "" {
		s = strings.TrimSuffix(s, "/") + "/" + t.Remainder
	}
	if rawQuery != "" {
		s += "?" + rawQuery
	}
	return s
}

// Table is an immutable lookup from service name to Route.
type Table struct {
	routes map[string]Route
	names  []string
}

// NewTable builds a table. Later duplicates replace earlier ones.
func NewTable(routes []Route) *Table {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		t.routes[r.Name] = r
	}
	t.names = make([]string, 0, len(t.routes))
	for name := range t.routes {
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t
}

// Build creates a table from loaded configuration.
func Build(cfg *config.Config) (*Table, error) {
	routes := make([]Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		r := Route{
			Name:    rc.Name,
			EnvKey:  rc.URLEnv,
			Timeout: rc.Timeout(),
		}
		if rc.ResolvedURL != "" {
			u, err := url.Parse(rc.ResolvedURL)
			if err != nil {
				return nil, fmt.Errorf("route %q: parse base address: %w", rc.Name, err)
			}
			r.BaseURL = u
		}
		routes = append(routes, r)
	}
	return NewTable(routes), nil
}

// Lookup returns the route registered under name.
func (t *Table) Lookup(name string) (Route, bool) {
	r, ok := t.routes[name]
	return r, ok
}

// Names returns the registered service names in sorted order.
func (t *Table) Names() []string {
	return t.names
}

// Resolve splits an escaped path of the form "/<service>[/<remainder>]" and
// looks up the service. The match is anchored and case-sensitive and the
// service segment must end at "/" or at the end of the path, so
// "/order-service-old/x" never matches "order-service". Only the leading
// "/<service>/" is removed; the remainder is returned untouched.
func (t *Table) Resolve(path string) (Target, error) {
	name, remainder := Split(path)
	if name == "" {
		return Target{}, ErrNoService
	}

	r, ok := t.routes[name]
	if !ok {
		return Target{Route: Route{Name: name}}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	if !r.Configured() {
		return Target{Route: r}, fmt.Errorf("%w: %q", ErrUnconfigured, name)
	}
	return Target{Route: r, Remainder: remainder}, nil
}

// Split returns the first path segment and everything after its trailing "/".
func Split(path string) (name, remainder string) {
	path = strings.TrimPrefix(path, "/")
	name, remainder, _ = strings.Cut(path, "/")
	return name, remainder
}

// Store publishes the current table. Readers never lock; a reload replaces
// the whole table with Swap.
type Store struct {
	table atomic.Pointer[Table]
}

// NewStore returns a store serving t.
func NewStore(t *Table) *Store {
	s := &Store{}
	s.table.Store(t)
	return s
}

// Current returns the table in effect.
func (s *Store) Current() *Table {
	return s.table.Load()
}

// Swap installs t and returns the previous table.
func (s *Store) Swap(t *Table) *Table {
	return s.table.Swap(t)
}
