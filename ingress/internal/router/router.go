// Package router maps connection paths to application handler sets.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/bwoudt/jambonz-go/ingress/internal/dispatch"
)

// Wildcard matches every path.
const Wildcard = "*"

// ErrRouteUnresolved is returned when no registered pattern matches a path.
var ErrRouteUnresolved = errors.New("route unresolved")

type route struct {
	pattern  string
	segments []string
	handlers *dispatch.HandlerSet
}

// Router resolves a path against an ordered table. The first registered
// pattern that matches wins.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// Use appends a pattern. Patterns are segment prefixes, so "/a" matches
// "/a" and "/a/b" but not "/ab". Use panics on a nil handler set, as
// http.ServeMux does.
func (r *Router) Use(pattern string, handlers *dispatch.HandlerSet) *Router {
	if handlers == nil {
		panic("router: nil handler set for " + pattern)
	}
	rt := route{pattern: pattern, handlers: handlers}
	if pattern != Wildcard {
		rt.segments = split(pattern)
	}
	r.mu.Lock()
	r.routes = append(r.routes, rt)
	r.mu.Unlock()
	return r
}

// UseDefault appends a wildcard route.
func (r *Router) UseDefault(handlers *dispatch.HandlerSet) *Router {
	return r.Use(Wildcard, handlers)
}

// Patterns returns the registered patterns in registration order.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.pattern
	}
	return out
}

// Resolve returns the handler set of the first matching pattern. Query
// strings and fragments are ignored.
func (r *Router) Resolve(path string) (*dispatch.HandlerSet, error) {
	segments := split(stripQuery(path))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.pattern == Wildcard || hasPrefix(segments, rt.segments) {
			return rt.handlers, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRouteUnresolved, path)
}

func stripQuery(path string) string {
	if u, err := url.Parse(path); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

func split(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func hasPrefix(segments, prefix []string) bool {
	if len(prefix) > len(segments) {
		return false
	}
	for i, seg := range prefix {
		if segments[i] != seg {
			return false
		}
	}
	return true
}
