// Package timeoutrules implements the per-path timeout resolver
// (component D).
package timeoutrules

import (
	"strings"
	"time"
)

// Rule is one configured (path prefix, timeout) override.
type Rule struct {
	Path    string
	Timeout time.Duration
}

// Resolver maps a request path to an effective timeout: the first
// configured override whose path is a byte-exact prefix of the request
// path, in configuration order, else the default.
type Resolver struct {
	rules    []Rule
	fallback time.Duration
}

// New builds a Resolver. rules are evaluated in the given order.
func New(rules []Rule, fallback time.Duration) *Resolver {
	return &Resolver{rules: rules, fallback: fallback}
}

// Resolve returns the effective timeout for path.
func (r *Resolver) Resolve(path string) time.Duration {
	for _, rule := range r.rules {
		if strings.HasPrefix(path, rule.Path) {
			return rule.Timeout
		}
	}
	return r.fallback
}
