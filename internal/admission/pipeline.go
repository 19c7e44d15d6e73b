// Package admission implements the admission pipeline (component F): the
// fixed, short-circuiting order of checks spec.md §4.F requires, wired to
// the ban/rate registry, the user-agent filter, the timeout resolver, and
// the forwarder.
package admission

import (
	"net"
	"net/http"
	"strconv"

	"sentryproxy/internal/config"
	"sentryproxy/internal/filter"
	"sentryproxy/internal/forwarder"
	"sentryproxy/internal/registry"
	"sentryproxy/internal/timeoutrules"
)

// Outcome unifies every terminal state a request can reach, for logging
// and metrics. It is a superset of the registry.Decision and
// forwarder.Result enums used internally.
type Outcome string

const (
	OutcomeAdmitted           Outcome = "admitted"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeBanned             Outcome = "banned"
	OutcomeBotBlocked         Outcome = "bot_blocked"
	OutcomeBodyTooLarge       Outcome = "body_too_large"
	OutcomeTimeout            Outcome = "timeout"
	OutcomeBadGateway         Outcome = "bad_gateway"
	OutcomeClientDisconnected Outcome = "client_disconnected"
)

// Pipeline holds every collaborator the admission checks need.
type Pipeline struct {
	registry  *registry.Registry
	filter    *filter.Filter
	resolver  *timeoutrules.Resolver
	forwarder *forwarder.Forwarder

	maxBodySize    int64
	botRedirectURL string
	redirects      config.ErrorRedirects
}

// Deps bundles the pipeline's collaborators for New.
type Deps struct {
	Registry  *registry.Registry
	Filter    *filter.Filter
	Resolver  *timeoutrules.Resolver
	Forwarder *forwarder.Forwarder

	MaxBodySize    int64
	BotRedirectURL string
	Redirects      config.ErrorRedirects
}

// New builds a Pipeline from its collaborators.
func New(d Deps) *Pipeline {
	return &Pipeline{
		registry:       d.Registry,
		filter:         d.Filter,
		resolver:       d.Resolver,
		forwarder:      d.Forwarder,
		maxBodySize:    d.MaxBodySize,
		botRedirectURL: d.BotRedirectURL,
		redirects:      d.Redirects,
	}
}

// ServeHTTP runs the fixed admission order of spec.md §4.F and returns the
// terminal Outcome reached, so the caller (component G) can log it.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) Outcome {
	clientIP := ClientIP(r.RemoteAddr)

	switch p.registry.Check(clientIP) {
	case registry.Banned:
		redirect(w, http.StatusFound, p.redirects.Banned)
		return OutcomeBanned
	case registry.RateLimited:
		redirect(w, http.StatusFound, p.redirects.RateLimited)
		return OutcomeRateLimited
	}

	if p.filter.IsBlocked(r.Header.Get("User-Agent")) {
		redirect(w, http.StatusMovedPermanently, p.botRedirectURL)
		return OutcomeBotBlocked
	}

	if contentLengthExceeds(r, p.maxBodySize) {
		redirect(w, http.StatusFound, p.redirects.BodyTooLarge)
		return OutcomeBodyTooLarge
	}

	timeout := p.resolver.Resolve(r.URL.Path)
	switch p.forwarder.Forward(w, r, clientIP, timeout, p.maxBodySize) {
	case forwarder.Success:
		return OutcomeAdmitted
	case forwarder.Timeout:
		redirect(w, http.StatusFound, p.redirects.Timeout)
		return OutcomeTimeout
	case forwarder.BodyTooLarge:
		redirect(w, http.StatusFound, p.redirects.BodyTooLarge)
		return OutcomeBodyTooLarge
	case forwarder.ClientDisconnected:
		// The client is already gone; writing a redirect to it would be
		// pointless.
		return OutcomeClientDisconnected
	default:
		redirect(w, http.StatusFound, p.redirects.BadGateway)
		return OutcomeBadGateway
	}
}

// contentLengthExceeds implements spec.md §4.F step 3: reject before even
// attempting to open an upstream connection when the client announced a
// body bigger than the cap.
func contentLengthExceeds(r *http.Request, max int64) bool {
	if r.ContentLength >= 0 {
		return r.ContentLength > max
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n > max
		}
	}
	return false
}

func redirect(w http.ResponseWriter, status int, location string) {
	w.Header().Set("Location", location)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

// ClientIP extracts the peer IP from a net/http RemoteAddr, trusting it
// because the edge terminator is the proxy's only peer (spec.md §4.G).
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
