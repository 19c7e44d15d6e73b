// Package forwarder implements the streaming proxy engine (component E):
// it rewrites and streams an admitted request to the upstream, enforces a
// single deadline across the whole exchange, enforces the body size cap,
// and strips hop-by-hop headers symmetrically in both directions.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Result is the outcome of a forward attempt.
type Result int

const (
	Success Result = iota
	Timeout
	BadGateway
	BodyTooLarge
	ClientDisconnected
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case BadGateway:
		return "bad_gateway"
	case BodyTooLarge:
		return "body_too_large"
	case ClientDisconnected:
		return "client_disconnected"
	default:
		return "unknown"
	}
}

var errBodyTooLarge = errors.New("forwarder: request body exceeds max_body_size")

// hopByHop is the fixed set of headers meaningful only to a single
// transport hop. Names listed in an inbound/outbound Connection header
// are added to this set dynamically so both directions are scrubbed
// symmetrically.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Forwarder sends each forwarded request upstream over its http.Transport
// and streams the request and response bodies. No retries, no pooling
// beyond the Transport's own idle-connection reuse, and every I/O
// operation for a single request shares one deadline.
type Forwarder struct {
	upstream *url.URL
	client   *http.Client
}

// New builds a Forwarder targeting upstream (scheme://host[:port]).
func New(upstream string) (*Forwarder, error) {
	if !strings.Contains(upstream, "://") {
		upstream = "http://" + upstream
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("forwarder: parse upstream: %w", err)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Forwarder{
		upstream: target,
		client:   &http.Client{Transport: transport},
	}, nil
}

// Forward streams r to the upstream and writes the response to w, with
// timeout spanning the entire exchange (connect, send, response headers,
// response body). It never writes to w unless it is about to return
// Success; on any other Result the caller is responsible for producing
// the redirect response.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, clientIP string, timeout time.Duration, maxBodySize int64) Result {
	if r.ContentLength > maxBodySize {
		return BodyTooLarge
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	outURL := *f.upstream
	outURL.Path = singleJoiningSlash(f.upstream.Path, r.URL.Path)
	outURL.RawPath = ""
	outURL.RawQuery = r.URL.RawQuery

	var body io.ReadCloser = r.Body
	if body == nil {
		body = http.NoBody
	}
	counted := &countingReader{r: body, limit: maxBodySize}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), counted)
	if err != nil {
		return BadGateway
	}
	outReq.ContentLength = r.ContentLength

	copyRequestHeaders(outReq.Header, r.Header)
	outReq.Host = f.upstream.Host
	augmentForwardedHeaders(outReq.Header, r, clientIP)

	resp, err := f.client.Do(outReq)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return BodyTooLarge
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Timeout
		}
		if errors.Is(err, context.Canceled) {
			// r.Context() is canceled by net/http when the downstream
			// client's connection closes; that is a benign hangup, not an
			// upstream failure.
			return ClientDisconnected
		}
		return BadGateway
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)

	return Success
}

// singleJoiningSlash mirrors net/http/httputil's path join so a non-empty
// upstream path prefix composes cleanly with the request path.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	default:
		return a + b
	}
}

// connectionTokens returns the extra header names named in a Connection
// header value, per spec.md §4.E.1.
func connectionTokens(h http.Header) map[string]struct{} {
	extra := map[string]struct{}{}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				extra[http.CanonicalHeaderKey(tok)] = struct{}{}
			}
		}
	}
	return extra
}

func copyRequestHeaders(dst, src http.Header) {
	skip := connectionTokens(src)
	for name, values := range src {
		if _, blocked := hopByHop[name]; blocked {
			continue
		}
		if _, blocked := skip[name]; blocked {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	skip := connectionTokens(src)
	for name, values := range src {
		if _, blocked := hopByHop[name]; blocked {
			continue
		}
		if _, blocked := skip[name]; blocked {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// augmentForwardedHeaders sets/extends X-Forwarded-For/Proto/Host per
// spec.md §4.E.2.
func augmentForwardedHeaders(h http.Header, inbound *http.Request, clientIP string) {
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}

	proto := inbound.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-Host", inbound.Host)
}

// countingReader wraps the inbound request body, turning a byte count
// that exceeds limit into a distinguished error the transport will
// surface back through client.Do.
type countingReader struct {
	r     io.ReadCloser
	limit int64
	read  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.limit {
		return n, errBodyTooLarge
	}
	return n, err
}

func (c *countingReader) Close() error { return c.r.Close() }
