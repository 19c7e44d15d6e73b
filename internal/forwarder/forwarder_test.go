package forwarder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForward_StreamsSuccessVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Upstream-Only", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello from upstream"))
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "198.51.100.7", 5*time.Second, 1<<20)

	assert.Equal(t, Success, result)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "hello from upstream", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream-Only"))
	assert.Empty(t, rec.Header().Get("Connection"))
}

func TestForward_StripsHopByHopRequestHeaders(t *testing.T) {
	var seenHeaders http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Connection", "X-Custom-Drop")
	req.Header.Set("X-Custom-Drop", "should not reach upstream")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Keep-Me", "yes")
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 5*time.Second, 1<<20)

	require.Equal(t, Success, result)
	assert.Empty(t, seenHeaders.Get("X-Custom-Drop"))
	assert.Empty(t, seenHeaders.Get("Keep-Alive"))
	assert.Equal(t, "yes", seenHeaders.Get("X-Keep-Me"))
}

func TestForward_AppendsXForwardedFor(t *testing.T) {
	var gotXFF, gotProto, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotProto = r.Header.Get("X-Forwarded-Proto")
		gotHost = r.Header.Get("X-Forwarded-Host")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	req.Host = "edge.example.com"
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "198.51.100.7", 5*time.Second, 1<<20)

	require.Equal(t, Success, result)
	assert.True(t, strings.HasSuffix(gotXFF, "198.51.100.7"))
	assert.Equal(t, "http", gotProto)
	assert.Equal(t, "edge.example.com", gotHost)
}

func TestForward_ContentLengthPrecheckRejectsBeforeDialing(t *testing.T) {
	dialed := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	body := strings.NewReader(strings.Repeat("x", 10))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.ContentLength = 11 // one over the cap, lie about the real body size
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 5*time.Second, 10)

	assert.Equal(t, BodyTooLarge, result)
	assert.False(t, dialed)
}

func TestForward_ContentLengthExactlyAtCapIsAdmitted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 10)))
	req.ContentLength = 10
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 5*time.Second, 10)

	assert.Equal(t, Success, result)
	assert.Equal(t, strings.Repeat("x", 10), rec.Body.String())
}

func TestForward_BodyExceedingCapMidStreamIsRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	// No Content-Length (chunked), but the body streams past the cap.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 20)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 5*time.Second, 10)

	assert.Equal(t, BodyTooLarge, result)
}

func TestForward_ConnectionRefusedIsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := upstream.URL
	upstream.Close() // closed immediately: nothing is listening anymore

	fwd, err := New(addr)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 5*time.Second, 1<<20)
	assert.Equal(t, BadGateway, result)
}

func TestForward_UpstreamTimeoutYieldsTimeout(t *testing.T) {
	block := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer upstream.Close()
	defer close(block)

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 50*time.Millisecond, 1<<20)
	assert.Equal(t, Timeout, result)
}

func TestForward_ClientDisconnectYieldsClientDisconnected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	fwd, err := New(upstream.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // simulates the client having already closed its connection

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	result := fwd.Forward(rec, req, "10.0.0.1", 5*time.Second, 1<<20)
	assert.Equal(t, ClientDisconnected, result)
}
