package httptransport

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterBucketsPerKey(t *testing.T) {
	l := NewRateLimiter(1, 2, time.Minute)
	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, l.Allow("alice", now))
	require.True(t, l.Allow("alice", now))
	require.False(t, l.Allow("alice", now))
	require.True(t, l.Allow("bob", now))

	require.True(t, l.Allow("alice", now.Add(time.Second)))
	require.True(t, l.Allow("  ", now), "blank keys are not limited")
}

func TestRateLimiterDisabled(t *testing.T) {
	var l *RateLimiter = NewRateLimiter(0, 10, 0)
	require.Nil(t, l)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("alice", time.Now()))
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	l := NewRateLimiter(100, 100, time.Minute)
	start := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		l.Allow("idle-"+strconv.Itoa(i), start)
	}
	require.Equal(t, 100, l.size())

	later := start.Add(time.Hour)
	for i := 0; i < 412; i++ {
		l.Allow("hot", later)
	}
	require.Equal(t, 1, l.size())
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1, time.Minute)
	subject := func(r *http.Request) (string, bool) {
		id := r.Header.Get("X-Test-Subject")
		return id, id != ""
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), RateLimit(limiter, subject))

	send := func(sub, remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/reserve/stats", nil)
		req.RemoteAddr = remote
		if sub != "" {
			req.Header.Set("X-Test-Subject", sub)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusNoContent, send("alice", "10.0.0.1:1000"))
	require.Equal(t, http.StatusTooManyRequests, send("alice", "10.0.0.2:1000"))
	require.Equal(t, http.StatusNoContent, send("", "10.0.0.1:1000"))
	require.Equal(t, http.StatusTooManyRequests, send("", "10.0.0.1:2000"))
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}), RequestLogger(logger))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rr.Header().Get(HeaderRequestID))
	require.Contains(t, buf.String(), `"status":418`)
	require.Contains(t, buf.String(), seen)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "req-1", rr.Header().Get(HeaderRequestID))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mark("a"), mark("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b"}, order)
}

func TestNewServerDefaultsReadHeaderTimeout(t *testing.T) {
	srv := NewServer(ServerConfig{Address: ":0", ReadTimeout: 3 * time.Second}, http.NotFoundHandler())
	require.Equal(t, 3*time.Second, srv.ReadHeaderTimeout)
}
