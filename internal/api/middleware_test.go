package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		header string
		setup  func(r *http.Request)
		want   int
	}{
		{
			name: "no keys configured",
			want: http.StatusOK,
		},
		{
			name:  "valid key",
			keys:  []string{"good-key"},
			setup: func(r *http.Request) { r.Header.Set("X-API-Key", "good-key") },
			want:  http.StatusOK,
		},
		{
			name:  "invalid key",
			keys:  []string{"good-key"},
			setup: func(r *http.Request) { r.Header.Set("X-API-Key", "bad-key") },
			want:  http.StatusUnauthorized,
		},
		{
			name: "missing key",
			keys: []string{"good-key"},
			want: http.StatusUnauthorized,
		},
		{
			name:  "bearer token",
			keys:  []string{"good-key"},
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-key") },
			want:  http.StatusOK,
		},
		{
			name:   "custom header",
			keys:   []string{"good-key"},
			header: "X-Sandbox-Key",
			setup:  func(r *http.Request) { r.Header.Set("X-Sandbox-Key", "good-key") },
			want:   http.StatusOK,
		},
		{
			name: "query key on websocket upgrade",
			keys: []string{"good-key"},
			setup: func(r *http.Request) {
				r.URL.RawQuery = "api_key=good-key"
				r.Header.Set("Upgrade", "websocket")
			},
			want: http.StatusOK,
		},
		{
			name:  "query key ignored on plain request",
			keys:  []string{"good-key"},
			setup: func(r *http.Request) { r.URL.RawQuery = "api_key=good-key" },
			want:  http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthMiddleware(tt.keys, tt.header)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/execute", nil)
			if tt.setup != nil {
				tt.setup(req)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimitMiddleware(ctx, 1, 2)(okHandler)

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/languages", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i, code)
		}
	}
	if code := do("10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Errorf("burst exceeded: got status %d, want 429", code)
	}
	if code := do("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other client: got status %d, want 200", code)
	}
}

func TestRateLimitMiddleware_ZeroDisables(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimitMiddleware(ctx, 0, 0)(okHandler)
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i, rec.Code)
		}
	}
}

func TestClientLimiters_Sweep(t *testing.T) {
	l := newClientLimiters(1, 1, time.Minute)
	now := time.Now()
	l.allow("a", now)
	l.allow("b", now.Add(2*time.Minute))

	if n := l.sweep(now.Add(150 * time.Second)); n != 1 {
		t.Errorf("sweep removed %d, want 1", n)
	}
	if _, ok := l.visitors["b"]; !ok {
		t.Error("recent client was swept")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("generated id %q not echoed, header %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "given" {
		t.Errorf("got id %q, want given", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", rec.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestStatusRecorder_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	var flushed bool
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer lost http.Flusher")
		}
		f.Flush()
		flushed = true
	}))
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !flushed || !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}
