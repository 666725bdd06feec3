package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"payments": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("payments")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	var env types.Envelope
	if err := json.Unmarshal(res.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Success || env.Error == nil || env.Error.Kind != coreerrors.KindRateLimited {
		t.Fatalf("expected RateLimited envelope, got %+v", env)
	}
}

func TestRateLimiterSeparatesRoutesAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"payments": {RequestsPerMinute: 1, Burst: 1},
		"escrow":   {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	payments := limiter.Middleware("payments")(okHandler())
	escrow := limiter.Middleware("escrow")(okHandler())

	send := func(h http.Handler, ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		return res.Code
	}
	if code := send(payments, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("expected payments request to succeed, got %d", code)
	}
	if code := send(escrow, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("expected escrow request to use its own bucket, got %d", code)
	}
	if code := send(payments, "198.51.100.2"); code != http.StatusOK {
		t.Fatalf("expected a different client to use its own bucket, got %d", code)
	}
	if code := send(payments, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat payments request to be limited, got %d", code)
	}
}

func TestRateLimiterForgetsIdleVisitors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(map[string]RateLimit{"payments": {RequestsPerMinute: 1, Burst: 1}}, nil)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("payments")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	now = now.Add(visitorTTL + time.Second)
	other := httptest.NewRequest(http.MethodPost, "/", nil)
	other.Header.Set("X-Real-IP", "198.51.100.9")
	handler.ServeHTTP(httptest.NewRecorder(), other)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected idle visitor to be pruned, have %d", len(limiter.visitors))
	}
}

func TestUnlimitedKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("certificates")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, res.Code)
		}
	}
}
