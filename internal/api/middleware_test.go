package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAuthMiddleware_RejectsWrongKey(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := InternalAuthMiddleware("expected-key")(next)

	req := httptest.NewRequest(http.MethodPost, "/wallets", nil)
	req.Header.Set("X-Internal-API-Key", "wrong-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware_RejectsWhenKeyUnconfigured(t *testing.T) {
	// An empty configured key must close the endpoint, not open it.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := InternalAuthMiddleware("")(next)

	req := httptest.NewRequest(http.MethodPost, "/wallets", nil)
	req.Header.Set("X-Internal-API-Key", "")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware_AcceptsMatchingKey(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := InternalAuthMiddleware("expected-key")(next)

	req := httptest.NewRequest(http.MethodPost, "/wallets", nil)
	req.Header.Set("X-Internal-API-Key", "expected-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
