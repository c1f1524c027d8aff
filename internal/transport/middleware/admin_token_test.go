// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminTokenAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("rejects when admin token is not configured", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
		rec := httptest.NewRecorder()

		AdminTokenAuth("", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d got %d", http.StatusInternalServerError, rec.Code)
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
		rec := httptest.NewRecorder()

		AdminTokenAuth("admin-secret", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		AdminTokenAuth("admin-secret", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("accepts valid token and records operator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
		req.Header.Set("Authorization", "Bearer admin-secret")
		req.Header.Set(HeaderOperator, "caseworker-7")
		rec := httptest.NewRecorder()

		var got auth.Operator
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = auth.OperatorFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
		AdminTokenAuth("admin-secret", logger)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
		if got.Name != "caseworker-7" || got.Via != "http" {
			t.Fatalf("unexpected operator %+v", got)
		}
	})

	t.Run("defaults operator name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
		req.Header.Set("Authorization", "Bearer admin-secret")
		rec := httptest.NewRecorder()

		var got auth.Operator
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = auth.OperatorFromContext(r.Context())
		})
		AdminTokenAuth("admin-secret", logger)(next).ServeHTTP(rec, req)

		if got.Name != defaultOperator {
			t.Fatalf("expected operator %q got %q", defaultOperator, got.Name)
		}
	})
}

func TestBearerToken(t *testing.T) {
	if got, ok := bearerToken("Bearer secret"); !ok || got != "secret" {
		t.Fatal("expected exact bearer token to be valid")
	}
	if got, ok := bearerToken("bearer secret"); !ok || got != "secret" {
		t.Fatal("expected bearer scheme to be case-insensitive")
	}
	if _, ok := bearerToken("Token secret"); ok {
		t.Fatal("expected non-bearer scheme to be invalid")
	}
	if _, ok := bearerToken("Bearer"); ok {
		t.Fatal("expected malformed header to be invalid")
	}
	if _, ok := bearerToken("Bearer "); ok {
		t.Fatal("expected empty token to be invalid")
	}
}
