package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/custodia-labs/docpipe/internal/adapters/driven/auth"
	"github.com/custodia-labs/docpipe/internal/core/domain"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"valid bearer token", "Bearer abc123", "abc123"},
		{"bearer with extra spaces", "Bearer   token-with-spaces   ", "token-with-spaces"},
		{"lowercase bearer", "bearer token123", "token123"},
		{"empty header", "", ""},
		{"no bearer prefix", "token123", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestOperatorMiddleware_NoVerifierPassesThrough(t *testing.T) {
	called := false
	handler := NewOperatorMiddleware(nil).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/", nil))

	if !called || rr.Code != http.StatusNoContent {
		t.Errorf("expected pass-through, called=%v code=%d", called, rr.Code)
	}
}

func TestOperatorMiddleware_Authenticate(t *testing.T) {
	verifier := auth.NewAdapter("operator-secret")
	now := time.Now()
	valid, err := verifier.GenerateToken(&domain.OperatorClaims{
		Subject: "ops", IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	expired, _ := verifier.GenerateToken(&domain.OperatorClaims{
		Subject: "ops", IssuedAt: now.Add(-2 * time.Hour).Unix(), ExpiresAt: now.Add(-time.Hour).Unix(),
	})
	foreign, _ := auth.NewAdapter("other-secret").GenerateToken(&domain.OperatorClaims{
		Subject: "ops", IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix(),
	})

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"missing token", "", http.StatusUnauthorized},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := NewOperatorMiddleware(verifier).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if claims := GetOperator(r.Context()); claims != nil {
					subject = claims.Subject
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			if tt.wantCode == http.StatusOK && subject != "ops" {
				t.Errorf("expected operator claims in context, got %q", subject)
			}
		})
	}
}

func TestGetOperator_NilContext(t *testing.T) {
	if GetOperator(nil) != nil {
		t.Error("expected nil for nil context")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	handler := NewLoggingMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rr.Code)
	}
}

func TestLoggingMiddleware_RecordsOperator(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	verifier := auth.NewAdapter("operator-secret")
	now := time.Now()
	token, err := verifier.GenerateToken(&domain.OperatorClaims{
		Subject: "night-shift", IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	inner := NewOperatorMiddleware(verifier).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	handler := NewLoggingMiddleware(logger).Handler(inner)

	req := httptest.NewRequest("POST", "/api/v1/documents/abc/reprocess", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http request" {
		t.Errorf("unexpected message %v", entry["msg"])
	}
	if entry["operator"] != "night-shift" {
		t.Errorf("expected operator night-shift, got %v", entry["operator"])
	}
	if entry["status"] != float64(http.StatusAccepted) {
		t.Errorf("expected status 202, got %v", entry["status"])
	}
	if entry["bytes"] != float64(len("queued")) {
		t.Errorf("expected 6 bytes, got %v", entry["bytes"])
	}
}
