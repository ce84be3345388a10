// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/models"
)

func TestWithLogging(t *testing.T) {
	handlerCalled := false
	handler := WithLogging(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("success"))
	})

	req := httptest.NewRequest("GET", "/test-path", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if !handlerCalled {
		t.Error("Expected handler to be called")
	}
	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if w.Body.String() != "success" {
		t.Errorf("Expected body 'success', got '%s'", w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}
}

func TestWithLogging_KeepsClientRequestID(t *testing.T) {
	handler := WithLogging(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	handler(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected request id 'abc-123', got '%s'", got)
	}
}

func TestJSONResponse(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		data       any
		expected   string
	}{
		{
			name:       "simple struct",
			statusCode: http.StatusOK,
			data:       map[string]string{"message": "hello"},
			expected:   `{"message":"hello"}`,
		},
		{
			name:       "created response",
			statusCode: http.StatusCreated,
			data:       models.CreateDraftResponse{DraftID: 7, AdminKey: "key456"},
			expected:   `{"draft_id":7,"admin_key":"key456"}`,
		},
		{
			name:       "error response",
			statusCode: http.StatusBadRequest,
			data:       models.ErrorResponse{Error: "Bad Request", Code: "invalid_payload", Message: "missing field"},
			expected:   `{"error":"Bad Request","code":"invalid_payload","message":"missing field"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JSONResponse(w, tc.statusCode, tc.data)

			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
			}
			if body := strings.TrimSpace(w.Body.String()); body != tc.expected {
				t.Errorf("Expected body '%s', got '%s'", tc.expected, body)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		status   int
		code     string
		leakText bool
	}{
		{"validation", apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "bad"), http.StatusBadRequest, apperr.CodeInvalidPayload, true},
		{"configuration", apperr.New(apperr.KindConfiguration, apperr.CodeEmptyWalletSet, "empty"), http.StatusBadRequest, apperr.CodeEmptyWalletSet, true},
		{"auth", apperr.New(apperr.KindAuthentication, apperr.CodeBadSignature, "sig"), http.StatusUnauthorized, apperr.CodeBadSignature, true},
		{"eligibility", apperr.New(apperr.KindEligibility, apperr.CodeNotEligible, "no"), http.StatusForbidden, apperr.CodeNotEligible, true},
		{"not found", apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "gone"), http.StatusNotFound, apperr.CodeNotFound, true},
		{"conflict", apperr.New(apperr.KindConflict, apperr.CodeAlreadyVoted, "dup"), http.StatusConflict, apperr.CodeAlreadyVoted, true},
		{"timing", apperr.New(apperr.KindTiming, apperr.CodePollEnded, "late"), http.StatusConflict, apperr.CodePollEnded, true},
		{"tamper", apperr.New(apperr.KindTamper, apperr.CodePollHalted, "halted"), http.StatusLocked, apperr.CodePollHalted, true},
		{"external", apperr.New(apperr.KindExternal, apperr.CodeChain, "down"), http.StatusServiceUnavailable, apperr.CodeChain, true},
		{"wrapped", fmt.Errorf("outer: %w", apperr.New(apperr.KindConflict, apperr.CodeNonceReused, "nonce")), http.StatusConflict, apperr.CodeNonceReused, true},
		{"internal", apperr.New(apperr.KindInternal, apperr.CodeInternal, "secret detail"), http.StatusInternalServerError, apperr.CodeInternal, false},
		{"plain", errors.New("secret detail"), http.StatusInternalServerError, apperr.CodeInternal, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)

			if w.Code != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, w.Code)
			}
			var resp models.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error body: %v", err)
			}
			if resp.Code != tc.code {
				t.Errorf("Expected code '%s', got '%s'", tc.code, resp.Code)
			}
			if resp.Error != http.StatusText(tc.status) {
				t.Errorf("Expected error '%s', got '%s'", http.StatusText(tc.status), resp.Error)
			}
			if !tc.leakText && strings.Contains(resp.Message, "secret") {
				t.Errorf("Internal detail leaked: %s", resp.Message)
			}
		})
	}
}

func TestWriteError_RetryAfterOnExternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, apperr.New(apperr.KindExternal, apperr.CodeStorage, "down"))
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After on 503")
	}
}

func TestParseJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	testCases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"x"}`, false},
		{"malformed", `{"name":`, true},
		{"unknown field", `{"name":"x","extra":1}`, true},
		{"trailing data", `{"name":"x"}{"name":"y"}`, true},
		{"too large", `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			var p payload
			err := ParseJSONBody(w, req, &p)
			if tc.wantErr {
				if !apperr.IsKind(err, apperr.KindValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p.Name != "x" {
				t.Errorf("Expected name 'x', got '%s'", p.Name)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/drafts", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("Expected status 204, got %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Errorf("Expected origin echo, got '%s'", got)
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Key") {
			t.Error("Expected X-Admin-Key in allowed headers")
		}
	})

	t.Run("passes through", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusTeapot {
			t.Errorf("Expected inner status, got %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Expected '*', got '%s'", got)
		}
	})
}

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.1"},
		{"forwarded single", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "10.0.0.2:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.7:5555", "192.0.2.7"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"no port", nil, "192.0.2.7", "192.0.2.7"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req); got != tc.expected {
				t.Errorf("Expected '%s', got '%s'", tc.expected, got)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1_000, 0)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("Expected burst of 2 to pass")
	}
	if l.Allow("a") {
		t.Error("Expected third request to be throttled")
	}
	if !l.Allow("b") {
		t.Error("Expected other client to have its own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("Expected a token after one second")
	}

	now = now.Add(idleAfter + time.Second)
	l.Allow("c")
	if got := l.Clients(); got != 1 {
		t.Errorf("Expected idle clients to be swept, tracking %d", got)
	}
}

func TestRateLimiter_Limit(t *testing.T) {
	l := NewRateLimiter(0.5, 3)
	var served atomic.Int32
	handler := l.Limit(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	var wg sync.WaitGroup
	var throttled atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/polls/1/votes", nil)
			req.RemoteAddr = "192.0.2.1:4000"
			w := httptest.NewRecorder()
			handler(w, req)
			if w.Code == http.StatusTooManyRequests {
				throttled.Add(1)
				if w.Header().Get("Retry-After") != "2" {
					t.Errorf("Expected Retry-After 2, got '%s'", w.Header().Get("Retry-After"))
				}
			}
		}()
	}
	wg.Wait()

	if served.Load() != 3 || throttled.Load() != 7 {
		t.Errorf("Expected 3 served and 7 throttled, got %d and %d", served.Load(), throttled.Load())
	}
}

func TestRateLimiter_KeyBy(t *testing.T) {
	var keys []string
	l := NewRateLimiter(1, 1).KeyBy(func(r *http.Request) string {
		k := "h:" + GetClientIP(r)
		keys = append(keys, k)
		return k
	})
	handler := l.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", "/drafts", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		w := httptest.NewRecorder()
		handler(w, req)
		if w.Code != want {
			t.Errorf("request %d: expected status %d, got %d", i, want, w.Code)
		}
	}
	if len(keys) != 2 || keys[0] != "h:198.51.100.7" {
		t.Errorf("Expected custom keys to be used, got %v", keys)
	}
}
