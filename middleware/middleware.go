// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/models"
)

// MaxBodyBytes caps request bodies read by ParseJSONBody.
const MaxBodyBytes = 1 << 20

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-ID"

// statusRecorder remembers the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// WithLogging wraps a handler with request logging. Every request gets an
// id, echoed in the response headers unless the client sent one.
func WithLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "request completed",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	JSONResponse(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    code,
		Message: message,
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindConfiguration:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindEligibility:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindTiming:
		return http.StatusConflict
	case apperr.KindTamper:
		return http.StatusLocked
	case apperr.KindExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error response. Errors that are not
// apperr errors are logged and reported as internal without their text.
func WriteError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		slog.Error("unhandled error", "error", err)
		ErrorResponse(w, http.StatusInternalServerError, apperr.CodeInternal, "internal error")
		return
	}

	status := StatusFor(e.Kind)
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "code", e.Code, "error", err)
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	ErrorResponse(w, status, e.Code, msg)
}

// ParseJSONBody parses the request body into the given struct. Unknown
// fields and trailing data are rejected.
func ParseJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "invalid JSON body")
	}
	if dec.More() {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "unexpected data after JSON body")
	}
	return nil
}

// CORS middleware allows cross-origin requests from the frontend
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP address
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
