// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/middleware"
	"github.com/danielhkuo/verivote/models"
)

// Health handles GET /health by pinging the database.
func Health(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.DB.PingContext(ctx); err != nil {
			slog.Error("health check failed", "error", err)
			middleware.ErrorResponse(w, http.StatusServiceUnavailable, "database_unavailable", "database unreachable")
			return
		}
		middleware.JSONResponse(w, http.StatusOK, models.HealthResponse{Status: "ok"})
	}
}
