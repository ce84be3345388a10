// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/finalize"
	"github.com/danielhkuo/verivote/middleware"
)

type ResultsHandler struct {
	store    *db.Store
	pipeline *finalize.Pipeline
}

func NewResultsHandler(store *db.Store, pipeline *finalize.Pipeline) *ResultsHandler {
	return &ResultsHandler{store: store, pipeline: pipeline}
}

// Finalize handles POST /polls/{id}/finalize. Anyone may trigger it once
// voting has ended; repeated calls return the same anchor.
func (h *ResultsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	anchor, err := h.pipeline.Finalize(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, anchor)
}

// GetAnchor handles GET /polls/{id}/anchor. With ?verify=true the published
// artifacts are fetched and re-hashed first.
func (h *ResultsHandler) GetAnchor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("verify") == "true" {
		anchor, err := h.pipeline.VerifyAnchor(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		middleware.JSONResponse(w, http.StatusOK, anchor)
		return
	}

	anchor, err := db.GetAnchor(r.Context(), h.store.DB, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, anchor)
}
