// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"net/http"

	"github.com/danielhkuo/verivote/cliparse"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/middleware"
	"github.com/danielhkuo/verivote/models"
)

type DraftHandler struct {
	manager *lifecycle.Manager
	cfg     cliparse.Config
}

func NewDraftHandler(manager *lifecycle.Manager, cfg cliparse.Config) *DraftHandler {
	return &DraftHandler{manager: manager, cfg: cfg}
}

// CreateDraft handles POST /drafts
func (h *DraftHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDraftRequest
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp, err := h.manager.CreateDraft(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// ListDrafts handles GET /drafts?created_by=0x... Draft metadata is public;
// admin keys are never listed.
func (h *DraftHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	resp, err := h.manager.ListDrafts(r.Context(), r.URL.Query().Get("created_by"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// GetDraft handles GET /drafts/{id}
func (h *DraftHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !requireAdmin(w, r, id, h.cfg.AdminKeySalt) {
		return
	}

	resp, err := h.manager.GetDraft(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// AddBinding handles POST /drafts/{id}/bindings. The wallet signature
// authenticates the request, so no admin key is needed.
func (h *DraftHandler) AddBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req models.AddBindingRequest
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	b, err := h.manager.AddBinding(r.Context(), id, req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, b)
}

// RevokeBinding handles POST /drafts/{id}/bindings/revoke
func (h *DraftHandler) RevokeBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !requireAdmin(w, r, id, h.cfg.AdminKeySalt) {
		return
	}

	var req models.RevokeBindingRequest
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.manager.RevokeBinding(r.Context(), id, req.Email); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Freeze handles POST /drafts/{id}/freeze
func (h *DraftHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Freeze)
}

// Cancel handles POST /drafts/{id}/cancel
func (h *DraftHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Cancel)
}

func (h *DraftHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) error) {
	id, ok := pathID(w, r)
	if !ok || !requireAdmin(w, r, id, h.cfg.AdminKeySalt) {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp, err := h.manager.GetDraft(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Preview handles GET /drafts/{id}/eligibility
func (h *DraftHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !requireAdmin(w, r, id, h.cfg.AdminKeySalt) {
		return
	}

	resp, err := h.manager.Preview(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Publish handles POST /drafts/{id}/publish
func (h *DraftHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !requireAdmin(w, r, id, h.cfg.AdminKeySalt) {
		return
	}

	resp, err := h.manager.Publish(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, resp)
}
