// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/verivote/admission"
	"github.com/danielhkuo/verivote/middleware"
	"github.com/danielhkuo/verivote/models"
)

type VotingHandler struct {
	engine *admission.Engine
}

func NewVotingHandler(engine *admission.Engine) *VotingHandler {
	return &VotingHandler{engine: engine}
}

// SubmitVote handles POST /polls/{id}/votes
func (h *VotingHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body models.SubmitVoteRequest
	if err := middleware.ParseJSONBody(w, r, &body); err != nil {
		middleware.WriteError(w, err)
		return
	}
	req, err := admission.ParseRequest(id, body)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	receipt, err := h.engine.Admit(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, receipt)
}
