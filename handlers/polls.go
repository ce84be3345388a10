// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/middleware"
	"github.com/danielhkuo/verivote/models"
)

type PollHandler struct {
	store *db.Store
	chain *audit.Chain
	now   func() time.Time
}

func NewPollHandler(store *db.Store, chain *audit.Chain, now func() time.Time) *PollHandler {
	if now == nil {
		now = time.Now
	}
	return &PollHandler{store: store, chain: chain, now: now}
}

// GetPoll handles GET /polls/{id}
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := db.GetPoll(r.Context(), h.store.DB, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	n, err := db.CountAllowlist(r.Context(), h.store.DB, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	p.Status = lifecycle.Effective(p, h.now())
	middleware.JSONResponse(w, http.StatusOK, models.PollResponse{Poll: *p, EligibleWallets: n})
}

// GetProof handles GET /polls/{id}/proofs/{wallet}
func (h *PollHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	raw := r.PathValue("wallet")
	if !common.IsHexAddress(raw) {
		middleware.WriteError(w, apperr.New(apperr.KindValidation, apperr.CodeInvalidWallet, "invalid wallet address"))
		return
	}

	p, err := db.GetPoll(r.Context(), h.store.DB, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	item, err := db.GetAllowlistItem(r.Context(), h.store.DB, id, common.HexToAddress(raw))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.ProofResponse{
		PollID: id,
		Wallet: item.Wallet,
		Index:  item.Index,
		Leaf:   item.Leaf,
		Proof:  item.Proof,
		Root:   p.EligibleRoot,
	})
}

// GetAudit handles GET /polls/{id}/audit. The chain is verified on every
// read; a tampered chain halts the poll and is reported as invalid.
func (h *PollHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if _, err := db.GetPoll(r.Context(), h.store.DB, id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	entries, err := db.ListAuditEntries(r.Context(), h.store.DB, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}

	resp := models.AuditResponse{PollID: id, Entries: entries, Valid: true}
	tip, err := h.chain.VerifyPoll(r.Context(), id)
	switch {
	case err == nil:
		resp.Tip = tip
	case apperr.IsKind(err, apperr.KindTamper):
		resp.Valid = false
		resp.Error = err.Error()
	default:
		middleware.WriteError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}
