// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/verivote/admission"
	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/cliparse"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/finalize"
	"github.com/danielhkuo/verivote/handlers"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/middleware"
)

// Services are the components the routes dispatch to. Gatherer may be nil,
// in which case /metrics is not served.
type Services struct {
	Store    *db.Store
	Manager  *lifecycle.Manager
	Engine   *admission.Engine
	Chain    *audit.Chain
	Pipeline *finalize.Pipeline
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

func NewRouter(svc Services, cfg cliparse.Config) *http.ServeMux {
	mux := http.NewServeMux()

	draftHandler := handlers.NewDraftHandler(svc.Manager, cfg)
	pollHandler := handlers.NewPollHandler(svc.Store, svc.Chain, svc.Now)
	votingHandler := handlers.NewVotingHandler(svc.Engine)
	resultsHandler := handlers.NewResultsHandler(svc.Store, svc.Pipeline)

	// Writes reachable without an admin key share one per-client budget.
	// Buckets are keyed by a salted hash so raw addresses are never held.
	limiter := middleware.NewRateLimiter(cfg.VoteRateLimit, 0).KeyBy(func(r *http.Request) string {
		return auth.HashIP(middleware.GetClientIP(r), cfg.AdminKeySalt)
	})
	public := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WithLogging(limiter.Limit(h))
	}

	mux.HandleFunc("GET /health", handlers.Health(svc.Store))
	if svc.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	// Draft management (admin operations)
	mux.HandleFunc("POST /drafts", public(draftHandler.CreateDraft))
	mux.HandleFunc("GET /drafts", middleware.WithLogging(draftHandler.ListDrafts))
	mux.HandleFunc("GET /drafts/{id}", middleware.WithLogging(draftHandler.GetDraft))
	mux.HandleFunc("POST /drafts/{id}/bindings", public(draftHandler.AddBinding))
	mux.HandleFunc("POST /drafts/{id}/bindings/revoke", middleware.WithLogging(draftHandler.RevokeBinding))
	mux.HandleFunc("POST /drafts/{id}/freeze", middleware.WithLogging(draftHandler.Freeze))
	mux.HandleFunc("POST /drafts/{id}/cancel", middleware.WithLogging(draftHandler.Cancel))
	mux.HandleFunc("GET /drafts/{id}/eligibility", middleware.WithLogging(draftHandler.Preview))
	mux.HandleFunc("POST /drafts/{id}/publish", middleware.WithLogging(draftHandler.Publish))

	// Published polls (public)
	mux.HandleFunc("GET /polls/{id}", middleware.WithLogging(pollHandler.GetPoll))
	mux.HandleFunc("GET /polls/{id}/proofs/{wallet}", middleware.WithLogging(pollHandler.GetProof))
	mux.HandleFunc("GET /polls/{id}/audit", middleware.WithLogging(pollHandler.GetAudit))
	mux.HandleFunc("POST /polls/{id}/votes", public(votingHandler.SubmitVote))

	// Results
	mux.HandleFunc("POST /polls/{id}/finalize", public(resultsHandler.Finalize))
	mux.HandleFunc("GET /polls/{id}/anchor", middleware.WithLogging(resultsHandler.GetAnchor))

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("verivote API v1"))
	})

	return mux
}
