// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the VeriVote API.

	mux := router.NewRouter(router.Services{...}, cfg)

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Drafts (admin, requires X-Admin-Key unless noted):

	POST /drafts                         - Create draft (public)
	GET  /drafts?created_by=0x...        - Drafts of a wallet, newest first (public)
	GET  /drafts/{id}                    - Draft and binding count
	POST /drafts/{id}/bindings           - Bind email to wallet (public, signed)
	POST /drafts/{id}/bindings/revoke    - Revoke a binding
	POST /drafts/{id}/freeze             - Freeze bindings
	POST /drafts/{id}/cancel             - Cancel
	GET  /drafts/{id}/eligibility        - Preview Merkle root
	POST /drafts/{id}/publish            - Publish and register on chain

Polls (public):

	GET  /polls/{id}                     - Poll and options
	GET  /polls/{id}/proofs/{wallet}     - Merkle proof for a wallet
	POST /polls/{id}/votes               - Submit signed vote
	GET  /polls/{id}/audit               - Audit log and verification
	POST /polls/{id}/finalize            - Finalize after end
	GET  /polls/{id}/anchor              - Anchor record (?verify=true)

Public writes share a per-client rate limit.
*/
package router
