// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the VeriVote API.

Handlers are thin: they parse path values and JSON bodies, call the
lifecycle manager, admission engine, audit chain or finalize pipeline, and
write the result with middleware.JSONResponse or middleware.WriteError.

  - DraftHandler: drafts, bindings, freeze, publish
  - PollHandler: poll info, eligibility proofs, audit log
  - VotingHandler: vote submission
  - ResultsHandler: finalize and anchors

Admin operations on a draft require the X-Admin-Key header returned when
the draft was created. Poll ids equal the id of the draft they were
published from, so the same key identifies both.
*/
package handlers
