// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package lifecycle owns the state machine of drafts and polls and the
// operations that move a draft from creation to a published poll.
//
// Drafts go draft -> frozen -> published, or to canceled from draft or
// frozen. Publishing creates the poll in state active; it becomes closed when
// finalize runs after its end time and anchored once the result is on chain.
// Every transition goes through Next, which rejects anything not listed.
package lifecycle
