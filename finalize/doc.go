// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package finalize closes a poll after its end time and anchors its result.
//
// The result is computed from two canonical artifacts:
//
//	votes.json  every accepted vote, ascending by lower-case wallet address
//	tally.json  per-option counts indexed by option, the total and the audit tip
//
// Both are compact JSON with a fixed field order. The anchored value is
//
//	resultHash = keccak256(votes.json || 0x1E || tally.json)
//
// so anyone holding the two artifacts can recompute it. Artifacts go to the
// content store and the hash goes on chain; both steps are retried with the
// same bytes, and a recorded attempt with a different hash stops the
// pipeline instead of anchoring a second result.
package finalize
