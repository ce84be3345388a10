// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package apperr defines the error taxonomy of the voting core.

Every rejection carries a Kind and a machine-readable Code:

	err := apperr.New(apperr.KindConflict, apperr.CodeAlreadyVoted, "vote already cast")
	apperr.KindOf(err)  // KindConflict
	apperr.CodeOf(err)  // "already_voted"

Only KindExternal is retryable. KindTamper is fatal for the affected poll and
halts further writes to its audit chain.
*/
package apperr
