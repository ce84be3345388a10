// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package audit maintains the per-poll, append-only hash chain of accepted votes.

# Hashes

	row     = keccak256(abi.encode(uint256 pollId, address wallet, uint8 option,
	                               uint256 nonce, uint256 deadline, bytes32 leaf, bytes sig))
	tip[0]  = 0x00…00 (Genesis)
	tip[n]  = keccak256(tip[n-1] ‖ row[n])

Each stored entry keeps its row hash, the previous tip and its own tip, so the
chain can be replayed by anyone holding the exported votes.

# Appending

Chain.Append reads the last entry of the poll inside the caller's transaction
and inserts the next one. The admission engine calls it right after inserting
the vote, under the poll lock, so the vote and its entry commit together.

# Verifying

Verify is pure: it replays a slice of entries from Genesis and returns the
tip, or an apperr Tamper error naming the first bad sequence number.

Chain.VerifyPoll also recomputes the row hash of every stored vote and checks
that they are exactly the chain's row hashes. Any mismatch halts the poll
(halted_at, halt_reason) so no further votes are admitted and finalize
refuses to anchor.
*/
package audit
