// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package eligibility builds the Merkle allowlist for a poll and verifies
inclusion proofs.

# Tree Rules

These rules fix the root so any verifier holding the same wallet set gets the
same bytes:

  - leaf = keccak256(wallet[20] ‖ uint256(pollID)[32])
  - leaves sorted ascending; a wallet's index is its position in that order
  - parent = keccak256(min(a, b) ‖ max(a, b)) (sorted pairs)
  - an unpaired last node is carried up to the next level unchanged
  - a proof lists sibling hashes from leaf to root; carried-up levels add nothing

The sorted-pair convention matches OpenZeppelin's MerkleProof.verify, so an
on-chain contract can check the same proofs.

# Usage

	tree, err := eligibility.Build(pollID, wallets)
	entry, ok := tree.Lookup(wallet)
	ok = eligibility.VerifyWallet(tree.Root(), pollID, wallet, entry.Proof)

Build rejects an empty wallet set and duplicate wallets with a configuration
error.
*/
package eligibility
