// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package admission decides whether a signed ballot is accepted.
//
// Checks run in a fixed order and stop at the first failure: the poll must
// be active and inside its window, the EIP-712 signature must recover to the
// claimed wallet before its deadline, the nonce must not repeat the wallet's
// stored vote, the option must exist, and the Merkle proof must reduce to the
// poll's eligible root. The vote row and its audit entry are then written in
// one transaction while the poll is locked, so the first accepted vote of a
// wallet is final and the audit chain never branches.
package admission
