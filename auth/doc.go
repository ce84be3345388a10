// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides admin keys, invitee email hashing and EIP-712 signature
verification for registration and voting.

# Admin Keys

Admin keys use HMAC-SHA256 to create deterministic, verifiable keys:

	adminKey := auth.GenerateAdminKey(draftID, salt)
	err := auth.ValidateAdminKey(draftID, adminKey, salt)

The key is URL-safe base64 encoded without padding. The same draft ID and salt
always produce the same key, so nothing is stored. A draft keeps its id when it
is published, so the key also authorizes finalizing the poll.

# Email Hashes

Bindings never store an invitee's address:

	h, err := auth.EmailHash(email, salt) // keccak256(lower(trim(email)) ‖ salt)

# Typed Signatures

Wallets sign two EIP-712 messages under the domain
EIP712Domain(string name,string version,uint256 chainId,address verifyingContract):

	Register(uint256 draftId,bytes32 emailHash,address wallet,uint256 nonce,uint256 deadline)
	Vote(uint256 pollId,address voter,uint8 option,uint256 nonce,uint256 deadline)

TypedVerifier hashes these with go-ethereum's apitypes and recovers the signer:

	v, err := auth.NewTypedVerifier(auth.Domain{Name: "VeriVote", Version: "1", ChainID: 1, VerifyingContract: addr})
	signer, err := v.VerifyVote(msg, sig, time.Now())

Signatures are 65 bytes R ‖ S ‖ V with V in {0, 1, 27, 28}. Upper-half S values
are rejected so a signature has exactly one accepted encoding. Failures are
apperr Authentication errors with codes bad_signature, signer_mismatch or
deadline_expired. Nonce reuse is not tracked here; callers compare against
stored rows.

# IP Hashing

Rate limit buckets are keyed by a salted client address hash:

	hash := auth.HashIP(ipAddress, salt)

Returns first 8 bytes (16 hex chars) of HMAC-SHA256.
*/
package auth
