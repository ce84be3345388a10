// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package chain submits poll registrations and result anchors to an EVM
// chain.
//
// The voting contract exposes two calls and the events they emit:
//
//	createPoll(uint256 pollId, bytes32 eligibleRoot, string metaURI, uint64 startTs, uint64 endTs)
//	anchorResult(uint256 pollId, bytes32 resultHash, string votesURI, string tallyURI)
//	event PollCreated(uint256 indexed pollId, bytes32 eligibleRoot)
//	event ResultAnchored(uint256 indexed pollId, bytes32 resultHash)
//
// Ethereum signs EIP-1559 transactions with the anchoring key and sends them
// through a JSON-RPC backend; FindPoll and FindResult read the events back so
// a caller can tell whether a lost or reverted transaction needs resending.
// Ledger is a stand-in with the contract's write-once rules. Its state lives
// in memory for tests or behind a LedgerState (db.LedgerState in deployments
// without an RPC endpoint).
package chain
