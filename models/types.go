// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Draft status constants
const (
	StatusDraft     = "draft"
	StatusFrozen    = "frozen"
	StatusPublished = "published"
	StatusCanceled  = "canceled"
)

// Poll status constants
const (
	StatusActive   = "active"
	StatusClosed   = "closed"
	StatusAnchored = "anchored"
)

// Option limits
const (
	MinOptions = 2
	MaxOptions = 10
)

// Domain types

type Option struct {
	Idx         int    `json:"idx"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	MediaURI    string `json:"media_uri,omitempty"`
}

type Draft struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Options     []Option       `json:"options"`
	StartTS     int64          `json:"start_ts"`
	EndTS       int64          `json:"end_ts"`
	Status      string         `json:"status"`
	CreatedBy   common.Address `json:"created_by"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	FrozenAt    *int64         `json:"frozen_at,omitempty"`
	PublishedAt *int64         `json:"published_at,omitempty"`
}

type Binding struct {
	DraftID   int64          `json:"draft_id"`
	EmailHash common.Hash    `json:"email_hash"`
	Wallet    common.Address `json:"wallet"`
	Sig       hexutil.Bytes  `json:"sig"`
	Nonce     string         `json:"nonce"`
	Deadline  int64          `json:"deadline"`
	BoundAt   int64          `json:"bound_at"`
	RevokedAt *int64         `json:"revoked_at,omitempty"`
}

// Active reports whether the binding counts toward the allowlist.
func (b Binding) Active() bool {
	return b.RevokedAt == nil
}

type Poll struct {
	ID           int64          `json:"id"`
	Title        string         `json:"title"`
	MetaURI      string         `json:"meta_uri"`
	StartTS      int64          `json:"start_ts"`
	EndTS        int64          `json:"end_ts"`
	EligibleRoot common.Hash    `json:"eligible_root"`
	Status       string         `json:"status"`
	ResultHash   *common.Hash   `json:"result_hash,omitempty"`
	CreatedBy    common.Address `json:"created_by"`
	HaltedAt     *int64         `json:"halted_at,omitempty"`
	HaltReason   string         `json:"halt_reason,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
	Options      []Option       `json:"options,omitempty"`
}

// Halted reports whether the poll was stopped after tampering was detected.
func (p Poll) Halted() bool {
	return p.HaltedAt != nil
}

type AllowlistItem struct {
	PollID int64          `json:"poll_id"`
	Wallet common.Address `json:"wallet"`
	Index  uint64         `json:"index"`
	Leaf   common.Hash    `json:"leaf"`
	Proof  []common.Hash  `json:"proof"`
}

type Vote struct {
	PollID     int64          `json:"poll_id"`
	Wallet     common.Address `json:"wallet"`
	Option     uint8          `json:"option"`
	Sig        hexutil.Bytes  `json:"sig"`
	Nonce      string         `json:"nonce"`
	Deadline   int64          `json:"deadline"`
	Leaf       common.Hash    `json:"leaf"`
	Proof      []common.Hash  `json:"proof"`
	ReceivedAt int64          `json:"received_at"`
}

type AuditEntry struct {
	Seq       int64       `json:"seq"`
	PollID    int64       `json:"poll_id"`
	RowHash   common.Hash `json:"row_hash"`
	PrevHash  common.Hash `json:"prev_hash"`
	TipHash   common.Hash `json:"tip_hash"`
	CreatedAt int64       `json:"created_at"`
}

// AnchorAttempt records finalize progress so a rerun resumes instead of
// publishing or submitting twice.
type AnchorAttempt struct {
	PollID     int64       `json:"poll_id"`
	ResultHash common.Hash `json:"result_hash"`
	VotesCID   string      `json:"votes_cid,omitempty"`
	TallyCID   string      `json:"tally_cid,omitempty"`
	TxHash     string      `json:"tx_hash,omitempty"`
	Attempts   int         `json:"attempts"`
	UpdatedAt  int64       `json:"updated_at"`
}

type Anchor struct {
	PollID      int64       `json:"poll_id"`
	ResultHash  common.Hash `json:"result_hash"`
	ProposalCID string      `json:"proposal_cid"`
	VotesCID    string      `json:"votes_cid"`
	TallyCID    string      `json:"tally_cid"`
	TxHash      string      `json:"tx_hash"`
	AnchoredAt  int64       `json:"anchored_at"`
}

// Request types

type CreateDraftRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []Option `json:"options"`
	StartTS     int64    `json:"start_ts"`
	EndTS       int64    `json:"end_ts"`
	CreatedBy   string   `json:"created_by"`
}

type AddBindingRequest struct {
	Email    string `json:"email"`
	Wallet   string `json:"wallet"`
	Nonce    string `json:"nonce"`
	Deadline int64  `json:"deadline"`
	Sig      string `json:"sig"`
}

type RevokeBindingRequest struct {
	Email string `json:"email"`
}

type SubmitVoteRequest struct {
	Wallet   string   `json:"wallet"`
	Option   int      `json:"option"`
	Nonce    string   `json:"nonce"`
	Deadline int64    `json:"deadline"`
	Sig      string   `json:"sig"`
	Proof    []string `json:"proof"`
}

// Response types

type CreateDraftResponse struct {
	DraftID  int64  `json:"draft_id"`
	AdminKey string `json:"admin_key"`
}

type DraftResponse struct {
	Draft    Draft `json:"draft"`
	Bindings int   `json:"active_bindings"`
}

type DraftListResponse struct {
	Drafts []Draft `json:"drafts"`
}

type EligibilityPreview struct {
	DraftID int64       `json:"draft_id"`
	Root    common.Hash `json:"root"`
	Wallets int         `json:"wallets"`
}

type PublishResponse struct {
	PollID       int64       `json:"poll_id"`
	EligibleRoot common.Hash `json:"eligible_root"`
	MetaURI      string      `json:"meta_uri"`
	TxHash       string      `json:"tx_hash"`
}

type PollResponse struct {
	Poll            Poll `json:"poll"`
	EligibleWallets int  `json:"eligible_wallets"`
}

type ProofResponse struct {
	PollID int64          `json:"poll_id"`
	Wallet common.Address `json:"wallet"`
	Index  uint64         `json:"index"`
	Leaf   common.Hash    `json:"leaf"`
	Proof  []common.Hash  `json:"proof"`
	Root   common.Hash    `json:"root"`
}

type VoteReceipt struct {
	PollID  int64          `json:"poll_id"`
	Wallet  common.Address `json:"wallet"`
	Option  uint8          `json:"option"`
	Seq     int64          `json:"seq"`
	RowHash common.Hash    `json:"row_hash"`
	TipHash common.Hash    `json:"tip_hash"`
}

type AuditResponse struct {
	PollID  int64        `json:"poll_id"`
	Entries []AuditEntry `json:"entries"`
	Tip     common.Hash  `json:"tip"`
	Valid   bool         `json:"valid"`
	Error   string       `json:"error,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
