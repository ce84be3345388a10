// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide how to react.
type Kind uint8

const (
	KindInternal Kind = iota
	KindConfiguration
	KindValidation
	KindTiming
	KindAuthentication
	KindEligibility
	KindConflict
	KindTamper
	KindExternal
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindTiming:
		return "timing"
	case KindAuthentication:
		return "authentication"
	case KindEligibility:
		return "eligibility"
	case KindConflict:
		return "conflict"
	case KindTamper:
		return "tamper"
	case KindExternal:
		return "external_service"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Retryable reports whether an operation failing with this kind may be
// retried with the same inputs.
func (k Kind) Retryable() bool {
	return k == KindExternal
}

// Reason codes shared across packages.
const (
	CodeEmptyWalletSet    = "empty_wallet_set"
	CodeDuplicateWallet   = "duplicate_wallet"
	CodeInvalidWallet     = "invalid_wallet"
	CodeInvalidPayload    = "invalid_payload"
	CodeOptionOutOfRange  = "option_out_of_range"
	CodePollNotActive     = "poll_not_active"
	CodePollNotStarted    = "poll_not_started"
	CodePollEnded         = "poll_ended"
	CodePollNotEnded      = "poll_not_ended"
	CodePollHalted        = "poll_halted"
	CodeBadSignature      = "bad_signature"
	CodeSignerMismatch    = "signer_mismatch"
	CodeDeadlineExpired   = "deadline_expired"
	CodeNonceReused       = "nonce_reused"
	CodeNotEligible       = "not_eligible"
	CodeAlreadyVoted      = "already_voted"
	CodeAlreadyBound      = "already_bound"
	CodeIllegalTransition = "illegal_transition"
	CodeNoBindings        = "no_bindings"
	CodeAuditTampered     = "audit_tampered"
	CodeResultChanged     = "result_hash_changed"
	CodeStorage           = "storage_unavailable"
	CodeChain             = "chain_unavailable"
	CodeTxReverted        = "tx_reverted"
	CodeTxDropped         = "tx_not_mined"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// Error is the error type returned by the voting core. Code is the
// machine-readable reason consumed by the HTTP layer.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Seq is the audit sequence number where tampering was detected.
	Seq int64
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code so sentinel-style comparisons
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, code string, err error, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Tampered reports an audit chain mismatch at the given sequence number.
func Tampered(seq int64, message string) *Error {
	return &Error{Kind: KindTamper, Code: CodeAuditTampered, Message: message, Seq: seq}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the reason code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
