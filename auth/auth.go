// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrInvalidEmail    = errors.New("invalid email")
)

// GenerateAdminKey creates an HMAC-based admin key for a draft.
// This is deterministic and verifiable, so nothing is stored.
func GenerateAdminKey(draftID int64, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte("draft:" + strconv.FormatInt(draftID, 10)))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateAdminKey checks if the provided admin key is valid for the draft
func ValidateAdminKey(draftID int64, adminKey, salt string) error {
	expected := GenerateAdminKey(draftID, salt)
	if !hmac.Equal([]byte(adminKey), []byte(expected)) {
		return ErrInvalidAdminKey
	}
	return nil
}

// EmailHash derives the binding identity for an invitee:
// keccak256(lower(trim(email)) ‖ salt). The plain address is never stored.
func EmailHash(email, salt string) (common.Hash, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	at := strings.IndexByte(normalized, '@')
	if at <= 0 || at == len(normalized)-1 {
		return common.Hash{}, ErrInvalidEmail
	}
	return crypto.Keccak256Hash([]byte(normalized), []byte(salt)), nil
}

// HashIP creates a one-way hash of an IP address. The rate limiter keys its
// buckets by it.
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// Return first 16 hex chars (64 bits) - enough for deduplication
	return hex.EncodeToString(sum[:8])
}
