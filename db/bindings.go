// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/models"
)

const bindingColumns = `draft_id, email_hash, wallet, sig, nonce, deadline, bound_at, revoked_at`

// PutBinding inserts a binding, or replaces a revoked one for the same email.
// It reports false when an active binding for the email already exists.
func PutBinding(ctx context.Context, q Querier, b models.Binding) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO bindings (`+bindingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		ON CONFLICT (draft_id, email_hash) DO UPDATE
		SET wallet = excluded.wallet, sig = excluded.sig, nonce = excluded.nonce,
		    deadline = excluded.deadline, bound_at = excluded.bound_at, revoked_at = NULL
		WHERE bindings.revoked_at IS NOT NULL
	`, b.DraftID, b.EmailHash.Bytes(), WalletKey(b.Wallet), []byte(b.Sig), b.Nonce, b.Deadline, b.BoundAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert binding: %w", err)
	}
	return n == 1, nil
}

// GetBinding loads the binding for an email hash, revoked or not.
func GetBinding(ctx context.Context, q Querier, draftID int64, emailHash common.Hash) (*models.Binding, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM bindings
		WHERE draft_id = $1 AND email_hash = $2
	`, draftID, emailHash.Bytes())
	b, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, notFound("binding for draft", draftID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query binding: %w", err)
	}
	return b, nil
}

// WalletBound reports whether the wallet holds an active binding in the draft.
func WalletBound(ctx context.Context, q Querier, draftID int64, wallet common.Address) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bindings
		WHERE draft_id = $1 AND wallet = $2 AND revoked_at IS NULL
	`, draftID, WalletKey(wallet)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query bindings: %w", err)
	}
	return n > 0, nil
}

// BindingNonceUsed reports whether a Register signature with this nonce was
// already accepted for the wallet in the draft, including revoked bindings.
func BindingNonceUsed(ctx context.Context, q Querier, draftID int64, wallet common.Address, nonce string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bindings
		WHERE draft_id = $1 AND wallet = $2 AND nonce = $3
	`, draftID, WalletKey(wallet), nonce).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query bindings: %w", err)
	}
	return n > 0, nil
}

// RevokeBinding marks an active binding revoked. It reports false if there
// was no active binding for the email.
func RevokeBinding(ctx context.Context, q Querier, draftID int64, emailHash common.Hash, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE bindings SET revoked_at = $1
		WHERE draft_id = $2 AND email_hash = $3 AND revoked_at IS NULL
	`, now, draftID, emailHash.Bytes())
	if err != nil {
		return false, fmt.Errorf("failed to revoke binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to revoke binding: %w", err)
	}
	return n == 1, nil
}

// ListActiveBindings returns the draft's active bindings ordered by wallet.
func ListActiveBindings(ctx context.Context, q Querier, draftID int64) ([]models.Binding, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+bindingColumns+`
		FROM bindings
		WHERE draft_id = $1 AND revoked_at IS NULL
		ORDER BY wallet
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	var out []models.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(r rowScanner) (*models.Binding, error) {
	var (
		b         models.Binding
		emailHash []byte
		wallet    string
		sig       []byte
		revokedAt sql.NullInt64
	)
	if err := r.Scan(&b.DraftID, &emailHash, &wallet, &sig, &b.Nonce, &b.Deadline, &b.BoundAt, &revokedAt); err != nil {
		return nil, err
	}
	b.EmailHash = scanHash(emailHash)
	b.Wallet = common.HexToAddress(wallet)
	b.Sig = sig
	b.RevokedAt = nullInt(revokedAt)
	return &b, nil
}
