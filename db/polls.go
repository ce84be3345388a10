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

// InsertPoll stores a published poll with status active.
func InsertPoll(ctx context.Context, q Querier, p models.Poll) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO polls (id, title, meta_uri, start_ts, end_ts, eligible_root, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, p.ID, p.Title, p.MetaURI, p.StartTS, p.EndTS, p.EligibleRoot.Bytes(), models.StatusActive, WalletKey(p.CreatedBy), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert poll: %w", err)
	}
	return nil
}

// InsertOptions stores the frozen option list of a poll.
func InsertOptions(ctx context.Context, q Querier, pollID int64, opts []models.Option, now int64) error {
	for _, o := range opts {
		_, err := q.ExecContext(ctx, `
			INSERT INTO poll_options (poll_id, idx, label, description, media_uri, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, pollID, o.Idx, o.Label, o.Description, o.MediaURI, now)
		if err != nil {
			return fmt.Errorf("failed to insert option %d: %w", o.Idx, err)
		}
	}
	return nil
}

// GetPoll loads a poll and its options.
func GetPoll(ctx context.Context, q Querier, id int64) (*models.Poll, error) {
	var (
		p          models.Poll
		root       []byte
		resultHash []byte
		createdBy  string
		haltedAt   sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, title, meta_uri, start_ts, end_ts, eligible_root, status, result_hash,
		       created_by, halted_at, halt_reason, created_at, updated_at
		FROM polls
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Title, &p.MetaURI, &p.StartTS, &p.EndTS, &root, &p.Status, &resultHash,
		&createdBy, &haltedAt, &p.HaltReason, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("poll", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query poll: %w", err)
	}

	p.EligibleRoot = scanHash(root)
	if resultHash != nil {
		h := scanHash(resultHash)
		p.ResultHash = &h
	}
	p.CreatedBy = common.HexToAddress(createdBy)
	p.HaltedAt = nullInt(haltedAt)

	p.Options, err = ListOptions(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListOptions returns a poll's options ordered by index.
func ListOptions(ctx context.Context, q Querier, pollID int64) ([]models.Option, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT idx, label, description, media_uri
		FROM poll_options
		WHERE poll_id = $1
		ORDER BY idx
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query options: %w", err)
	}
	defer rows.Close()

	var opts []models.Option
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.Idx, &o.Label, &o.Description, &o.MediaURI); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

// SetPollStatus moves a poll between statuses. It reports false if the poll
// was not in the expected status.
func SetPollStatus(ctx context.Context, q Querier, id int64, from, to string, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE polls SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, to, now, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update poll status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update poll status: %w", err)
	}
	return n == 1, nil
}

// MarkPollAnchored records the result hash and moves a closed poll to
// anchored.
func MarkPollAnchored(ctx context.Context, q Querier, id int64, resultHash common.Hash, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE polls SET status = $1, result_hash = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, models.StatusAnchored, resultHash.Bytes(), now, id, models.StatusClosed)
	if err != nil {
		return false, fmt.Errorf("failed to anchor poll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to anchor poll: %w", err)
	}
	return n == 1, nil
}

// HaltPoll stops a poll after tampering was detected. The first reason wins.
func HaltPoll(ctx context.Context, q Querier, id int64, reason string, now int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE polls SET halted_at = $1, halt_reason = $2, updated_at = $1
		WHERE id = $3 AND halted_at IS NULL
	`, now, reason, id)
	if err != nil {
		return fmt.Errorf("failed to halt poll: %w", err)
	}
	return nil
}
