// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/metrics"
	"github.com/danielhkuo/verivote/models"
)

// Chain appends to and verifies the per-poll audit logs in a store.
type Chain struct {
	store   *db.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewChain creates a Chain. logger and m may be nil.
func NewChain(store *db.Store, logger *slog.Logger, m *metrics.Metrics) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Chain{store: store, logger: logger, metrics: m, now: time.Now}
}

// Append links rowHash onto the poll's chain inside q. The tip is read from
// the last stored entry, so the caller must hold the poll lock and run the
// vote insert in the same transaction.
func (c *Chain) Append(ctx context.Context, q db.Querier, pollID int64, rowHash common.Hash) (models.AuditEntry, error) {
	prev := Genesis
	last, err := db.LastAuditEntry(ctx, q, pollID)
	if err != nil {
		return models.AuditEntry{}, err
	}
	if last != nil {
		prev = last.TipHash
	}

	e := models.AuditEntry{
		PollID:    pollID,
		RowHash:   rowHash,
		PrevHash:  prev,
		TipHash:   NextTip(prev, rowHash),
		CreatedAt: c.now().Unix(),
	}
	e.Seq, err = db.InsertAuditEntry(ctx, q, e)
	if err != nil {
		return models.AuditEntry{}, err
	}
	c.metrics.AuditAppended()
	return e, nil
}

// Verify replays entries from genesis and returns the tip. The first entry
// whose prev or tip does not match yields a Tamper error carrying its
// sequence number.
func Verify(entries []models.AuditEntry) (common.Hash, error) {
	tip := Genesis
	for _, e := range entries {
		if e.PrevHash != tip {
			return common.Hash{}, apperr.Tampered(e.Seq,
				fmt.Sprintf("entry %d links to %s, expected %s", e.Seq, e.PrevHash.Hex(), tip.Hex()))
		}
		next := NextTip(tip, e.RowHash)
		if e.TipHash != next {
			return common.Hash{}, apperr.Tampered(e.Seq,
				fmt.Sprintf("entry %d tip is %s, recomputed %s", e.Seq, e.TipHash.Hex(), next.Hex()))
		}
		tip = next
	}
	return tip, nil
}

// VerifyPoll replays the poll's chain and checks that the row hashes of the
// stored votes are exactly the chain's row hashes. On tampering the poll is
// halted and the Tamper error returned.
func (c *Chain) VerifyPoll(ctx context.Context, pollID int64) (common.Hash, error) {
	tip, err := c.check(ctx, pollID)
	if err == nil {
		return tip, nil
	}
	if !apperr.IsKind(err, apperr.KindTamper) {
		return common.Hash{}, err
	}

	c.metrics.TamperDetected()
	c.logger.Error("audit chain tampered", "poll_id", pollID, "error", err)
	if herr := db.HaltPoll(ctx, c.store.DB, pollID, err.Error(), c.now().Unix()); herr != nil {
		c.logger.Error("failed to halt poll", "poll_id", pollID, "error", herr)
	}
	return common.Hash{}, err
}

func (c *Chain) check(ctx context.Context, pollID int64) (common.Hash, error) {
	entries, err := db.ListAuditEntries(ctx, c.store.DB, pollID)
	if err != nil {
		return common.Hash{}, err
	}
	tip, err := Verify(entries)
	if err != nil {
		return common.Hash{}, err
	}

	votes, err := db.ListVotes(ctx, c.store.DB, pollID)
	if err != nil {
		return common.Hash{}, err
	}

	pending := make(map[common.Hash]int, len(votes))
	for _, v := range votes {
		h, err := RowHash(v)
		if err != nil {
			return common.Hash{}, apperr.Wrap(apperr.KindTamper, apperr.CodeAuditTampered, err,
				"stored vote of "+db.WalletKey(v.Wallet)+" cannot be encoded")
		}
		pending[h]++
	}
	for _, e := range entries {
		if pending[e.RowHash] == 0 {
			return common.Hash{}, apperr.Tampered(e.Seq,
				fmt.Sprintf("entry %d has no matching vote", e.Seq))
		}
		pending[e.RowHash]--
	}
	if len(votes) != len(entries) {
		return common.Hash{}, apperr.Tampered(0,
			fmt.Sprintf("%d votes but %d audit entries", len(votes), len(entries)))
	}
	return tip, nil
}
