// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package finalize

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/chain"
	"github.com/danielhkuo/verivote/contentstore"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/metrics"
	"github.com/danielhkuo/verivote/models"
	"github.com/danielhkuo/verivote/polllock"
	"github.com/danielhkuo/verivote/retry"
)

// DefaultTimeout bounds one finalize run.
const DefaultTimeout = 2 * time.Minute

// Config wires a Pipeline. Logger, Metrics, Tracer, Now and Timeout are
// optional.
type Config struct {
	Store    *db.Store
	Locks    *polllock.Arena
	Chain    *audit.Chain
	Content  contentstore.Store
	Anchorer chain.Anchorer
	Retry    retry.Policy
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Now      func() time.Time
	Timeout  time.Duration
}

type Pipeline struct {
	store    *db.Store
	locks    *polllock.Arena
	chain    *audit.Chain
	content  contentstore.Store
	anchorer chain.Anchorer
	retry    retry.Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	timeout  time.Duration

	inflight singleflight.Group
}

func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:    cfg.Store,
		locks:    cfg.Locks,
		chain:    cfg.Chain,
		content:  cfg.Content,
		anchorer: cfg.Anchorer,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		now:      cfg.Now,
		timeout:  cfg.Timeout,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.locks == nil {
		p.locks = &polllock.Arena{}
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if p.chain == nil {
		p.chain = audit.NewChain(cfg.Store, p.logger, cfg.Metrics)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/danielhkuo/verivote/finalize")
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *Pipeline) policy(service, code string) retry.Policy {
	r := p.retry
	r.Code = code
	r.OnRetry = func(attempt int, err error) {
		p.metrics.ExternalRetry(service)
		p.logger.Warn("retrying external call", "service", service, "attempt", attempt, "error", err)
	}
	return r
}

// Finalize anchors the result of a poll whose voting window has ended and
// returns its anchor. A poll that is already anchored returns the stored
// anchor unchanged. Concurrent calls for one poll share a single run, which
// is bounded by the pipeline timeout rather than by any caller's ctx.
func (p *Pipeline) Finalize(ctx context.Context, pollID int64) (*models.Anchor, error) {
	ch := p.inflight.DoChan(strconv.FormatInt(pollID, 10), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.finalize(runCtx, pollID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Anchor), nil
	}
}

func (p *Pipeline) finalize(ctx context.Context, pollID int64) (anchor *models.Anchor, err error) {
	ctx, span := p.tracer.Start(ctx, "finalize.Finalize", trace.WithAttributes(attribute.Int64("poll.id", pollID)))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.CodeOf(err))
			p.logger.Warn("finalize failed", "poll_id", pollID, "code", apperr.CodeOf(err), "error", err)
		} else {
			p.metrics.ObserveFinalize(time.Since(start))
		}
		span.End()
	}()

	if existing, err := p.existingAnchor(ctx, pollID); err != nil || existing != nil {
		return existing, err
	}

	poll, err := p.close(ctx, pollID)
	if err != nil {
		return nil, err
	}

	tip, err := p.chain.VerifyPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	votes, err := db.ListVotes(ctx, p.store.DB, pollID)
	if err != nil {
		return nil, err
	}
	art, err := BuildArtifacts(poll, votes, tip)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, err, "cannot build result artifacts")
	}
	span.SetAttributes(attribute.String("result.hash", art.ResultHash.Hex()), attribute.Int("votes", len(votes)))

	attempt, err := p.startAttempt(ctx, pollID, art.ResultHash)
	if err != nil {
		return nil, err
	}

	votesCID, tallyCID, err := p.publish(ctx, pollID, art)
	if err != nil {
		return nil, err
	}

	txHash, err := p.anchor(ctx, attempt, chain.ResultRecord{
		PollID:     pollID,
		ResultHash: art.ResultHash,
		VotesURI:   contentstore.URI(votesCID),
		TallyURI:   contentstore.URI(tallyCID),
	})
	if err != nil {
		return nil, err
	}

	proposalCID, _ := contentstore.CIDFromURI(poll.MetaURI)
	anchor = &models.Anchor{
		PollID:      pollID,
		ResultHash:  art.ResultHash,
		ProposalCID: proposalCID,
		VotesCID:    votesCID,
		TallyCID:    tallyCID,
		TxHash:      txHash,
		AnchoredAt:  p.now().Unix(),
	}
	if err := p.commit(ctx, anchor); err != nil {
		if existing, gerr := p.existingAnchor(ctx, pollID); gerr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	p.metrics.Anchored()
	p.logger.Info("poll anchored",
		"poll_id", pollID,
		"result_hash", art.ResultHash.Hex(),
		"votes", len(votes),
		"tx", txHash,
		"attempt", attempt.Attempts,
	)
	return anchor, nil
}

func (p *Pipeline) existingAnchor(ctx context.Context, pollID int64) (*models.Anchor, error) {
	a, err := db.GetAnchor(ctx, p.store.DB, pollID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, nil
	}
	return a, err
}

// anchor gets record onto the chain and returns the transaction that wrote
// it. A recorded transaction that reverted or was never mined is forgotten,
// and the chain is searched before anything is sent again.
func (p *Pipeline) anchor(ctx context.Context, attempt *models.AnchorAttempt, record chain.ResultRecord) (string, error) {
	pollID := record.PollID
	if attempt.TxHash != "" {
		err := p.waitConfirmed(ctx, attempt.TxHash)
		if err == nil {
			return attempt.TxHash, nil
		}
		if err := p.forgetTx(ctx, pollID, attempt.TxHash, err); err != nil {
			return "", err
		}
	}

	var found *chain.Record[chain.ResultRecord]
	err := retry.Do(ctx, p.policy("chain", apperr.CodeChain), func(ctx context.Context) error {
		var ferr error
		found, ferr = p.anchorer.FindResult(ctx, pollID)
		return ferr
	})
	if err != nil {
		return "", err
	}
	if found != nil {
		if found.Value.ResultHash != record.ResultHash {
			return "", apperr.New(apperr.KindTamper, apperr.CodeResultChanged, "chain holds a different result for poll "+strconv.FormatInt(pollID, 10))
		}
		p.logger.Info("result already on chain", "poll_id", pollID, "tx", found.TxHash)
		return found.TxHash, nil
	}

	var txHash string
	err = retry.Do(ctx, p.policy("chain", apperr.CodeChain), func(ctx context.Context) error {
		var serr error
		txHash, serr = p.anchorer.SubmitResult(ctx, record)
		return serr
	})
	if err != nil {
		return "", err
	}
	if err := db.SetAttemptTx(ctx, p.store.DB, pollID, txHash, p.now().Unix()); err != nil {
		return "", err
	}
	if err := p.waitConfirmed(ctx, txHash); err != nil {
		if ferr := p.forgetTx(ctx, pollID, txHash, err); ferr != nil {
			return "", ferr
		}
		return "", err
	}
	return txHash, nil
}

// waitConfirmed retries WaitConfirmed until the transaction is mined. A
// revert is final.
func (p *Pipeline) waitConfirmed(ctx context.Context, txHash string) error {
	return retry.Do(ctx, p.policy("chain", apperr.CodeChain), func(ctx context.Context) error {
		err := p.anchorer.WaitConfirmed(ctx, txHash)
		if apperr.CodeOf(err) == apperr.CodeTxReverted {
			return retry.Permanent(err)
		}
		return err
	})
}

// forgetTx clears the recorded transaction when waitErr shows it will never
// confirm, and returns waitErr otherwise.
func (p *Pipeline) forgetTx(ctx context.Context, pollID int64, txHash string, waitErr error) error {
	if !chain.Unmined(waitErr) || ctx.Err() != nil {
		return waitErr
	}
	p.logger.Warn("anchor transaction not mined", "poll_id", pollID, "tx", txHash, "error", waitErr)
	return db.SetAttemptTx(ctx, p.store.DB, pollID, "", p.now().Unix())
}

// close checks the window and stores the active -> closed transition while
// holding the poll lock, so no admission can be in flight once it returns.
func (p *Pipeline) close(ctx context.Context, pollID int64) (*models.Poll, error) {
	unlock := p.locks.Lock(pollID)
	defer unlock()

	var poll *models.Poll
	err := p.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := p.store.LockPoll(ctx, tx, pollID); err != nil {
			return err
		}
		var err error
		poll, err = db.GetPoll(ctx, tx, pollID)
		if err != nil {
			return err
		}
		if poll.Halted() {
			return apperr.New(apperr.KindTamper, apperr.CodePollHalted, "poll is halted: "+poll.HaltReason)
		}
		now := p.now()
		if now.Unix() < poll.EndTS {
			return apperr.New(apperr.KindTiming, apperr.CodePollNotEnded, "voting ends at "+time.Unix(poll.EndTS, 0).UTC().Format(time.RFC3339))
		}
		if poll.Status == models.StatusClosed {
			return nil
		}
		to, err := lifecycle.Next(poll.Status, lifecycle.EventClose)
		if err != nil {
			return err
		}
		if _, err := db.SetPollStatus(ctx, tx, pollID, poll.Status, to, now.Unix()); err != nil {
			return err
		}
		poll.Status = to
		p.logger.Info("poll closed", "poll_id", pollID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return poll, nil
}

// startAttempt records the result hash, refusing to proceed if an earlier
// attempt computed a different one.
func (p *Pipeline) startAttempt(ctx context.Context, pollID int64, hash common.Hash) (*models.AnchorAttempt, error) {
	prev, err := db.GetAnchorAttempt(ctx, p.store.DB, pollID)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.ResultHash != hash {
		p.metrics.TamperDetected()
		p.logger.Error("result hash changed between finalize attempts",
			"poll_id", pollID,
			"recorded", prev.ResultHash.Hex(),
			"computed", hash.Hex(),
		)
		return nil, apperr.New(apperr.KindTamper, apperr.CodeResultChanged,
			"result hash "+hash.Hex()+" differs from recorded "+prev.ResultHash.Hex())
	}
	if err := db.StartAnchorAttempt(ctx, p.store.DB, pollID, hash, p.now().Unix()); err != nil {
		return nil, err
	}
	return db.GetAnchorAttempt(ctx, p.store.DB, pollID)
}

// publish stores both artifacts in parallel and records their CIDs.
func (p *Pipeline) publish(ctx context.Context, pollID int64, art *Artifacts) (votesCID, tallyCID string, err error) {
	g, gctx := errgroup.WithContext(ctx)
	put := func(name string, data []byte, out *string) {
		g.Go(func() error {
			err := retry.Do(gctx, p.policy("content", apperr.CodeStorage), func(ctx context.Context) error {
				cid, err := p.content.Put(ctx, data)
				if err != nil {
					return err
				}
				if cid != contentstore.CID(data) {
					return apperr.New(apperr.KindExternal, apperr.CodeStorage, name+" stored under unexpected cid "+cid)
				}
				*out = cid
				return nil
			})
			if err != nil {
				return err
			}
			p.metrics.ArtifactPublished(len(data))
			p.logger.Info("artifact published", "poll_id", pollID, "artifact", name, "cid", *out, "size", humanize.Bytes(uint64(len(data))))
			return nil
		})
	}
	put("votes.json", art.Votes, &votesCID)
	put("tally.json", art.Tally, &tallyCID)
	if err := g.Wait(); err != nil {
		return "", "", err
	}

	if err := db.SetAttemptCIDs(ctx, p.store.DB, pollID, votesCID, tallyCID, p.now().Unix()); err != nil {
		return "", "", err
	}
	return votesCID, tallyCID, nil
}

// commit stores the anchor and the closed -> anchored transition together.
func (p *Pipeline) commit(ctx context.Context, a *models.Anchor) error {
	unlock := p.locks.Lock(a.PollID)
	defer unlock()

	return p.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := db.InsertAnchor(ctx, tx, *a); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "poll was anchored concurrently")
			}
			return err
		}
		if _, err := lifecycle.Next(models.StatusClosed, lifecycle.EventAnchor); err != nil {
			return err
		}
		ok, err := db.MarkPollAnchored(ctx, tx, a.PollID, a.ResultHash, a.AnchoredAt)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "poll is no longer closed")
		}
		return nil
	})
}

// VerifyAnchor fetches the anchored artifacts back from the content store
// and checks that they still hash to the anchored result.
func (p *Pipeline) VerifyAnchor(ctx context.Context, pollID int64) (*models.Anchor, error) {
	a, err := db.GetAnchor(ctx, p.store.DB, pollID)
	if err != nil {
		return nil, err
	}
	var votes, tally []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		votes, err = p.content.Get(gctx, a.VotesCID)
		return err
	})
	g.Go(func() (err error) {
		tally, err = p.content.Get(gctx, a.TallyCID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if got := ResultHash(votes, tally); got != a.ResultHash {
		return nil, apperr.New(apperr.KindTamper, apperr.CodeResultChanged,
			"published artifacts hash to "+got.Hex()+", anchored "+a.ResultHash.Hex())
	}
	return a, nil
}
