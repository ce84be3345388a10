// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package admission

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/eligibility"
	"github.com/danielhkuo/verivote/metrics"
	"github.com/danielhkuo/verivote/models"
	"github.com/danielhkuo/verivote/polllock"
)

// Request is a signed ballot.
type Request struct {
	PollID   int64
	Wallet   common.Address
	Option   uint8
	Nonce    *uint256.Int
	Deadline int64
	Sig      []byte
	Proof    eligibility.Proof
}

// ParseRequest validates the wire form of a ballot.
func ParseRequest(pollID int64, r models.SubmitVoteRequest) (Request, error) {
	invalid := func(msg string) (Request, error) {
		return Request{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, msg)
	}

	wallets, err := eligibility.ParseWallets([]string{r.Wallet})
	if err != nil {
		return invalid("wallet must be a 0x-prefixed 20-byte hex address")
	}
	if r.Option < 0 || r.Option > 255 {
		return Request{}, apperr.New(apperr.KindValidation, apperr.CodeOptionOutOfRange, "option must fit in uint8")
	}
	nonce, err := auth.ParseNonce(r.Nonce)
	if err != nil {
		return Request{}, err
	}
	if r.Deadline <= 0 {
		return invalid("deadline is required")
	}
	sig, err := hexutil.Decode(r.Sig)
	if err != nil {
		return invalid("sig must be 0x-prefixed hex")
	}
	proof, err := eligibility.ParseProof(r.Proof)
	if err != nil {
		return invalid(err.Error())
	}

	return Request{
		PollID:   pollID,
		Wallet:   wallets[0],
		Option:   uint8(r.Option),
		Nonce:    nonce,
		Deadline: r.Deadline,
		Sig:      sig,
		Proof:    proof,
	}, nil
}

// Config wires an Engine. Logger, Metrics, Tracer and Now are optional.
type Config struct {
	Store    *db.Store
	Locks    *polllock.Arena
	Verifier *auth.TypedVerifier
	Chain    *audit.Chain
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Now      func() time.Time
}

// Engine admits votes: one per wallet per poll, each recorded in the audit
// chain in the same transaction.
type Engine struct {
	store    *db.Store
	locks    *polllock.Arena
	verifier *auth.TypedVerifier
	chain    *audit.Chain
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:    cfg.Store,
		locks:    cfg.Locks,
		verifier: cfg.Verifier,
		chain:    cfg.Chain,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		now:      cfg.Now,
	}
	if e.locks == nil {
		e.locks = &polllock.Arena{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/danielhkuo/verivote/admission")
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.chain == nil {
		e.chain = audit.NewChain(cfg.Store, e.logger, cfg.Metrics)
	}
	return e
}

// Admit runs the admission checks in order and stores the vote. Errors carry
// the apperr kind and code of the first failed check.
func (e *Engine) Admit(ctx context.Context, req Request) (*models.VoteReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "admission.Admit", trace.WithAttributes(
		attribute.Int64("poll.id", req.PollID),
		attribute.String("wallet", db.WalletKey(req.Wallet)),
	))
	defer span.End()

	receipt, err := e.admit(ctx, req)
	if err != nil {
		code := apperr.CodeOf(err)
		e.metrics.VoteRejected(code)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		e.logger.Info("vote rejected",
			"poll_id", req.PollID,
			"wallet", db.WalletKey(req.Wallet),
			"code", code,
			"error", err,
		)
		return nil, err
	}

	e.metrics.VoteAdmitted()
	e.logger.Info("vote admitted",
		"poll_id", receipt.PollID,
		"wallet", db.WalletKey(receipt.Wallet),
		"seq", receipt.Seq,
		"tip", receipt.TipHash.Hex(),
	)
	return receipt, nil
}

func (e *Engine) admit(ctx context.Context, req Request) (*models.VoteReceipt, error) {
	if req.Nonce == nil {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "nonce is required")
	}

	// Cheap checks first, outside the lock.
	poll, err := db.GetPoll(ctx, e.store.DB, req.PollID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := checkOpen(poll, now); err != nil {
		return nil, err
	}
	if _, err := e.verifier.VerifyVote(auth.VoteMessage{
		PollID:   req.PollID,
		Voter:    req.Wallet,
		Option:   req.Option,
		Nonce:    req.Nonce,
		Deadline: req.Deadline,
	}, req.Sig, now); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(req.PollID)
	defer unlock()

	var receipt *models.VoteReceipt
	err = e.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.LockPoll(ctx, tx, req.PollID); err != nil {
			return err
		}
		// Finalize may have closed the poll while we waited for the lock.
		poll, err := db.GetPoll(ctx, tx, req.PollID)
		if err != nil {
			return err
		}
		if err := checkOpen(poll, e.now()); err != nil {
			return err
		}

		nonce := req.Nonce.Dec()
		prior, err := db.GetVote(ctx, tx, req.PollID, req.Wallet)
		switch {
		case err == nil && prior.Nonce == nonce:
			return apperr.New(apperr.KindAuthentication, apperr.CodeNonceReused, "nonce already used for this poll")
		case err != nil && !apperr.IsKind(err, apperr.KindNotFound):
			return err
		}

		if int(req.Option) >= len(poll.Options) {
			return apperr.New(apperr.KindValidation, apperr.CodeOptionOutOfRange, "option index out of range")
		}

		if !eligibility.VerifyWallet(poll.EligibleRoot, req.PollID, req.Wallet, req.Proof) {
			return apperr.New(apperr.KindEligibility, apperr.CodeNotEligible, "wallet is not on the poll allowlist")
		}

		vote := models.Vote{
			PollID:     req.PollID,
			Wallet:     req.Wallet,
			Option:     req.Option,
			Sig:        req.Sig,
			Nonce:      nonce,
			Deadline:   req.Deadline,
			Leaf:       eligibility.Leaf(req.Wallet, req.PollID),
			Proof:      req.Proof,
			ReceivedAt: e.now().Unix(),
		}
		if err := db.InsertVote(ctx, tx, vote); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, apperr.CodeAlreadyVoted, "wallet has already voted in this poll")
			}
			return err
		}

		rowHash, err := audit.RowHash(vote)
		if err != nil {
			return err
		}
		entry, err := e.chain.Append(ctx, tx, req.PollID, rowHash)
		if err != nil {
			return err
		}

		receipt = &models.VoteReceipt{
			PollID:  req.PollID,
			Wallet:  req.Wallet,
			Option:  req.Option,
			Seq:     entry.Seq,
			RowHash: entry.RowHash,
			TipHash: entry.TipHash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// checkOpen enforces the voting window on a poll row.
func checkOpen(p *models.Poll, now time.Time) error {
	if p.Halted() {
		return apperr.New(apperr.KindTamper, apperr.CodePollHalted, "poll is halted: "+p.HaltReason)
	}
	if p.Status != models.StatusActive {
		return apperr.New(apperr.KindTiming, apperr.CodePollNotActive, "poll is "+p.Status)
	}
	ts := now.Unix()
	if ts < p.StartTS {
		return apperr.New(apperr.KindTiming, apperr.CodePollNotStarted, "voting has not started")
	}
	if ts >= p.EndTS {
		return apperr.New(apperr.KindTiming, apperr.CodePollEnded, "voting has ended")
	}
	return nil
}
