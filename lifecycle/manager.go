// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/chain"
	"github.com/danielhkuo/verivote/contentstore"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/eligibility"
	"github.com/danielhkuo/verivote/metrics"
	"github.com/danielhkuo/verivote/models"
	"github.com/danielhkuo/verivote/polllock"
	"github.com/danielhkuo/verivote/retry"
)

// Config wires a Manager. Logger, Metrics, Tracer and Now are optional.
type Config struct {
	Store        *db.Store
	Locks        *polllock.Arena
	Verifier     *auth.TypedVerifier
	Content      contentstore.Store
	Anchorer     chain.Anchorer
	Retry        retry.Policy
	AdminKeySalt string
	EmailSalt    string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Manager runs draft operations. Operations on one draft are serialized by
// the poll lock of the same id, which is also the id of the published poll.
type Manager struct {
	store        *db.Store
	locks        *polllock.Arena
	verifier     *auth.TypedVerifier
	content      contentstore.Store
	anchorer     chain.Anchorer
	retry        retry.Policy
	adminKeySalt string
	emailSalt    string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		store:        cfg.Store,
		locks:        cfg.Locks,
		verifier:     cfg.Verifier,
		content:      cfg.Content,
		anchorer:     cfg.Anchorer,
		retry:        cfg.Retry,
		adminKeySalt: cfg.AdminKeySalt,
		emailSalt:    cfg.EmailSalt,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		now:          cfg.Now,
	}
	if m.locks == nil {
		m.locks = &polllock.Arena{}
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/danielhkuo/verivote/lifecycle")
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// policy returns the retry policy for calls to service.
func (m *Manager) policy(service, code string) retry.Policy {
	p := m.retry
	p.Code = code
	p.OnRetry = func(attempt int, err error) {
		m.metrics.ExternalRetry(service)
		m.logger.Warn("retrying external call", "service", service, "attempt", attempt, "error", err)
	}
	return p
}

// CreateDraft validates and stores a new draft and returns its admin key.
func (m *Manager) CreateDraft(ctx context.Context, req models.CreateDraftRequest) (*models.CreateDraftResponse, error) {
	d, err := ValidateDraft(req, m.now())
	if err != nil {
		return nil, err
	}
	id, err := db.InsertDraft(ctx, m.store.DB, d)
	if err != nil {
		return nil, err
	}

	m.logger.Info("draft created", "draft_id", id, "options", len(d.Options), "created_by", db.WalletKey(d.CreatedBy))
	return &models.CreateDraftResponse{
		DraftID:  id,
		AdminKey: auth.GenerateAdminKey(id, m.adminKeySalt),
	}, nil
}

// GetDraft loads a draft with its number of active bindings.
func (m *Manager) GetDraft(ctx context.Context, id int64) (*models.DraftResponse, error) {
	d, err := db.GetDraft(ctx, m.store.DB, id)
	if err != nil {
		return nil, err
	}
	bindings, err := db.ListActiveBindings(ctx, m.store.DB, id)
	if err != nil {
		return nil, err
	}
	return &models.DraftResponse{Draft: *d, Bindings: len(bindings)}, nil
}

// ListDrafts returns the drafts created by a wallet, newest first.
func (m *Manager) ListDrafts(ctx context.Context, createdBy string) (*models.DraftListResponse, error) {
	if !strings.HasPrefix(createdBy, "0x") || !common.IsHexAddress(createdBy) {
		return nil, invalid("created_by must be a 0x-prefixed wallet address")
	}
	drafts, err := db.ListDrafts(ctx, m.store.DB, common.HexToAddress(createdBy))
	if err != nil {
		return nil, err
	}
	return &models.DraftListResponse{Drafts: drafts}, nil
}

// AddBinding binds an invitee's email to the wallet that signed the
// Register message.
func (m *Manager) AddBinding(ctx context.Context, draftID int64, req models.AddBindingRequest) (*models.Binding, error) {
	emailHash, err := auth.EmailHash(req.Email, m.emailSalt)
	if err != nil {
		return nil, invalid(err.Error())
	}
	wallets, err := eligibility.ParseWallets([]string{req.Wallet})
	if err != nil {
		return nil, invalid("wallet must be a 0x-prefixed 20-byte hex address")
	}
	nonce, err := auth.ParseNonce(req.Nonce)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(req.Sig)
	if err != nil {
		return nil, invalid("sig must be 0x-prefixed hex")
	}

	now := m.now()
	if _, err := m.verifier.VerifyRegister(auth.RegisterMessage{
		DraftID:   draftID,
		EmailHash: emailHash,
		Wallet:    wallets[0],
		Nonce:     nonce,
		Deadline:  req.Deadline,
	}, sig, now); err != nil {
		return nil, err
	}

	b := models.Binding{
		DraftID:   draftID,
		EmailHash: emailHash,
		Wallet:    wallets[0],
		Sig:       sig,
		Nonce:     nonce.Dec(),
		Deadline:  req.Deadline,
		BoundAt:   now.Unix(),
	}

	unlock := m.locks.Lock(draftID)
	defer unlock()

	err = m.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := requireDraftStatus(ctx, tx, draftID, models.StatusDraft); err != nil {
			return err
		}
		used, err := db.BindingNonceUsed(ctx, tx, draftID, b.Wallet, b.Nonce)
		if err != nil {
			return err
		}
		if used {
			return apperr.New(apperr.KindAuthentication, apperr.CodeNonceReused, "nonce already used for this draft")
		}
		bound, err := db.WalletBound(ctx, tx, draftID, b.Wallet)
		if err != nil {
			return err
		}
		if bound {
			return apperr.New(apperr.KindConflict, apperr.CodeAlreadyBound, "wallet is already bound in this draft")
		}
		ok, err := db.PutBinding(ctx, tx, b)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindConflict, apperr.CodeAlreadyBound, "email is already bound in this draft")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("binding added", "draft_id", draftID, "wallet", db.WalletKey(b.Wallet))
	return &b, nil
}

// RevokeBinding removes an invitee from a draft that is not frozen yet.
func (m *Manager) RevokeBinding(ctx context.Context, draftID int64, email string) error {
	emailHash, err := auth.EmailHash(email, m.emailSalt)
	if err != nil {
		return invalid(err.Error())
	}

	unlock := m.locks.Lock(draftID)
	defer unlock()

	return m.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := requireDraftStatus(ctx, tx, draftID, models.StatusDraft); err != nil {
			return err
		}
		ok, err := db.RevokeBinding(ctx, tx, draftID, emailHash, m.now().Unix())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "no active binding for this email")
		}
		m.logger.Info("binding revoked", "draft_id", draftID)
		return nil
	})
}

// Freeze closes the binding set of a draft.
func (m *Manager) Freeze(ctx context.Context, draftID int64) error {
	return m.transition(ctx, draftID, EventFreeze, func(tx *sql.Tx) error {
		bindings, err := db.ListActiveBindings(ctx, tx, draftID)
		if err != nil {
			return err
		}
		if len(bindings) == 0 {
			return apperr.New(apperr.KindConflict, apperr.CodeNoBindings, "draft has no bound wallets")
		}
		return nil
	})
}

// Cancel abandons a draft that has not been published.
func (m *Manager) Cancel(ctx context.Context, draftID int64) error {
	return m.transition(ctx, draftID, EventCancel, nil)
}

// transition applies ev to a draft after guard passes, inside one
// transaction under the draft lock.
func (m *Manager) transition(ctx context.Context, draftID int64, ev Event, guard func(tx *sql.Tx) error) error {
	unlock := m.locks.Lock(draftID)
	defer unlock()

	var from, to string
	err := m.store.InTx(ctx, func(tx *sql.Tx) error {
		d, err := db.GetDraft(ctx, tx, draftID)
		if err != nil {
			return err
		}
		from = d.Status
		to, err = Next(from, ev)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(tx); err != nil {
				return err
			}
		}
		ok, err := db.SetDraftStatus(ctx, tx, draftID, from, to, m.now().Unix())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "draft changed concurrently")
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("draft transitioned", "draft_id", draftID, "event", string(ev), "from", from, "to", to)
	return nil
}

// Preview builds the eligibility tree of the current bindings without
// publishing anything.
func (m *Manager) Preview(ctx context.Context, draftID int64) (*models.EligibilityPreview, error) {
	d, err := db.GetDraft(ctx, m.store.DB, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusDraft && d.Status != models.StatusFrozen {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "draft is "+d.Status)
	}
	tree, err := m.buildTree(ctx, m.store.DB, draftID)
	if err != nil {
		return nil, err
	}
	return &models.EligibilityPreview{DraftID: draftID, Root: tree.Root(), Wallets: tree.Len()}, nil
}

func (m *Manager) buildTree(ctx context.Context, q db.Querier, draftID int64) (*eligibility.Tree, error) {
	bindings, err := db.ListActiveBindings(ctx, q, draftID)
	if err != nil {
		return nil, err
	}
	wallets := make([]common.Address, len(bindings))
	for i, b := range bindings {
		wallets[i] = b.Wallet
	}
	return eligibility.Build(draftID, wallets)
}

// Publish turns a frozen draft into an active poll: it builds the
// eligibility tree, publishes proposal.json, registers the poll on chain and
// then stores poll, options and allowlist in one transaction.
func (m *Manager) Publish(ctx context.Context, draftID int64) (resp *models.PublishResponse, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Publish", trace.WithAttributes(attribute.Int64("poll.id", draftID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.CodeOf(err))
		}
		span.End()
	}()

	unlock := m.locks.Lock(draftID)
	defer unlock()

	d, err := db.GetDraft(ctx, m.store.DB, draftID)
	if err != nil {
		return nil, err
	}
	if _, err := Next(d.Status, EventPublish); err != nil {
		return nil, err
	}
	tree, err := m.buildTree(ctx, m.store.DB, draftID)
	if err != nil {
		return nil, err
	}

	proposal, err := NewProposal(d, tree).Encode()
	if err != nil {
		return nil, err
	}
	var cid string
	err = retry.Do(ctx, m.policy("content", apperr.CodeStorage), func(ctx context.Context) error {
		var perr error
		cid, perr = m.content.Put(ctx, proposal)
		return perr
	})
	if err != nil {
		return nil, err
	}
	m.metrics.ArtifactPublished(len(proposal))
	metaURI := contentstore.URI(cid)
	m.logger.Info("proposal published", "draft_id", draftID, "cid", cid, "size", humanize.Bytes(uint64(len(proposal))))

	record := chain.PollRecord{
		PollID:       draftID,
		EligibleRoot: tree.Root(),
		MetaURI:      metaURI,
		StartTS:      d.StartTS,
		EndTS:        d.EndTS,
	}
	txHash, err := m.register(ctx, record)
	if err != nil {
		return nil, err
	}

	now := m.now().Unix()
	items := make([]models.AllowlistItem, 0, tree.Len())
	for _, e := range tree.Entries() {
		items = append(items, models.AllowlistItem{PollID: draftID, Wallet: e.Wallet, Index: e.Index, Leaf: e.Leaf, Proof: e.Proof})
	}
	err = m.store.InTx(ctx, func(tx *sql.Tx) error {
		ok, err := db.SetDraftStatus(ctx, tx, draftID, models.StatusFrozen, models.StatusPublished, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "draft changed while publishing")
		}
		if err := db.InsertPoll(ctx, tx, models.Poll{
			ID:           draftID,
			Title:        d.Title,
			MetaURI:      metaURI,
			StartTS:      d.StartTS,
			EndTS:        d.EndTS,
			EligibleRoot: tree.Root(),
			CreatedBy:    d.CreatedBy,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if err := db.InsertOptions(ctx, tx, draftID, d.Options, now); err != nil {
			return err
		}
		return db.InsertAllowlist(ctx, tx, items)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("poll published",
		"poll_id", draftID,
		"eligible", tree.Len(),
		"root", tree.Root().Hex(),
		"tx", txHash,
	)
	return &models.PublishResponse{
		PollID:       draftID,
		EligibleRoot: tree.Root(),
		MetaURI:      metaURI,
		TxHash:       txHash,
	}, nil
}

// register gets the poll onto the chain and returns the transaction that
// wrote it. The transaction is recorded before waiting, so a publish retried
// after a later failure reuses it instead of sending createPoll again.
func (m *Manager) register(ctx context.Context, record chain.PollRecord) (string, error) {
	draftID := record.PollID
	recorded, err := db.GetPublishTx(ctx, m.store.DB, draftID)
	if err != nil {
		return "", err
	}
	if recorded != "" {
		err := m.waitConfirmed(ctx, recorded)
		if err == nil {
			return recorded, nil
		}
		if err := m.forgetTx(ctx, draftID, recorded, err); err != nil {
			return "", err
		}
	}

	var found *chain.Record[chain.PollRecord]
	err = retry.Do(ctx, m.policy("chain", apperr.CodeChain), func(ctx context.Context) error {
		var ferr error
		found, ferr = m.anchorer.FindPoll(ctx, draftID)
		return ferr
	})
	if err != nil {
		return "", err
	}
	if found != nil {
		if found.Value.EligibleRoot != record.EligibleRoot {
			return "", apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "poll is registered on chain with another eligibility root")
		}
		m.logger.Info("poll already registered on chain", "draft_id", draftID, "tx", found.TxHash)
		return found.TxHash, db.SetPublishTx(ctx, m.store.DB, draftID, found.TxHash, m.now().Unix())
	}

	var txHash string
	err = retry.Do(ctx, m.policy("chain", apperr.CodeChain), func(ctx context.Context) error {
		var serr error
		txHash, serr = m.anchorer.CreatePoll(ctx, record)
		return serr
	})
	if err != nil {
		return "", err
	}
	if err := db.SetPublishTx(ctx, m.store.DB, draftID, txHash, m.now().Unix()); err != nil {
		return "", err
	}
	if err := m.waitConfirmed(ctx, txHash); err != nil {
		if ferr := m.forgetTx(ctx, draftID, txHash, err); ferr != nil {
			return "", ferr
		}
		return "", err
	}
	return txHash, nil
}

func (m *Manager) waitConfirmed(ctx context.Context, txHash string) error {
	return retry.Do(ctx, m.policy("chain", apperr.CodeChain), func(ctx context.Context) error {
		err := m.anchorer.WaitConfirmed(ctx, txHash)
		if apperr.CodeOf(err) == apperr.CodeTxReverted {
			return retry.Permanent(err)
		}
		return err
	})
}

// forgetTx clears the recorded createPoll transaction when waitErr shows it
// will never confirm, and returns waitErr otherwise.
func (m *Manager) forgetTx(ctx context.Context, draftID int64, txHash string, waitErr error) error {
	if !chain.Unmined(waitErr) || ctx.Err() != nil {
		return waitErr
	}
	m.logger.Warn("createPoll transaction not mined", "draft_id", draftID, "tx", txHash, "error", waitErr)
	return db.SetPublishTx(ctx, m.store.DB, draftID, "", m.now().Unix())
}

func requireDraftStatus(ctx context.Context, q db.Querier, draftID int64, status string) error {
	d, err := db.GetDraft(ctx, q, draftID)
	if err != nil {
		return err
	}
	if d.Status != status {
		return apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "draft is "+d.Status)
	}
	return nil
}
