// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/chain"
	"github.com/danielhkuo/verivote/contentstore"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/eligibility"
	"github.com/danielhkuo/verivote/models"
	"github.com/danielhkuo/verivote/retry"
	"github.com/danielhkuo/verivote/testutil"
)

const testNow = 1_000_000

func TestNext(t *testing.T) {
	tests := []struct {
		from    string
		event   Event
		want    string
		wantErr bool
	}{
		{models.StatusDraft, EventFreeze, models.StatusFrozen, false},
		{models.StatusDraft, EventCancel, models.StatusCanceled, false},
		{models.StatusFrozen, EventCancel, models.StatusCanceled, false},
		{models.StatusFrozen, EventPublish, models.StatusPublished, false},
		{models.StatusActive, EventClose, models.StatusClosed, false},
		{models.StatusClosed, EventAnchor, models.StatusAnchored, false},

		{models.StatusDraft, EventPublish, "", true},
		{models.StatusFrozen, EventFreeze, "", true},
		{models.StatusPublished, EventCancel, "", true},
		{models.StatusCanceled, EventFreeze, "", true},
		{models.StatusActive, EventAnchor, "", true},
		{models.StatusAnchored, EventClose, "", true},
		{models.StatusClosed, EventClose, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.from+"/"+string(tt.event), func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if tt.wantErr {
				if apperr.CodeOf(err) != apperr.CodeIllegalTransition {
					t.Errorf("Next() error = %v, want illegal transition", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Next() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestEffective(t *testing.T) {
	p := &models.Poll{Status: models.StatusActive, StartTS: 100, EndTS: 200}
	if got := Effective(p, time.Unix(199, 0)); got != models.StatusActive {
		t.Errorf("before end = %s", got)
	}
	if got := Effective(p, time.Unix(200, 0)); got != models.StatusClosed {
		t.Errorf("at end = %s", got)
	}
	p.Status = models.StatusAnchored
	if got := Effective(p, time.Unix(300, 0)); got != models.StatusAnchored {
		t.Errorf("anchored = %s", got)
	}
}

func validDraftRequest() models.CreateDraftRequest {
	return models.CreateDraftRequest{
		Title:       "  Lunch  ",
		Description: "Where should we eat?",
		Options: []models.Option{
			{Idx: 0, Label: "Tacos"},
			{Idx: 1, Label: "Ramen", Description: "the place on 5th"},
		},
		StartTS:   testNow + 100,
		EndTS:     testNow + 100 + 3600,
		CreatedBy: "0x00000000000000000000000000000000000000c0",
	}
}

func TestValidateDraft(t *testing.T) {
	now := time.Unix(testNow, 0)

	d, err := ValidateDraft(validDraftRequest(), now)
	if err != nil {
		t.Fatalf("ValidateDraft() error = %v", err)
	}
	if d.Title != "Lunch" || d.Status != models.StatusDraft || d.CreatedAt != testNow {
		t.Errorf("unexpected draft %+v", d)
	}

	// a window too long for time.Duration must still count as long enough
	far := validDraftRequest()
	far.EndTS = math.MaxInt64
	if _, err := ValidateDraft(far, now); err != nil {
		t.Errorf("ValidateDraft() with distant end error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *models.CreateDraftRequest)
	}{
		{"empty title", func(r *models.CreateDraftRequest) { r.Title = "   " }},
		{"long title", func(r *models.CreateDraftRequest) { r.Title = strings.Repeat("a", 201) }},
		{"long description", func(r *models.CreateDraftRequest) { r.Description = strings.Repeat("a", 1001) }},
		{"one option", func(r *models.CreateDraftRequest) { r.Options = r.Options[:1] }},
		{"eleven options", func(r *models.CreateDraftRequest) {
			r.Options = nil
			for i := 0; i < 11; i++ {
				r.Options = append(r.Options, models.Option{Idx: i, Label: fmt.Sprint(i)})
			}
		}},
		{"index gap", func(r *models.CreateDraftRequest) { r.Options[1].Idx = 2 }},
		{"blank label", func(r *models.CreateDraftRequest) { r.Options[0].Label = " " }},
		{"long label", func(r *models.CreateDraftRequest) { r.Options[0].Label = strings.Repeat("a", 101) }},
		{"long option description", func(r *models.CreateDraftRequest) { r.Options[0].Description = strings.Repeat("a", 501) }},
		{"start in past", func(r *models.CreateDraftRequest) { r.StartTS = testNow - 1 }},
		{"end before start", func(r *models.CreateDraftRequest) { r.EndTS = r.StartTS }},
		{"shorter than an hour", func(r *models.CreateDraftRequest) { r.EndTS = r.StartTS + 3599 }},
		{"bad creator", func(r *models.CreateDraftRequest) { r.CreatedBy = "alice" }},
		{"creator without prefix", func(r *models.CreateDraftRequest) { r.CreatedBy = strings.Repeat("a", 40) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validDraftRequest()
			req.Options = append([]models.Option(nil), req.Options...)
			tt.mutate(&req)
			_, err := ValidateDraft(req, now)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("ValidateDraft() error = %v, want validation", err)
			}
		})
	}
}

type fixture struct {
	store    *db.Store
	manager  *Manager
	verifier *auth.TypedVerifier
	content  *contentstore.Memory
	ledger   *chain.Ledger
	cfg      Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.SetupTestDB(t)
	verifier := testutil.NewVerifier(t)
	testCfg := testutil.GetTestConfig()
	cfg := Config{
		Store:        store,
		Verifier:     verifier,
		Content:      contentstore.NewMemory(),
		Anchorer:     chain.NewLedger(),
		Retry:        retry.Policy{Attempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond},
		AdminKeySalt: testCfg.AdminKeySalt,
		EmailSalt:    testCfg.EmailSalt,
		Now:          testutil.FixedClock(testNow),
	}
	return &fixture{
		store:    store,
		manager:  NewManager(cfg),
		verifier: verifier,
		content:  cfg.Content.(*contentstore.Memory),
		ledger:   cfg.Anchorer.(*chain.Ledger),
		cfg:      cfg,
	}
}

func (f *fixture) createDraft(t *testing.T) int64 {
	t.Helper()
	resp, err := f.manager.CreateDraft(context.Background(), validDraftRequest())
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}
	if err := auth.ValidateAdminKey(resp.DraftID, resp.AdminKey, f.cfg.AdminKeySalt); err != nil {
		t.Errorf("admin key does not validate: %v", err)
	}
	return resp.DraftID
}

func (f *fixture) bindingRequest(t *testing.T, draftID int64, email string, w testutil.Wallet, nonce uint64) models.AddBindingRequest {
	t.Helper()
	emailHash, err := auth.EmailHash(email, f.cfg.EmailSalt)
	if err != nil {
		t.Fatal(err)
	}
	deadline := int64(testNow + 600)
	sig := testutil.SignRegister(t, f.verifier, w, auth.RegisterMessage{
		DraftID:   draftID,
		EmailHash: emailHash,
		Wallet:    w.Address,
		Nonce:     testutil.Nonce(nonce),
		Deadline:  deadline,
	})
	return models.AddBindingRequest{
		Email:    email,
		Wallet:   w.Address.Hex(),
		Nonce:    fmt.Sprint(nonce),
		Deadline: deadline,
		Sig:      sig,
	}
}

func (f *fixture) bind(t *testing.T, draftID int64, email string, w testutil.Wallet, nonce uint64) {
	t.Helper()
	if _, err := f.manager.AddBinding(context.Background(), draftID, f.bindingRequest(t, draftID, email, w, nonce)); err != nil {
		t.Fatalf("AddBinding(%s) error = %v", email, err)
	}
}

func TestBindings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)
	ws := testutil.NewWallets(t, 3)

	f.bind(t, id, "a@example.com", ws[0], 1)

	t.Run("nonce reused", func(t *testing.T) {
		_, err := f.manager.AddBinding(ctx, id, f.bindingRequest(t, id, "other@example.com", ws[0], 1))
		if apperr.CodeOf(err) != apperr.CodeNonceReused {
			t.Errorf("error = %v, want nonce_reused", err)
		}
	})

	t.Run("wallet already bound", func(t *testing.T) {
		_, err := f.manager.AddBinding(ctx, id, f.bindingRequest(t, id, "other@example.com", ws[0], 2))
		if apperr.CodeOf(err) != apperr.CodeAlreadyBound {
			t.Errorf("error = %v, want already_bound", err)
		}
	})

	t.Run("email already bound", func(t *testing.T) {
		_, err := f.manager.AddBinding(ctx, id, f.bindingRequest(t, id, "A@Example.com", ws[1], 1))
		if apperr.CodeOf(err) != apperr.CodeAlreadyBound {
			t.Errorf("error = %v, want already_bound", err)
		}
	})

	t.Run("signature for another draft", func(t *testing.T) {
		req := f.bindingRequest(t, id+1, "b@example.com", ws[1], 1)
		_, err := f.manager.AddBinding(ctx, id, req)
		if apperr.KindOf(err) != apperr.KindAuthentication {
			t.Errorf("error = %v, want authentication", err)
		}
	})

	t.Run("bad email", func(t *testing.T) {
		req := f.bindingRequest(t, id, "b@example.com", ws[1], 1)
		req.Email = "not-an-email"
		_, err := f.manager.AddBinding(ctx, id, req)
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("error = %v, want validation", err)
		}
	})

	t.Run("revoke and rebind", func(t *testing.T) {
		if err := f.manager.RevokeBinding(ctx, id, "a@example.com"); err != nil {
			t.Fatalf("RevokeBinding() error = %v", err)
		}
		if err := f.manager.RevokeBinding(ctx, id, "a@example.com"); !apperr.IsKind(err, apperr.KindNotFound) {
			t.Errorf("second RevokeBinding() error = %v, want not found", err)
		}
		f.bind(t, id, "a@example.com", ws[2], 1)
	})

	resp, err := f.manager.GetDraft(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Bindings != 1 {
		t.Errorf("active bindings = %d, want 1", resp.Bindings)
	}
}

func TestFreezeRequiresBindings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)

	err := f.manager.Freeze(ctx, id)
	if apperr.CodeOf(err) != apperr.CodeNoBindings {
		t.Fatalf("Freeze() error = %v, want no_bindings", err)
	}
	d, _ := db.GetDraft(ctx, f.store.DB, id)
	if d.Status != models.StatusDraft {
		t.Errorf("status = %s after failed freeze", d.Status)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)
	f.bind(t, id, "a@example.com", testutil.NewWallets(t, 1)[0], 1)

	if err := f.manager.Freeze(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := f.manager.Cancel(ctx, id); apperr.CodeOf(err) != apperr.CodeIllegalTransition {
		t.Errorf("second Cancel() error = %v", err)
	}
	if _, err := f.manager.Publish(ctx, id); apperr.CodeOf(err) != apperr.CodeIllegalTransition {
		t.Errorf("Publish() of canceled draft error = %v", err)
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)
	ws := testutil.NewWallets(t, 3)
	for i, w := range ws {
		f.bind(t, id, fmt.Sprintf("v%d@example.com", i), w, 1)
	}

	if _, err := f.manager.Publish(ctx, id); apperr.CodeOf(err) != apperr.CodeIllegalTransition {
		t.Fatalf("Publish() before freeze error = %v", err)
	}
	if err := f.manager.Freeze(ctx, id); err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	if _, err := f.manager.AddBinding(ctx, id, f.bindingRequest(t, id, "late@example.com", testutil.NewWallets(t, 1)[0], 1)); apperr.CodeOf(err) != apperr.CodeIllegalTransition {
		t.Errorf("AddBinding() after freeze error = %v", err)
	}

	preview, err := f.manager.Preview(ctx, id)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	tree, err := eligibility.Build(id, testutil.Addresses(ws))
	if err != nil {
		t.Fatal(err)
	}
	if preview.Root != tree.Root() || preview.Wallets != 3 {
		t.Errorf("Preview() = %+v, want root %s", preview, tree.Root().Hex())
	}

	f.ledger.FailNext(2)
	resp, err := f.manager.Publish(ctx, id)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if resp.EligibleRoot != tree.Root() {
		t.Errorf("published root %s, want %s", resp.EligibleRoot.Hex(), tree.Root().Hex())
	}

	rec, ok := f.ledger.Poll(id)
	if !ok || rec.EligibleRoot != tree.Root() || rec.MetaURI != resp.MetaURI {
		t.Errorf("ledger record = %+v, %v", rec, ok)
	}

	cid, ok := contentstore.CIDFromURI(resp.MetaURI)
	if !ok {
		t.Fatalf("meta uri %q is not ipfs", resp.MetaURI)
	}
	raw, err := f.content.Get(ctx, cid)
	if err != nil {
		t.Fatalf("proposal not stored: %v", err)
	}
	var proposal Proposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		t.Fatal(err)
	}
	wallets := make([]common.Address, len(proposal.Wallets))
	for i, w := range proposal.Wallets {
		wallets[i] = common.HexToAddress(w)
	}
	rebuilt, err := eligibility.Build(id, wallets)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Root() != proposal.EligibleRoot {
		t.Error("root rebuilt from proposal.json does not match")
	}

	poll, err := db.GetPoll(ctx, f.store.DB, id)
	if err != nil {
		t.Fatalf("GetPoll() error = %v", err)
	}
	if poll.Status != models.StatusActive || len(poll.Options) != 2 || poll.MetaURI != resp.MetaURI {
		t.Errorf("unexpected poll %+v", poll)
	}
	n, err := db.CountAllowlist(ctx, f.store.DB, id)
	if err != nil || n != 3 {
		t.Errorf("allowlist = %d, %v", n, err)
	}
	for _, w := range ws {
		item, err := db.GetAllowlistItem(ctx, f.store.DB, id, w.Address)
		if err != nil {
			t.Fatal(err)
		}
		if !eligibility.Verify(poll.EligibleRoot, item.Leaf, item.Proof) {
			t.Errorf("stored proof of %s does not verify", w.Address.Hex())
		}
	}

	d, _ := db.GetDraft(ctx, f.store.DB, id)
	if d.Status != models.StatusPublished || d.PublishedAt == nil {
		t.Errorf("draft = %s, published_at %v", d.Status, d.PublishedAt)
	}
	if _, err := f.manager.Publish(ctx, id); apperr.CodeOf(err) != apperr.CodeIllegalTransition {
		t.Errorf("second Publish() error = %v", err)
	}
	if err := f.manager.Cancel(ctx, id); apperr.CodeOf(err) != apperr.CodeIllegalTransition {
		t.Errorf("Cancel() after publish error = %v", err)
	}
}

func TestPublishChainUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)
	f.bind(t, id, "a@example.com", testutil.NewWallets(t, 1)[0], 1)
	if err := f.manager.Freeze(ctx, id); err != nil {
		t.Fatal(err)
	}

	f.ledger.FailNext(10)
	_, err := f.manager.Publish(ctx, id)
	if !apperr.IsKind(err, apperr.KindExternal) || apperr.CodeOf(err) != apperr.CodeChain {
		t.Fatalf("Publish() error = %v, want chain unavailable", err)
	}
	if !apperr.KindOf(err).Retryable() {
		t.Error("chain failure should be retryable")
	}

	d, _ := db.GetDraft(ctx, f.store.DB, id)
	if d.Status != models.StatusFrozen {
		t.Errorf("draft status = %s, want frozen", d.Status)
	}
	if _, err := db.GetPoll(ctx, f.store.DB, id); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("poll row exists after failed publish: %v", err)
	}

	f.ledger.FailNext(0)
	if _, err := f.manager.Publish(ctx, id); err != nil {
		t.Fatalf("Publish() retry error = %v", err)
	}
}

func TestPublishReusesConfirmedRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)
	f.bind(t, id, "a@example.com", testutil.NewWallets(t, 1)[0], 1)
	if err := f.manager.Freeze(ctx, id); err != nil {
		t.Fatal(err)
	}
	sends := f.ledger.Sends()

	// createPoll confirms but storing the poll fails
	if _, err := f.store.DB.ExecContext(ctx, `
		CREATE TRIGGER fail_poll_insert BEFORE INSERT ON polls
		BEGIN SELECT RAISE(ABORT, 'disk full'); END
	`); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.Publish(ctx, id); err == nil {
		t.Fatal("Publish() succeeded although the poll insert fails")
	}
	recorded, err := db.GetPublishTx(ctx, f.store.DB, id)
	if err != nil || recorded == "" {
		t.Fatalf("GetPublishTx() = %q, %v, want the createPoll tx", recorded, err)
	}
	if _, err := f.store.DB.ExecContext(ctx, `DROP TRIGGER fail_poll_insert`); err != nil {
		t.Fatal(err)
	}

	resp, err := f.manager.Publish(ctx, id)
	if err != nil {
		t.Fatalf("Publish() retry error = %v", err)
	}
	if resp.TxHash != recorded {
		t.Errorf("retry tx = %s, want recorded %s", resp.TxHash, recorded)
	}
	if n := f.ledger.Sends() - sends; n != 1 {
		t.Errorf("sent createPoll %d times, want 1", n)
	}
}

func TestPublishResendsAfterRevert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createDraft(t)
	f.bind(t, id, "a@example.com", testutil.NewWallets(t, 1)[0], 1)
	if err := f.manager.Freeze(ctx, id); err != nil {
		t.Fatal(err)
	}

	f.ledger.RevertNext(1)
	_, err := f.manager.Publish(ctx, id)
	if apperr.CodeOf(err) != apperr.CodeTxReverted {
		t.Fatalf("Publish() error = %v, want tx_reverted", err)
	}
	if tx, _ := db.GetPublishTx(ctx, f.store.DB, id); tx != "" {
		t.Errorf("reverted tx %s still recorded", tx)
	}
	if _, ok := f.ledger.Poll(id); ok {
		t.Fatal("reverted registration is on the ledger")
	}

	resp, err := f.manager.Publish(ctx, id)
	if err != nil {
		t.Fatalf("Publish() after revert error = %v", err)
	}
	if err := f.ledger.WaitConfirmed(ctx, resp.TxHash); err != nil {
		t.Errorf("publish tx not confirmed: %v", err)
	}
}
