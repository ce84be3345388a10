// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/chain"
	"github.com/danielhkuo/verivote/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	s, err := Open(ctx, DialectSQLite, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}
	return s
}

func seedPoll(t *testing.T, s *Store) int64 {
	t.Helper()
	ctx := context.Background()
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	id, err := InsertDraft(ctx, s.DB, models.Draft{
		Title:     "Lunch",
		Options:   []models.Option{{Idx: 0, Label: "Pizza"}, {Idx: 1, Label: "Sushi"}},
		StartTS:   100,
		EndTS:     4000,
		CreatedBy: creator,
		CreatedAt: 50,
	})
	if err != nil {
		t.Fatalf("InsertDraft() error = %v", err)
	}

	err = s.InTx(ctx, func(tx *sql.Tx) error {
		if err := InsertPoll(ctx, tx, models.Poll{
			ID: id, Title: "Lunch", MetaURI: "ipfs://x", StartTS: 100, EndTS: 4000,
			EligibleRoot: crypto.Keccak256Hash([]byte("root")), CreatedBy: creator, CreatedAt: 60,
		}); err != nil {
			return err
		}
		return InsertOptions(ctx, tx, id, []models.Option{{Idx: 0, Label: "Pizza"}, {Idx: 1, Label: "Sushi"}}, 60)
	})
	if err != nil {
		t.Fatalf("seed poll: %v", err)
	}
	return id
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"postgres", DialectPostgres, false},
		{"PostgreSQL", DialectPostgres, false},
		{"sqlite", DialectSQLite, false},
		{"", DialectSQLite, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDialect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDialect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("second CreateSchema() error = %v", err)
	}
}

func TestDraftRoundTripAndStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := InsertDraft(ctx, s.DB, models.Draft{
		Title:     "Budget",
		Options:   []models.Option{{Idx: 0, Label: "Yes", MediaURI: "ipfs://img"}, {Idx: 1, Label: "No"}},
		StartTS:   10,
		EndTS:     20,
		CreatedBy: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		CreatedAt: 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := GetDraft(ctx, s.DB, id)
	if err != nil {
		t.Fatalf("GetDraft() error = %v", err)
	}
	if d.Status != models.StatusDraft || len(d.Options) != 2 || d.Options[0].MediaURI != "ipfs://img" {
		t.Errorf("unexpected draft: %+v", d)
	}

	ok, err := SetDraftStatus(ctx, s.DB, id, models.StatusDraft, models.StatusFrozen, 7)
	if err != nil || !ok {
		t.Fatalf("SetDraftStatus() = %v, %v", ok, err)
	}
	ok, _ = SetDraftStatus(ctx, s.DB, id, models.StatusDraft, models.StatusFrozen, 8)
	if ok {
		t.Error("second transition from draft should not apply")
	}

	d, _ = GetDraft(ctx, s.DB, id)
	if d.FrozenAt == nil || *d.FrozenAt != 7 {
		t.Errorf("FrozenAt = %v, want 7", d.FrozenAt)
	}

	_, err = GetDraft(ctx, s.DB, id+100)
	if apperr.KindOf(err) != apperr.KindNotFound || !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing draft error = %v", err)
	}
}

func TestBindingRevokeAndRebind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	draftID, _ := InsertDraft(ctx, s.DB, models.Draft{Title: "t", Options: []models.Option{}, CreatedAt: 1})

	email := crypto.Keccak256Hash([]byte("e@x.io"))
	w1 := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	w2 := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	b := models.Binding{DraftID: draftID, EmailHash: email, Wallet: w1, Sig: []byte{1}, Nonce: "1", Deadline: 99, BoundAt: 10}
	if ok, err := PutBinding(ctx, s.DB, b); err != nil || !ok {
		t.Fatalf("PutBinding() = %v, %v", ok, err)
	}

	b.Wallet = w2
	if ok, _ := PutBinding(ctx, s.DB, b); ok {
		t.Error("active binding must not be replaced")
	}

	if ok, err := RevokeBinding(ctx, s.DB, draftID, email, 20); err != nil || !ok {
		t.Fatalf("RevokeBinding() = %v, %v", ok, err)
	}
	if bound, _ := WalletBound(ctx, s.DB, draftID, w1); bound {
		t.Error("revoked wallet still reported bound")
	}

	b.Nonce = "2"
	if ok, err := PutBinding(ctx, s.DB, b); err != nil || !ok {
		t.Fatalf("rebind = %v, %v", ok, err)
	}

	active, err := ListActiveBindings(ctx, s.DB, draftID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Wallet != w2 {
		t.Errorf("active bindings = %+v", active)
	}

	used, _ := BindingNonceUsed(ctx, s.DB, draftID, w2, "2")
	if !used {
		t.Error("nonce 2 should be recorded for w2")
	}
}

func TestVotePrimaryKeyIsUniqueViolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pollID := seedPoll(t, s)

	v := models.Vote{
		PollID: pollID, Wallet: common.HexToAddress("0x00000000000000000000000000000000000000d1"),
		Option: 1, Sig: []byte{1, 2}, Nonce: "1", Deadline: 10,
		Leaf: crypto.Keccak256Hash([]byte("leaf")), ReceivedAt: 200,
	}
	if err := InsertVote(ctx, s.DB, v); err != nil {
		t.Fatalf("InsertVote() error = %v", err)
	}
	err := InsertVote(ctx, s.DB, v)
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false", err)
	}

	got, err := GetVote(ctx, s.DB, pollID, v.Wallet)
	if err != nil {
		t.Fatal(err)
	}
	if got.Option != 1 || got.Leaf != v.Leaf || len(got.Proof) != 0 {
		t.Errorf("GetVote() = %+v", got)
	}
}

func TestAuditEntriesOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pollID := seedPoll(t, s)

	last, err := LastAuditEntry(ctx, s.DB, pollID)
	if err != nil || last != nil {
		t.Fatalf("LastAuditEntry() on empty chain = %v, %v", last, err)
	}

	for i := byte(1); i <= 3; i++ {
		_, err := InsertAuditEntry(ctx, s.DB, models.AuditEntry{
			PollID: pollID, RowHash: common.Hash{i}, TipHash: common.Hash{0xf0 + i}, CreatedAt: int64(i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := ListAuditEntries(ctx, s.DB, pollID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].RowHash != (common.Hash{1}) {
		t.Fatalf("entries = %+v", entries)
	}
	last, _ = LastAuditEntry(ctx, s.DB, pollID)
	if last.Seq != entries[2].Seq {
		t.Errorf("last seq = %d, want %d", last.Seq, entries[2].Seq)
	}
}

func TestAnchorAttemptLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pollID := seedPoll(t, s)
	hash := crypto.Keccak256Hash([]byte("result"))

	if a, _ := GetAnchorAttempt(ctx, s.DB, pollID); a != nil {
		t.Fatal("expected no attempt")
	}
	if err := StartAnchorAttempt(ctx, s.DB, pollID, hash, 1); err != nil {
		t.Fatal(err)
	}
	if err := StartAnchorAttempt(ctx, s.DB, pollID, common.Hash{9}, 2); err != nil {
		t.Fatal(err)
	}
	if err := SetAttemptCIDs(ctx, s.DB, pollID, "bv", "bt", 3); err != nil {
		t.Fatal(err)
	}

	a, err := GetAnchorAttempt(ctx, s.DB, pollID)
	if err != nil {
		t.Fatal(err)
	}
	if a.ResultHash != hash || a.Attempts != 2 || a.VotesCID != "bv" {
		t.Errorf("attempt = %+v", a)
	}

	ok, err := SetPollStatus(ctx, s.DB, pollID, models.StatusActive, models.StatusClosed, 4)
	if err != nil || !ok {
		t.Fatalf("close = %v, %v", ok, err)
	}
	ok, err = MarkPollAnchored(ctx, s.DB, pollID, hash, 5)
	if err != nil || !ok {
		t.Fatalf("MarkPollAnchored() = %v, %v", ok, err)
	}
	p, _ := GetPoll(ctx, s.DB, pollID)
	if p.Status != models.StatusAnchored || p.ResultHash == nil || *p.ResultHash != hash {
		t.Errorf("poll = %+v", p)
	}
	if len(p.Options) != 2 {
		t.Errorf("options = %d, want 2", len(p.Options))
	}
}

func TestHaltPollKeepsFirstReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pollID := seedPoll(t, s)

	if err := HaltPoll(ctx, s.DB, pollID, "first", 10); err != nil {
		t.Fatal(err)
	}
	if err := HaltPoll(ctx, s.DB, pollID, "second", 11); err != nil {
		t.Fatal(err)
	}
	p, _ := GetPoll(ctx, s.DB, pollID)
	if !p.Halted() || p.HaltReason != "first" {
		t.Errorf("halt = %v %q", p.HaltedAt, p.HaltReason)
	}
}

func TestListDraftsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	var ids []int64
	for i, by := range []common.Address{alice, bob, alice, alice} {
		id, err := InsertDraft(ctx, s.DB, models.Draft{
			Title:     "draft",
			Options:   []models.Option{{Idx: 0, Label: "A"}, {Idx: 1, Label: "B"}},
			StartTS:   100,
			EndTS:     4000,
			CreatedBy: by,
			CreatedAt: int64(10 + i/3),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	got, err := ListDrafts(ctx, s.DB, alice)
	if err != nil {
		t.Fatalf("ListDrafts() error = %v", err)
	}
	want := []int64{ids[3], ids[2], ids[0]}
	if len(got) != len(want) {
		t.Fatalf("ListDrafts() returned %d drafts, want %d", len(got), len(want))
	}
	for i, d := range got {
		if d.ID != want[i] || d.CreatedBy != alice || len(d.Options) != 2 {
			t.Errorf("draft %d = %+v, want id %d", i, d, want[i])
		}
	}

	none, err := ListDrafts(ctx, s.DB, common.HexToAddress("0x01"))
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("ListDrafts(unknown) = %v, %v, want empty", none, err)
	}
}

func TestPublishTx(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pollID := seedPoll(t, s)

	if tx, err := GetPublishTx(ctx, s.DB, pollID); err != nil || tx != "" {
		t.Fatalf("GetPublishTx() = %q, %v, want empty", tx, err)
	}
	for _, want := range []string{"0xaa", "0xbb", ""} {
		if err := SetPublishTx(ctx, s.DB, pollID, want, 1); err != nil {
			t.Fatal(err)
		}
		if tx, _ := GetPublishTx(ctx, s.DB, pollID); tx != want {
			t.Errorf("GetPublishTx() = %q, want %q", tx, want)
		}
	}
}

func TestBlobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if data, err := GetBlob(ctx, s.DB, "missing"); err != nil || data != nil {
		t.Fatalf("GetBlob(missing) = %v, %v", data, err)
	}
	if err := PutBlob(ctx, s.DB, "cid", []byte("hello"), 1); err != nil {
		t.Fatal(err)
	}
	if err := PutBlob(ctx, s.DB, "cid", []byte("hello"), 2); err != nil {
		t.Errorf("second PutBlob() error = %v", err)
	}
	data, err := GetBlob(ctx, s.DB, "cid")
	if err != nil || string(data) != "hello" {
		t.Errorf("GetBlob() = %q, %v", data, err)
	}
}

func TestLedgerStatePersists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	poll := chain.PollRecord{PollID: 4, EligibleRoot: common.Hash{1}, MetaURI: "ipfs://m", StartTS: 10, EndTS: 20}
	result := chain.ResultRecord{PollID: 4, ResultHash: common.Hash{2}, VotesURI: "ipfs://v", TallyURI: "ipfs://t"}

	first := chain.NewLedgerOn(NewLedgerState(s.DB))
	createTx, err := first.CreatePoll(ctx, poll)
	if err != nil {
		t.Fatalf("CreatePoll() error = %v", err)
	}

	// a second process sharing the database
	second := chain.NewLedgerOn(NewLedgerState(s.DB))
	if err := second.WaitConfirmed(ctx, createTx); err != nil {
		t.Errorf("WaitConfirmed() on shared state error = %v", err)
	}
	anchorTx, err := second.SubmitResult(ctx, result)
	if err != nil {
		t.Fatalf("SubmitResult() on shared state error = %v", err)
	}

	found, err := first.FindResult(ctx, 4)
	if err != nil || found == nil || found.Value != result || found.TxHash != anchorTx {
		t.Errorf("FindResult() = %+v, %v", found, err)
	}
	if p, ok := first.Poll(4); !ok || p != poll {
		t.Errorf("Poll() = %+v, %v", p, ok)
	}

	changed := result
	changed.ResultHash = common.Hash{3}
	if _, err := first.SubmitResult(ctx, changed); apperr.CodeOf(err) != apperr.CodeResultChanged {
		t.Errorf("changed result error = %v, want result_hash_changed", err)
	}
}
