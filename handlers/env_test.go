// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/admission"
	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/chain"
	"github.com/danielhkuo/verivote/cliparse"
	"github.com/danielhkuo/verivote/contentstore"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/finalize"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/models"
	"github.com/danielhkuo/verivote/polllock"
	"github.com/danielhkuo/verivote/retry"
	"github.com/danielhkuo/verivote/testutil"
)

const (
	testNow   = 1_000_000
	testStart = testNow + 100
	testEnd   = testStart + 3600
)

type testClock struct{ ts atomic.Int64 }

func (c *testClock) Now() time.Time { return time.Unix(c.ts.Load(), 0) }
func (c *testClock) Set(ts int64)   { c.ts.Store(ts) }

// env is a fully wired service on an in-memory database, content store and
// ledger.
type env struct {
	store    *db.Store
	cfg      cliparse.Config
	clock    *testClock
	verifier *auth.TypedVerifier
	content  *contentstore.Memory
	ledger   *chain.Ledger

	drafts  *DraftHandler
	polls   *PollHandler
	voting  *VotingHandler
	results *ResultsHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	verifier := testutil.NewVerifier(t)
	clock := &testClock{}
	clock.Set(testNow)
	content := contentstore.NewMemory()
	ledger := chain.NewLedger()
	locks := &polllock.Arena{}
	auditChain := audit.NewChain(store, nil, nil)
	policy := retry.Policy{Attempts: 2, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}

	manager := lifecycle.NewManager(lifecycle.Config{
		Store:        store,
		Locks:        locks,
		Verifier:     verifier,
		Content:      content,
		Anchorer:     ledger,
		Retry:        policy,
		AdminKeySalt: cfg.AdminKeySalt,
		EmailSalt:    cfg.EmailSalt,
		Now:          clock.Now,
	})
	engine := admission.New(admission.Config{
		Store:    store,
		Locks:    locks,
		Verifier: verifier,
		Chain:    auditChain,
		Now:      clock.Now,
	})
	pipeline := finalize.New(finalize.Config{
		Store:    store,
		Locks:    locks,
		Chain:    auditChain,
		Content:  content,
		Anchorer: ledger,
		Retry:    policy,
		Now:      clock.Now,
	})

	return &env{
		store:    store,
		cfg:      cfg,
		clock:    clock,
		verifier: verifier,
		content:  content,
		ledger:   ledger,
		drafts:   NewDraftHandler(manager, cfg),
		polls:    NewPollHandler(store, auditChain, clock.Now),
		voting:   NewVotingHandler(engine),
		results:  NewResultsHandler(store, pipeline),
	}
}

// call runs a handler with the given path values and admin key.
func call(h http.HandlerFunc, method, path string, body any, adminKey string, pathValues ...string) *httptest.ResponseRecorder {
	headers := map[string]string{}
	if adminKey != "" {
		headers[AdminKeyHeader] = adminKey
	}
	req := testutil.MakeRequest(method, path, body, headers)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }

func draftRequest() models.CreateDraftRequest {
	return models.CreateDraftRequest{
		Title: "Team offsite",
		Options: []models.Option{
			{Idx: 0, Label: "Lisbon"},
			{Idx: 1, Label: "Kyoto"},
			{Idx: 2, Label: "Oaxaca"},
		},
		StartTS:   testStart,
		EndTS:     testEnd,
		CreatedBy: "0x00000000000000000000000000000000000000c0",
	}
}

// createDraft creates a draft and returns its id and admin key.
func (e *env) createDraft(t *testing.T) (int64, string) {
	t.Helper()
	w := call(e.drafts.CreateDraft, "POST", "/drafts", draftRequest(), "")
	testutil.AssertStatus(t, w, http.StatusCreated)
	var resp models.CreateDraftResponse
	testutil.AssertJSON(t, w, &resp)
	return resp.DraftID, resp.AdminKey
}

func (e *env) bindingRequest(t *testing.T, draftID int64, email string, w testutil.Wallet, nonce uint64) models.AddBindingRequest {
	t.Helper()
	emailHash, err := auth.EmailHash(email, e.cfg.EmailSalt)
	if err != nil {
		t.Fatal(err)
	}
	deadline := e.clock.Now().Unix() + 600
	sig := testutil.SignRegister(t, e.verifier, w, auth.RegisterMessage{
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

// publishPoll runs a draft through bindings, freeze and publish for the
// given wallets and returns the poll id.
func (e *env) publishPoll(t *testing.T, wallets []testutil.Wallet) int64 {
	t.Helper()
	id, key := e.createDraft(t)
	for i, w := range wallets {
		resp := call(e.drafts.AddBinding, "POST", "/drafts/"+idString(id)+"/bindings",
			e.bindingRequest(t, id, fmt.Sprintf("voter%d@example.com", i), w, 1), "", "id", idString(id))
		testutil.AssertStatus(t, resp, http.StatusCreated)
	}
	resp := call(e.drafts.Freeze, "POST", "/drafts/"+idString(id)+"/freeze", nil, key, "id", idString(id))
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp = call(e.drafts.Publish, "POST", "/drafts/"+idString(id)+"/publish", nil, key, "id", idString(id))
	testutil.AssertStatus(t, resp, http.StatusCreated)
	return id
}

// proof fetches a wallet's proof through the API.
func (e *env) proof(t *testing.T, pollID int64, wallet common.Address) []string {
	t.Helper()
	w := call(e.polls.GetProof, "GET", "/polls/"+idString(pollID)+"/proofs/"+wallet.Hex(), nil, "",
		"id", idString(pollID), "wallet", wallet.Hex())
	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.ProofResponse
	testutil.AssertJSON(t, w, &resp)
	out := make([]string, len(resp.Proof))
	for i, h := range resp.Proof {
		out[i] = h.Hex()
	}
	return out
}

func (e *env) signVote(t *testing.T, pollID int64, w testutil.Wallet, option int, nonce uint64) string {
	t.Helper()
	return testutil.SignVote(t, e.verifier, w, auth.VoteMessage{
		PollID:   pollID,
		Voter:    w.Address,
		Option:   uint8(option),
		Nonce:    testutil.Nonce(nonce),
		Deadline: testEnd,
	})
}

func (e *env) voteRequest(t *testing.T, pollID int64, w testutil.Wallet, option int, nonce uint64) models.SubmitVoteRequest {
	t.Helper()
	return models.SubmitVoteRequest{
		Wallet:   w.Address.Hex(),
		Option:   option,
		Nonce:    fmt.Sprint(nonce),
		Deadline: testEnd,
		Sig:      e.signVote(t, pollID, w, option, nonce),
		Proof:    e.proof(t, pollID, w.Address),
	}
}

func (e *env) vote(req models.SubmitVoteRequest, pollID int64) *httptest.ResponseRecorder {
	return call(e.voting.SubmitVote, "POST", "/polls/"+idString(pollID)+"/votes", req, "", "id", idString(pollID))
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	testutil.AssertStatus(t, w, status)
	var resp models.ErrorResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Code != code {
		t.Errorf("Expected code '%s', got '%s' (%s)", code, resp.Code, resp.Message)
	}
}

func (e *env) pollStatus(t *testing.T, id int64) string {
	t.Helper()
	p, err := db.GetPoll(context.Background(), e.store.DB, id)
	if err != nil {
		t.Fatalf("GetPoll() error = %v", err)
	}
	return p.Status
}
