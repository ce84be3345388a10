// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"testing"

	"github.com/danielhkuo/verivote/contentstore"
	"github.com/danielhkuo/verivote/eligibility"
	"github.com/danielhkuo/verivote/finalize"
	"github.com/danielhkuo/verivote/lifecycle"
	"github.com/danielhkuo/verivote/models"
	"github.com/danielhkuo/verivote/testutil"
)

// TestFullVotingWorkflow tests the complete end-to-end workflow:
// 1. Create draft
// 2. Invitees bind wallets
// 3. Freeze and publish
// 4. Eligible wallets vote, an outsider is refused
// 5. Finalize after the end
// 6. Recompute the result from the published artifacts
func TestFullVotingWorkflow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wallets := testutil.NewWallets(t, 4)
	eligible := wallets[:3]

	// Steps 1-3
	pollID := e.publishPoll(t, eligible)
	ids := idString(pollID)
	t.Logf("Step 3 - Published poll %d", pollID)

	rec, ok := e.ledger.Poll(pollID)
	if !ok {
		t.Fatal("Step 3 - Poll not registered on chain")
	}
	proposalCID, ok := contentstore.CIDFromURI(rec.MetaURI)
	if !ok {
		t.Fatalf("Step 3 - Bad meta uri %q", rec.MetaURI)
	}
	raw, err := e.content.Get(ctx, proposalCID)
	if err != nil {
		t.Fatalf("Step 3 - proposal.json not published: %v", err)
	}
	var proposal lifecycle.Proposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		t.Fatal(err)
	}
	addrs, err := eligibility.ParseWallets(proposal.Wallets)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := eligibility.Build(pollID, addrs)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Root() != rec.EligibleRoot {
		t.Fatal("Step 3 - Root rebuilt from proposal.json differs from the registered root")
	}

	// Step 4
	e.clock.Set(testStart + 60)
	choices := []int{0, 1, 0}
	for i, wl := range eligible {
		w := e.vote(e.voteRequest(t, pollID, wl, choices[i], 1), pollID)
		testutil.AssertStatus(t, w, http.StatusCreated)
	}
	outsider := e.voteRequest(t, pollID, eligible[0], 0, 2)
	outsider.Wallet = wallets[3].Address.Hex()
	outsider.Sig = e.signVote(t, pollID, wallets[3], 0, 2)
	testutil.AssertStatus(t, e.vote(outsider, pollID), http.StatusForbidden)

	// Step 5
	e.clock.Set(testEnd + 60)
	w := call(e.results.Finalize, "POST", "/polls/"+ids+"/finalize", nil, "", "id", ids)
	testutil.AssertStatus(t, w, http.StatusOK)
	var anchor models.Anchor
	testutil.AssertJSON(t, w, &anchor)
	if anchor.ProposalCID != proposalCID {
		t.Errorf("Step 5 - Anchor proposal cid %s, want %s", anchor.ProposalCID, proposalCID)
	}

	// Step 6
	votes, err := e.content.Get(ctx, anchor.VotesCID)
	if err != nil {
		t.Fatal(err)
	}
	tally, err := e.content.Get(ctx, anchor.TallyCID)
	if err != nil {
		t.Fatal(err)
	}
	result, ok := e.ledger.Result(pollID)
	if !ok {
		t.Fatal("Step 6 - Result not anchored")
	}
	if finalize.ResultHash(votes, tally) != result.ResultHash {
		t.Error("Step 6 - Recomputed result hash differs from the anchored one")
	}

	var ta finalize.TallyArtifact
	if err := json.Unmarshal(tally, &ta); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ta.Counts, []uint64{2, 1, 0}) {
		t.Errorf("Step 6 - Tally %v, want [2 1 0]", ta.Counts)
	}

	w = call(e.polls.GetAudit, "GET", "/polls/"+ids+"/audit", nil, "", "id", ids)
	testutil.AssertStatus(t, w, http.StatusOK)
	var auditResp models.AuditResponse
	testutil.AssertJSON(t, w, &auditResp)
	if !auditResp.Valid || auditResp.Tip != ta.AuditTip {
		t.Errorf("Step 6 - Audit tip %s, tally records %s", auditResp.Tip.Hex(), ta.AuditTip.Hex())
	}
}
