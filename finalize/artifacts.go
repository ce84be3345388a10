// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package finalize

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/danielhkuo/verivote/audit"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/models"
)

// Separator frames the two artifacts inside the result hash preimage. It is
// the ASCII record separator, which compact JSON never contains.
const Separator byte = 0x1E

// VoteRecord is one line of votes.json.
type VoteRecord struct {
	Wallet   string        `json:"wallet"`
	Option   uint8         `json:"option"`
	Nonce    string        `json:"nonce"`
	Deadline int64         `json:"deadline"`
	Sig      hexutil.Bytes `json:"sig"`
	Leaf     common.Hash   `json:"leaf"`
	RowHash  common.Hash   `json:"row_hash"`
}

// VotesArtifact is votes.json.
type VotesArtifact struct {
	PollID       int64        `json:"poll_id"`
	EligibleRoot common.Hash  `json:"eligible_root"`
	Votes        []VoteRecord `json:"votes"`
}

// TallyArtifact is tally.json.
type TallyArtifact struct {
	PollID   int64       `json:"poll_id"`
	Options  int         `json:"options"`
	Counts   []uint64    `json:"counts"`
	Total    uint64      `json:"total"`
	AuditTip common.Hash `json:"audit_tip"`
}

// Artifacts are the encoded outputs of a poll and their result hash.
type Artifacts struct {
	Votes      []byte
	Tally      []byte
	ResultHash common.Hash
	Counts     []uint64
}

// ResultHash hashes the two encoded artifacts with the separator between
// them.
func ResultHash(votes, tally []byte) common.Hash {
	return crypto.Keccak256Hash(votes, []byte{Separator}, tally)
}

// BuildArtifacts encodes the votes and tally of a closed poll. Votes must be
// ordered by wallet as db.ListVotes returns them; they are re-sorted anyway
// so the output never depends on the caller.
func BuildArtifacts(poll *models.Poll, votes []models.Vote, tip common.Hash) (*Artifacts, error) {
	sorted := make([]models.Vote, len(votes))
	copy(sorted, votes)
	sortVotes(sorted)

	counts := make([]uint64, len(poll.Options))
	records := make([]VoteRecord, 0, len(sorted))
	for _, v := range sorted {
		if int(v.Option) >= len(counts) {
			return nil, fmt.Errorf("vote of %s has option %d, poll has %d", db.WalletKey(v.Wallet), v.Option, len(counts))
		}
		counts[v.Option]++

		row, err := audit.RowHash(v)
		if err != nil {
			return nil, err
		}
		records = append(records, VoteRecord{
			Wallet:   db.WalletKey(v.Wallet),
			Option:   v.Option,
			Nonce:    v.Nonce,
			Deadline: v.Deadline,
			Sig:      v.Sig,
			Leaf:     v.Leaf,
			RowHash:  row,
		})
	}

	votesJSON, err := json.Marshal(VotesArtifact{PollID: poll.ID, EligibleRoot: poll.EligibleRoot, Votes: records})
	if err != nil {
		return nil, fmt.Errorf("failed to encode votes: %w", err)
	}
	tallyJSON, err := json.Marshal(TallyArtifact{
		PollID:   poll.ID,
		Options:  len(counts),
		Counts:   counts,
		Total:    uint64(len(records)),
		AuditTip: tip,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tally: %w", err)
	}

	return &Artifacts{
		Votes:      votesJSON,
		Tally:      tallyJSON,
		ResultHash: ResultHash(votesJSON, tallyJSON),
		Counts:     counts,
	}, nil
}

func sortVotes(votes []models.Vote) {
	slices.SortFunc(votes, func(a, b models.Vote) int {
		return strings.Compare(db.WalletKey(a.Wallet), db.WalletKey(b.Wallet))
	})
}
