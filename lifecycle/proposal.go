// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/eligibility"
	"github.com/danielhkuo/verivote/models"
)

// Proposal is the public description of a published poll. Its CID is the
// poll's meta URI. Wallets are listed so anyone can rebuild the eligible
// root.
type Proposal struct {
	PollID       int64           `json:"poll_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Options      []models.Option `json:"options"`
	StartTS      int64           `json:"start_ts"`
	EndTS        int64           `json:"end_ts"`
	CreatedBy    string          `json:"created_by"`
	EligibleRoot common.Hash     `json:"eligible_root"`
	Wallets      []string        `json:"wallets"`
}

// NewProposal describes d with the eligibility tree built for it.
func NewProposal(d *models.Draft, tree *eligibility.Tree) Proposal {
	wallets := make([]string, 0, tree.Len())
	for _, e := range tree.Entries() {
		wallets = append(wallets, db.WalletKey(e.Wallet))
	}
	return Proposal{
		PollID:       d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Options:      d.Options,
		StartTS:      d.StartTS,
		EndTS:        d.EndTS,
		CreatedBy:    db.WalletKey(d.CreatedBy),
		EligibleRoot: tree.Root(),
		Wallets:      wallets,
	}
}

// Encode renders the proposal as compact JSON. Field order is fixed by the
// struct, so equal proposals give equal bytes and equal CIDs.
func (p Proposal) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal: %w", err)
	}
	return b, nil
}
