// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/apperr"
)

// PollRecord is the on-chain registration of a published poll.
type PollRecord struct {
	PollID       int64
	EligibleRoot common.Hash
	MetaURI      string
	StartTS      int64
	EndTS        int64
}

// ResultRecord is the anchor of a finalized poll.
type ResultRecord struct {
	PollID     int64
	ResultHash common.Hash
	VotesURI   string
	TallyURI   string
}

// Record is a registration or result found on chain with the transaction
// that wrote it. Ethereum lookups read contract events, so they fill only
// PollID and the hash field of Value.
type Record[T any] struct {
	Value  T
	TxHash string
}

// Anchorer is the external chain collaborator. Submissions return the
// transaction hash as 0x hex; WaitConfirmed blocks until it is mined
// successfully or ctx ends, and reports a reverted transaction with
// apperr.CodeTxReverted and one that was never mined with
// apperr.CodeTxDropped. FindPoll and FindResult return nil when the poll
// has nothing on chain.
type Anchorer interface {
	CreatePoll(ctx context.Context, p PollRecord) (string, error)
	SubmitResult(ctx context.Context, r ResultRecord) (string, error)
	WaitConfirmed(ctx context.Context, txHash string) error
	FindPoll(ctx context.Context, pollID int64) (*Record[PollRecord], error)
	FindResult(ctx context.Context, pollID int64) (*Record[ResultRecord], error)
}

var (
	errReverted = &apperr.Error{Kind: apperr.KindExternal, Code: apperr.CodeTxReverted}
	errDropped  = &apperr.Error{Kind: apperr.KindExternal, Code: apperr.CodeTxDropped}
)

// Unmined reports whether err from WaitConfirmed means the transaction
// reverted or was never mined, so sending it again is safe once the chain
// shows nothing for the poll.
func Unmined(err error) bool {
	return errors.Is(err, errReverted) || errors.Is(err, errDropped)
}

const contractABI = `[
	{"type":"function","name":"createPoll","stateMutability":"nonpayable","inputs":[
		{"name":"pollId","type":"uint256"},
		{"name":"eligibleRoot","type":"bytes32"},
		{"name":"metaURI","type":"string"},
		{"name":"startTs","type":"uint64"},
		{"name":"endTs","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"anchorResult","stateMutability":"nonpayable","inputs":[
		{"name":"pollId","type":"uint256"},
		{"name":"resultHash","type":"bytes32"},
		{"name":"votesURI","type":"string"},
		{"name":"tallyURI","type":"string"}],"outputs":[]},
	{"type":"event","name":"PollCreated","anonymous":false,"inputs":[
		{"name":"pollId","type":"uint256","indexed":true},
		{"name":"eligibleRoot","type":"bytes32","indexed":false}]},
	{"type":"event","name":"ResultAnchored","anonymous":false,"inputs":[
		{"name":"pollId","type":"uint256","indexed":true},
		{"name":"resultHash","type":"bytes32","indexed":false}]}
]`

var votingABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(fmt.Sprintf("voting contract abi: %v", err))
	}
	return parsed
}

// EncodeCreatePoll returns the calldata of createPoll.
func EncodeCreatePoll(p PollRecord) ([]byte, error) {
	if p.StartTS < 0 || p.EndTS < 0 {
		return nil, errors.New("negative poll window")
	}
	return votingABI.Pack("createPoll",
		big.NewInt(p.PollID), [32]byte(p.EligibleRoot), p.MetaURI, uint64(p.StartTS), uint64(p.EndTS))
}

// EncodeAnchorResult returns the calldata of anchorResult.
func EncodeAnchorResult(r ResultRecord) ([]byte, error) {
	return votingABI.Pack("anchorResult",
		big.NewInt(r.PollID), [32]byte(r.ResultHash), r.VotesURI, r.TallyURI)
}
