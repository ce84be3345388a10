// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package chain

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/danielhkuo/verivote/apperr"
)

// LedgerState holds what a Ledger has accepted. SavePoll and SaveResult keep
// an existing record for the poll untouched.
type LedgerState interface {
	LoadPoll(ctx context.Context, pollID int64) (*Record[PollRecord], error)
	LoadResult(ctx context.Context, pollID int64) (*Record[ResultRecord], error)
	SavePoll(ctx context.Context, p PollRecord, txHash string) error
	SaveResult(ctx context.Context, r ResultRecord, txHash string) error
	HasTx(ctx context.Context, txHash string) (bool, error)
}

// Ledger is an Anchorer without a chain. Like the contract, it accepts one
// registration and one result per poll; resubmitting identical data returns
// the original transaction.
type Ledger struct {
	state LedgerState

	mu       sync.Mutex
	fail     int
	revert   int
	drop     int
	sends    int
	reverted map[string]bool
}

// NewLedger returns a ledger that keeps its state in memory.
func NewLedger() *Ledger {
	return NewLedgerOn(newMemoryState())
}

// NewLedgerOn returns a ledger that keeps its state in state.
func NewLedgerOn(state LedgerState) *Ledger {
	return &Ledger{state: state, reverted: make(map[string]bool)}
}

// FailNext makes the next n submissions fail with a retryable error.
func (l *Ledger) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = n
}

// RevertNext makes the next n submissions return a transaction that
// WaitConfirmed reports as reverted. Nothing is recorded for them.
func (l *Ledger) RevertNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revert = n
}

// DropNext makes the next n submissions return a transaction that is never
// mined.
func (l *Ledger) DropNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop = n
}

// Sends counts submissions that reached the ledger, failed ones included.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

// Poll returns the registration of a poll.
func (l *Ledger) Poll(pollID int64) (PollRecord, bool) {
	rec, err := l.state.LoadPoll(context.Background(), pollID)
	if err != nil || rec == nil {
		return PollRecord{}, false
	}
	return rec.Value, true
}

// Result returns the anchored result of a poll.
func (l *Ledger) Result(pollID int64) (ResultRecord, bool) {
	rec, err := l.state.LoadResult(context.Background(), pollID)
	if err != nil || rec == nil {
		return ResultRecord{}, false
	}
	return rec.Value, true
}

func (l *Ledger) CreatePoll(ctx context.Context, p PollRecord) (string, error) {
	data, err := EncodeCreatePoll(p)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "cannot encode createPoll")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.admit(ctx); err != nil {
		return "", err
	}
	prev, err := l.state.LoadPoll(ctx, p.PollID)
	if err != nil {
		return "", chainErr(err, "failed to read ledger")
	}
	if prev != nil {
		if prev.Value != p {
			return "", apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "poll already registered on chain")
		}
		return prev.TxHash, nil
	}
	if tx, ok := l.unmined(data); ok {
		return tx, nil
	}

	tx := txHash(data)
	if err := l.state.SavePoll(ctx, p, tx); err != nil {
		return "", chainErr(err, "failed to write ledger")
	}
	stored, err := l.state.LoadPoll(ctx, p.PollID)
	if err != nil || stored == nil {
		return "", chainErr(err, "failed to read ledger")
	}
	if stored.Value != p {
		return "", apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "poll already registered on chain")
	}
	return stored.TxHash, nil
}

func (l *Ledger) SubmitResult(ctx context.Context, r ResultRecord) (string, error) {
	data, err := EncodeAnchorResult(r)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "cannot encode anchorResult")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.admit(ctx); err != nil {
		return "", err
	}
	poll, err := l.state.LoadPoll(ctx, r.PollID)
	if err != nil {
		return "", chainErr(err, "failed to read ledger")
	}
	if poll == nil {
		return "", apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition, "poll is not registered on chain")
	}
	prev, err := l.state.LoadResult(ctx, r.PollID)
	if err != nil {
		return "", chainErr(err, "failed to read ledger")
	}
	if prev != nil {
		if prev.Value != r {
			return "", apperr.New(apperr.KindTamper, apperr.CodeResultChanged, "a different result is already anchored")
		}
		return prev.TxHash, nil
	}
	if tx, ok := l.unmined(data); ok {
		return tx, nil
	}

	tx := txHash(data)
	if err := l.state.SaveResult(ctx, r, tx); err != nil {
		return "", chainErr(err, "failed to write ledger")
	}
	stored, err := l.state.LoadResult(ctx, r.PollID)
	if err != nil || stored == nil {
		return "", chainErr(err, "failed to read ledger")
	}
	if stored.Value != r {
		return "", apperr.New(apperr.KindTamper, apperr.CodeResultChanged, "a different result is already anchored")
	}
	return stored.TxHash, nil
}

func (l *Ledger) WaitConfirmed(ctx context.Context, txHash string) error {
	if err := ctx.Err(); err != nil {
		return chainErr(err, "transaction "+txHash+" not confirmed")
	}
	l.mu.Lock()
	reverted := l.reverted[txHash]
	l.mu.Unlock()
	if reverted {
		return apperr.New(apperr.KindExternal, apperr.CodeTxReverted, "transaction "+txHash+" reverted")
	}
	ok, err := l.state.HasTx(ctx, txHash)
	if err != nil {
		return chainErr(err, "failed to read ledger")
	}
	if !ok {
		return apperr.New(apperr.KindExternal, apperr.CodeTxDropped, "unknown transaction "+txHash)
	}
	return nil
}

func (l *Ledger) FindPoll(ctx context.Context, pollID int64) (*Record[PollRecord], error) {
	rec, err := l.state.LoadPoll(ctx, pollID)
	if err != nil {
		return nil, chainErr(err, "failed to read ledger")
	}
	return rec, nil
}

func (l *Ledger) FindResult(ctx context.Context, pollID int64) (*Record[ResultRecord], error) {
	rec, err := l.state.LoadResult(ctx, pollID)
	if err != nil {
		return nil, chainErr(err, "failed to read ledger")
	}
	return rec, nil
}

func (l *Ledger) admit(ctx context.Context) error {
	l.sends++
	if err := ctx.Err(); err != nil {
		return chainErr(err, "submission cancelled")
	}
	if l.fail > 0 {
		l.fail--
		return apperr.New(apperr.KindExternal, apperr.CodeChain, "ledger unavailable")
	}
	return nil
}

// unmined hands out a transaction that is reverted or never mined when one
// is pending from RevertNext or DropNext.
func (l *Ledger) unmined(data []byte) (string, bool) {
	if l.revert == 0 && l.drop == 0 {
		return "", false
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(l.sends))
	tx := crypto.Keccak256Hash(data, n[:]).Hex()
	if l.revert > 0 {
		l.revert--
		l.reverted[tx] = true
	} else {
		l.drop--
	}
	return tx, true
}

// txHash derives the transaction hash from the calldata.
func txHash(data []byte) string {
	return crypto.Keccak256Hash(data).Hex()
}

type memoryState struct {
	mu      sync.Mutex
	polls   map[int64]Record[PollRecord]
	results map[int64]Record[ResultRecord]
	txs     map[string]bool
}

func newMemoryState() *memoryState {
	return &memoryState{
		polls:   make(map[int64]Record[PollRecord]),
		results: make(map[int64]Record[ResultRecord]),
		txs:     make(map[string]bool),
	}
}

func (m *memoryState) LoadPoll(_ context.Context, pollID int64) (*Record[PollRecord], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.polls[pollID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memoryState) LoadResult(_ context.Context, pollID int64) (*Record[ResultRecord], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.results[pollID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memoryState) SavePoll(_ context.Context, p PollRecord, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[p.PollID]; !ok {
		m.polls[p.PollID] = Record[PollRecord]{Value: p, TxHash: txHash}
		m.txs[txHash] = true
	}
	return nil
}

func (m *memoryState) SaveResult(_ context.Context, r ResultRecord, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.PollID]; !ok {
		m.results[r.PollID] = Record[ResultRecord]{Value: r, TxHash: txHash}
		m.txs[txHash] = true
	}
	return nil
}

func (m *memoryState) HasTx(_ context.Context, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs[txHash], nil
}

var (
	_ Anchorer    = (*Ledger)(nil)
	_ Anchorer    = (*Ethereum)(nil)
	_ LedgerState = (*memoryState)(nil)
)
