// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/danielhkuo/verivote/apperr"
)

// Backend is the subset of the JSON-RPC client the anchorer uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Ethereum sends contract calls as signed dynamic-fee transactions.
type Ethereum struct {
	backend  Backend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	chainID  *big.Int
	logger   *slog.Logger

	// PollInterval is the receipt polling period of WaitConfirmed.
	PollInterval time.Duration
	// FromBlock is the first block FindPoll and FindResult search, normally
	// the block the contract was deployed in.
	FromBlock uint64

	// one transaction at a time so pending nonces do not collide
	sendMu sync.Mutex
}

// Dial connects to rpcURL and checks that it serves chainID.
func Dial(ctx context.Context, rpcURL string, chainID int64, contract common.Address, keyHex string, logger *slog.Logger) (*Ethereum, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse anchor key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	e, err := NewEthereum(ctx, client, contract, key, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	if e.chainID.Cmp(big.NewInt(chainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("rpc serves chain %s, configured %d", e.chainID, chainID)
	}
	return e, nil
}

// NewEthereum creates an anchorer over an existing backend.
func NewEthereum(ctx context.Context, backend Backend, contract common.Address, key *ecdsa.PrivateKey, logger *slog.Logger) (*Ethereum, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	return &Ethereum{
		backend:      backend,
		contract:     contract,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		signer:       types.LatestSignerForChainID(chainID),
		chainID:      chainID,
		logger:       logger,
		PollInterval: 2 * time.Second,
	}, nil
}

// From returns the anchoring account.
func (e *Ethereum) From() common.Address {
	return e.from
}

func (e *Ethereum) CreatePoll(ctx context.Context, p PollRecord) (string, error) {
	data, err := EncodeCreatePoll(p)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "cannot encode createPoll")
	}
	return e.send(ctx, "createPoll", p.PollID, data)
}

func (e *Ethereum) SubmitResult(ctx context.Context, r ResultRecord) (string, error) {
	data, err := EncodeAnchorResult(r)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "cannot encode anchorResult")
	}
	return e.send(ctx, "anchorResult", r.PollID, data)
}

func (e *Ethereum) send(ctx context.Context, method string, pollID int64, data []byte) (string, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return "", chainErr(err, "failed to get nonce")
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", chainErr(err, "failed to suggest gas tip")
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", chainErr(err, "failed to read head")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &e.contract, Data: data})
	if err != nil {
		return "", chainErr(err, "failed to estimate gas for "+method)
	}

	tx, err := types.SignNewTx(e.key, e.signer, &types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &e.contract,
		Data:      data,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, err, "failed to sign transaction")
	}
	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		return "", chainErr(err, "failed to send "+method)
	}

	e.logger.Info("transaction sent",
		"method", method,
		"poll_id", pollID,
		"tx", tx.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
	)
	return tx.Hash().Hex(), nil
}

func (e *Ethereum) WaitConfirmed(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return apperr.New(apperr.KindExternal, apperr.CodeTxReverted, "transaction "+txHash+" reverted")
			}
			e.logger.Info("transaction confirmed", "tx", txHash, "block", receipt.BlockNumber)
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return chainErr(err, "failed to fetch receipt")
		}

		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindExternal, apperr.CodeTxDropped, ctx.Err(), "transaction "+txHash+" not mined")
		case <-ticker.C:
		}
	}
}

func (e *Ethereum) FindPoll(ctx context.Context, pollID int64) (*Record[PollRecord], error) {
	root, tx, err := e.findEvent(ctx, "PollCreated", pollID)
	if err != nil || tx == "" {
		return nil, err
	}
	return &Record[PollRecord]{Value: PollRecord{PollID: pollID, EligibleRoot: root}, TxHash: tx}, nil
}

func (e *Ethereum) FindResult(ctx context.Context, pollID int64) (*Record[ResultRecord], error) {
	hash, tx, err := e.findEvent(ctx, "ResultAnchored", pollID)
	if err != nil || tx == "" {
		return nil, err
	}
	return &Record[ResultRecord]{Value: ResultRecord{PollID: pollID, ResultHash: hash}, TxHash: tx}, nil
}

// findEvent returns the bytes32 payload and transaction of the first event
// name emitted for pollID. The contract emits each at most once per poll.
func (e *Ethereum) findEvent(ctx context.Context, name string, pollID int64) (common.Hash, string, error) {
	event := votingABI.Events[name]
	logs, err := e.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(e.FromBlock),
		Addresses: []common.Address{e.contract},
		Topics:    [][]common.Hash{{event.ID}, {common.BigToHash(big.NewInt(pollID))}},
	})
	if err != nil {
		return common.Hash{}, "", chainErr(err, "failed to query "+name+" events")
	}
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		vals, err := votingABI.Unpack(name, lg.Data)
		if err != nil {
			return common.Hash{}, "", chainErr(err, "malformed "+name+" event")
		}
		var word [32]byte
		ok := len(vals) == 1
		if ok {
			word, ok = vals[0].([32]byte)
		}
		if !ok {
			return common.Hash{}, "", apperr.New(apperr.KindExternal, apperr.CodeChain, "malformed "+name+" event")
		}
		return common.Hash(word), lg.TxHash.Hex(), nil
	}
	return common.Hash{}, "", nil
}

func chainErr(err error, msg string) error {
	return apperr.Wrap(apperr.KindExternal, apperr.CodeChain, err, msg)
}
