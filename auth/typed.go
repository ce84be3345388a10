// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/danielhkuo/verivote/apperr"
)

// Default EIP-712 domain parameters.
const (
	DefaultDomainName    = "VeriVote"
	DefaultDomainVersion = "1"
)

var (
	domainType = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	voteType = []apitypes.Type{
		{Name: "pollId", Type: "uint256"},
		{Name: "voter", Type: "address"},
		{Name: "option", Type: "uint8"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	}
	registerType = []apitypes.Type{
		{Name: "draftId", Type: "uint256"},
		{Name: "emailHash", Type: "bytes32"},
		{Name: "wallet", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	}
)

// Domain separates signatures by deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// VoteMessage is the signed payload of a ballot.
type VoteMessage struct {
	PollID   int64
	Voter    common.Address
	Option   uint8
	Nonce    *uint256.Int
	Deadline int64
}

// RegisterMessage binds an invitee's email hash to a wallet for a draft.
type RegisterMessage struct {
	DraftID   int64
	EmailHash common.Hash
	Wallet    common.Address
	Nonce     *uint256.Int
	Deadline  int64
}

// TypedVerifier hashes and verifies Register and Vote messages for a single
// domain. It is stateless and safe for concurrent use.
type TypedVerifier struct {
	domain apitypes.TypedDataDomain
}

// NewTypedVerifier validates the domain and returns a verifier for it.
func NewTypedVerifier(d Domain) (*TypedVerifier, error) {
	if d.Name == "" || d.Version == "" {
		return nil, errors.New("typed data domain requires name and version")
	}
	if d.ChainID <= 0 {
		return nil, errors.New("typed data domain requires a positive chain id")
	}
	return &TypedVerifier{
		domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
	}, nil
}

// VoteHash returns the EIP-712 digest a wallet signs for a vote.
func (v *TypedVerifier) VoteHash(m VoteMessage) (common.Hash, error) {
	if m.Nonce == nil {
		return common.Hash{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "nonce is required")
	}
	return v.hash("Vote", voteType, apitypes.TypedDataMessage{
		"pollId":   big.NewInt(m.PollID),
		"voter":    m.Voter.Hex(),
		"option":   new(big.Int).SetUint64(uint64(m.Option)),
		"nonce":    m.Nonce.ToBig(),
		"deadline": big.NewInt(m.Deadline),
	})
}

// RegisterHash returns the EIP-712 digest a wallet signs to bind itself.
func (v *TypedVerifier) RegisterHash(m RegisterMessage) (common.Hash, error) {
	if m.Nonce == nil {
		return common.Hash{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "nonce is required")
	}
	return v.hash("Register", registerType, apitypes.TypedDataMessage{
		"draftId":   big.NewInt(m.DraftID),
		"emailHash": m.EmailHash.Bytes(),
		"wallet":    m.Wallet.Hex(),
		"nonce":     m.Nonce.ToBig(),
		"deadline":  big.NewInt(m.Deadline),
	})
}

func (v *TypedVerifier) hash(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) (common.Hash, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain:      v.domain,
		Message:     msg,
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "cannot encode "+primary+" message")
	}
	return common.BytesToHash(digest), nil
}

// VerifyVote recovers the signer of a vote and checks it against the claimed
// voter and the deadline. Nonce reuse is checked by the caller against
// stored votes.
func (v *TypedVerifier) VerifyVote(m VoteMessage, sig []byte, now time.Time) (common.Address, error) {
	digest, err := v.VoteHash(m)
	if err != nil {
		return common.Address{}, err
	}
	return checkSigned(digest, sig, m.Voter, m.Deadline, now)
}

// VerifyRegister is VerifyVote for Register messages.
func (v *TypedVerifier) VerifyRegister(m RegisterMessage, sig []byte, now time.Time) (common.Address, error) {
	digest, err := v.RegisterHash(m)
	if err != nil {
		return common.Address{}, err
	}
	return checkSigned(digest, sig, m.Wallet, m.Deadline, now)
}

func checkSigned(digest common.Hash, sig []byte, claimed common.Address, deadline int64, now time.Time) (common.Address, error) {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return signer, apperr.New(apperr.KindAuthentication, apperr.CodeSignerMismatch,
			"signature was produced by "+strings.ToLower(signer.Hex()))
	}
	if deadline < now.Unix() {
		return signer, apperr.New(apperr.KindAuthentication, apperr.CodeDeadlineExpired, "signature deadline has passed")
	}
	return signer, nil
}

// RecoverSigner returns the address that produced a 65-byte R ‖ S ‖ V
// signature over digest. V may be 0/1 or 27/28; upper-half S values are
// rejected.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, apperr.New(apperr.KindAuthentication, apperr.CodeBadSignature, "signature must be 65 bytes")
	}
	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	r := new(big.Int).SetBytes(s[:32])
	sv := new(big.Int).SetBytes(s[32:64])
	if !crypto.ValidateSignatureValues(s[64], r, sv, true) {
		return common.Address{}, apperr.New(apperr.KindAuthentication, apperr.CodeBadSignature, "invalid signature values")
	}
	pub, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, apperr.Wrap(apperr.KindAuthentication, apperr.CodeBadSignature, err, "signature recovery failed")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a wallet-style signature (V = 27/28) over digest.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// ParseNonce accepts a uint256 in decimal or 0x hex.
func ParseNonce(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "nonce is required")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	b, ok := new(big.Int).SetString(s, base)
	if !ok || b.Sign() < 0 {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "nonce is not a uint256")
	}
	n, overflow := uint256.FromBig(b)
	if overflow {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "nonce is not a uint256")
	}
	return n, nil
}
