// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/cliparse"
	"github.com/danielhkuo/verivote/db"
	"github.com/danielhkuo/verivote/eligibility"
	"github.com/danielhkuo/verivote/models"
)

// TestContract is the verifyingContract of the test EIP-712 domain.
var TestContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// SetupTestDB opens a private in-memory SQLite database with the full schema.
func SetupTestDB(t *testing.T) *db.Store {
	t.Helper()

	ctx := context.Background()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	store, err := db.Open(ctx, db.DialectSQLite, dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateSchema(ctx); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return store
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:            3318,
		DatabaseURL:     "file::memory:",
		DatabaseType:    "sqlite",
		AdminKeySalt:    "test-admin-salt",
		EmailSalt:       "test-email-salt",
		LogLevel:        "debug",
		ChainID:         31337,
		ContractAddress: TestContract.Hex(),
		DomainName:      auth.DefaultDomainName,
		DomainVersion:   auth.DefaultDomainVersion,
		ContentBackend:  "memory",
		ExternalTimeout: time.Second,
		RetryAttempts:   3,
		VoteRateLimit:   1000,
	}
}

// TestDomain is the EIP-712 domain matching GetTestConfig.
func TestDomain() auth.Domain {
	return auth.Domain{
		Name:              auth.DefaultDomainName,
		Version:           auth.DefaultDomainVersion,
		ChainID:           31337,
		VerifyingContract: TestContract,
	}
}

// NewVerifier returns a verifier for TestDomain.
func NewVerifier(t *testing.T) *auth.TypedVerifier {
	t.Helper()
	v, err := auth.NewTypedVerifier(TestDomain())
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return v
}

// Wallet is a test signer.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// NewWallets generates n random wallets.
func NewWallets(t *testing.T, n int) []Wallet {
	t.Helper()
	out := make([]Wallet, n)
	for i := range out {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		out[i] = Wallet{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
	}
	return out
}

// Addresses returns the addresses of the wallets.
func Addresses(ws []Wallet) []common.Address {
	out := make([]common.Address, len(ws))
	for i, w := range ws {
		out[i] = w.Address
	}
	return out
}

// SignVote signs a Vote message with the wallet's key and returns the
// signature as 0x hex.
func SignVote(t *testing.T, v *auth.TypedVerifier, w Wallet, m auth.VoteMessage) string {
	t.Helper()
	digest, err := v.VoteHash(m)
	if err != nil {
		t.Fatalf("Failed to hash vote: %v", err)
	}
	sig, err := auth.Sign(digest, w.Key)
	if err != nil {
		t.Fatalf("Failed to sign vote: %v", err)
	}
	return hexutil.Encode(sig)
}

// SignRegister signs a Register message with the wallet's key.
func SignRegister(t *testing.T, v *auth.TypedVerifier, w Wallet, m auth.RegisterMessage) string {
	t.Helper()
	digest, err := v.RegisterHash(m)
	if err != nil {
		t.Fatalf("Failed to hash registration: %v", err)
	}
	sig, err := auth.Sign(digest, w.Key)
	if err != nil {
		t.Fatalf("Failed to sign registration: %v", err)
	}
	return hexutil.Encode(sig)
}

// Nonce returns n as a uint256.
func Nonce(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

// SeededPoll is a published poll written straight to the store.
type SeededPoll struct {
	Poll *models.Poll
	Tree *eligibility.Tree
}

// ProofFor returns the wallet's proof as hex strings.
func (s SeededPoll) ProofFor(t *testing.T, w common.Address) []string {
	t.Helper()
	e, ok := s.Tree.Lookup(w)
	if !ok {
		t.Fatalf("wallet %s not in tree", w.Hex())
	}
	return e.Proof.Strings()
}

// SeedPoll inserts a published draft and an active poll with the given
// eligible wallets, window and option labels, bypassing the lifecycle
// manager.
func SeedPoll(t *testing.T, store *db.Store, wallets []common.Address, start, end int64, labels ...string) SeededPoll {
	t.Helper()
	ctx := context.Background()

	if len(labels) == 0 {
		labels = []string{"Yes", "No", "Abstain"}
	}
	opts := make([]models.Option, len(labels))
	for i, l := range labels {
		opts[i] = models.Option{Idx: i, Label: l}
	}
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c0")

	id, err := db.InsertDraft(ctx, store.DB, models.Draft{
		Title: "Test Poll", Options: opts, StartTS: start, EndTS: end, CreatedBy: creator, CreatedAt: start - 10,
	})
	if err != nil {
		t.Fatalf("Failed to create test draft: %v", err)
	}

	tree, err := eligibility.Build(id, wallets)
	if err != nil {
		t.Fatalf("Failed to build tree: %v", err)
	}

	items := make([]models.AllowlistItem, 0, tree.Len())
	for _, e := range tree.Entries() {
		items = append(items, models.AllowlistItem{PollID: id, Wallet: e.Wallet, Index: e.Index, Leaf: e.Leaf, Proof: e.Proof})
	}

	err = store.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.SetDraftStatus(ctx, tx, id, models.StatusDraft, models.StatusPublished, start-5); err != nil {
			return err
		}
		if err := db.InsertPoll(ctx, tx, models.Poll{
			ID: id, Title: "Test Poll", MetaURI: "ipfs://test", StartTS: start, EndTS: end,
			EligibleRoot: tree.Root(), CreatedBy: creator, CreatedAt: start - 5,
		}); err != nil {
			return err
		}
		if err := db.InsertOptions(ctx, tx, id, opts, start-5); err != nil {
			return err
		}
		return db.InsertAllowlist(ctx, tx, items)
	})
	if err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	p, err := db.GetPoll(ctx, store.DB, id)
	if err != nil {
		t.Fatalf("Failed to load test poll: %v", err)
	}
	return SeededPoll{Poll: p, Tree: tree}
}

// FixedClock returns a clock function that always reports ts.
func FixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
