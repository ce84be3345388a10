// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package eligibility

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/danielhkuo/verivote/apperr"
)

// Proof is the ordered list of sibling hashes from a leaf up to the root.
type Proof []common.Hash

// Strings renders the proof as 0x-prefixed hex strings.
func (p Proof) Strings() []string {
	out := make([]string, len(p))
	for i, h := range p {
		out[i] = h.Hex()
	}
	return out
}

// ParseProof decodes hex strings into a Proof.
func ParseProof(nodes []string) (Proof, error) {
	proof := make(Proof, len(nodes))
	for i, n := range nodes {
		b, err := decodeHash(n)
		if err != nil {
			return nil, fmt.Errorf("proof node %d: %w", i, err)
		}
		proof[i] = b
	}
	return proof, nil
}

// Entry is one wallet's position in the tree.
type Entry struct {
	Wallet common.Address
	Leaf   common.Hash
	Index  uint64
	Proof  Proof
}

// Tree is a Merkle tree over the leaves of a frozen wallet set.
type Tree struct {
	pollID  int64
	levels  [][]common.Hash // levels[0] are the sorted leaves
	entries []Entry         // ordered by Index
	byAddr  map[common.Address]int
}

// Leaf computes keccak256(wallet ‖ uint256(pollID)), the Solidity
// keccak256(abi.encodePacked(address, uint256)).
func Leaf(wallet common.Address, pollID int64) common.Hash {
	id := math.U256Bytes(new(big.Int).SetInt64(pollID))
	return crypto.Keccak256Hash(wallet.Bytes(), id)
}

// HashPair hashes two nodes in ascending byte order.
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// Build constructs the eligibility tree for a poll. The wallet order does
// not matter; empty and duplicate sets are rejected.
func Build(pollID int64, wallets []common.Address) (*Tree, error) {
	if len(wallets) == 0 {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeEmptyWalletSet, "wallet set is empty")
	}

	seen := make(map[common.Address]struct{}, len(wallets))
	entries := make([]Entry, 0, len(wallets))
	for _, w := range wallets {
		if _, dup := seen[w]; dup {
			return nil, apperr.New(apperr.KindConfiguration, apperr.CodeDuplicateWallet,
				"duplicate wallet "+strings.ToLower(w.Hex()))
		}
		seen[w] = struct{}{}
		entries = append(entries, Entry{Wallet: w, Leaf: Leaf(w, pollID)})
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Leaf[:], entries[j].Leaf[:]) < 0
	})

	leaves := make([]common.Hash, len(entries))
	byAddr := make(map[common.Address]int, len(entries))
	for i := range entries {
		entries[i].Index = uint64(i)
		leaves[i] = entries[i].Leaf
		byAddr[entries[i].Wallet] = i
	}

	t := &Tree{pollID: pollID, levels: buildLevels(leaves), entries: entries, byAddr: byAddr}
	for i := range t.entries {
		t.entries[i].Proof = t.proofAt(i)
	}
	return t, nil
}

// buildLevels hashes pairs level by level. An unpaired last node is carried
// up unchanged.
func buildLevels(leaves []common.Hash) [][]common.Hash {
	levels := [][]common.Hash{leaves}
	for cur := leaves; len(cur) > 1; {
		next := make([]common.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, HashPair(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
		cur = next
	}
	return levels
}

func (t *Tree) proofAt(index int) Proof {
	proof := Proof{}
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if sib := idx ^ 1; sib < len(level) {
			proof = append(proof, level[sib])
		}
		idx /= 2
	}
	return proof
}

// Root returns the tree root.
func (t *Tree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// PollID returns the poll the leaves are bound to.
func (t *Tree) PollID() int64 {
	return t.pollID
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.entries)
}

// Entries returns all wallet entries ordered by tree index.
func (t *Tree) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup returns the entry for a wallet.
func (t *Tree) Lookup(wallet common.Address) (Entry, bool) {
	i, ok := t.byAddr[wallet]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Verify folds the proof over the leaf and compares the result to root.
func Verify(root, leaf common.Hash, proof Proof) bool {
	cur := leaf
	for _, sib := range proof {
		cur = HashPair(cur, sib)
	}
	return cur == root
}

// VerifyWallet recomputes the wallet's leaf for the poll and verifies it.
func VerifyWallet(root common.Hash, pollID int64, wallet common.Address, proof Proof) bool {
	return Verify(root, Leaf(wallet, pollID), proof)
}

// ParseWallets validates hex addresses. The result keeps input order.
func ParseWallets(raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		hasPrefix := strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
		if !hasPrefix || !common.IsHexAddress(s) {
			return nil, apperr.New(apperr.KindConfiguration, apperr.CodeInvalidWallet, "invalid wallet address "+s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

func decodeHash(s string) (common.Hash, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("hash must be 32 bytes, got %d hex chars", len(s))
	}
	b := common.FromHex(s)
	if len(b) != 32 {
		return common.Hash{}, fmt.Errorf("invalid hex %q", s)
	}
	return common.BytesToHash(b), nil
}
