// Package trie folds key-value state into a Merkle Patricia commitment so an
// auditor can compare settlement state across replicas and restores.
package trie

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
)

// Entry is a single key-value pair folded into a commitment.
type Entry struct {
	Key   []byte
	Value []byte
}

// Root returns the Merkle Patricia root over entries. Keys are keccak256
// hashed before insertion so the result is independent of entry order and
// key length. Entries with an empty value are skipped.
func Root(entries []Entry) (common.Hash, error) {
	hashed := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Value) == 0 {
			continue
		}
		hashed = append(hashed, Entry{Key: crypto.Keccak256(entry.Key), Value: entry.Value})
	}
	if len(hashed) == 0 {
		return gethtypes.EmptyRootHash, nil
	}
	sort.Slice(hashed, func(i, j int) bool { return bytes.Compare(hashed[i].Key, hashed[j].Key) < 0 })

	st := gethtrie.NewStackTrie(nil)
	for _, entry := range hashed {
		if err := st.Update(entry.Key, entry.Value); err != nil {
			return common.Hash{}, err
		}
	}
	return st.Hash(), nil
}
