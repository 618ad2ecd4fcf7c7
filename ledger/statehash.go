package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// The state commitment is a sparse byte trie over every ledger record,
// hashed with keccak-256. Identical ledger contents always produce the same
// root regardless of write order, so the root can anchor the audit log.

type trieNode struct {
	hash     []byte
	children map[byte]*trieNode
	value    []byte
	isLeaf   bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

func (n *trieNode) computeHash() []byte {
	if n.isLeaf {
		return n.value
	}
	var buf []byte
	for i := 0; i < 256; i++ {
		if child, exists := n.children[byte(i)]; exists {
			buf = append(buf, child.hash...)
		} else {
			buf = append(buf, make([]byte, 32)...)
		}
	}
	hash := sha3.NewLegacyKeccak256()
	hash.Write(buf)
	return hash.Sum(nil)
}

type stateTrie struct {
	root *trieNode
}

func newStateTrie() *stateTrie {
	return &stateTrie{root: newTrieNode()}
}

func (t *stateTrie) insert(key, value []byte) {
	current := t.root
	for _, b := range key {
		if _, exists := current.children[b]; !exists {
			current.children[b] = newTrieNode()
		}
		current = current.children[b]
	}
	current.isLeaf = true
	current.value = value
	current.hash = value
}

func (t *stateTrie) updateHash(node *trieNode) {
	if node.isLeaf {
		return
	}
	for _, child := range node.children {
		t.updateHash(child)
	}
	node.hash = node.computeHash()
}

func (t *stateTrie) rootHash() string {
	t.updateHash(t.root)
	return hex.EncodeToString(t.root.hash)
}

type rlpAccount struct {
	Balance   *big.Int
	CreatedAt uint64
}

type rlpGlobal struct {
	BankCap        *big.Int
	TotalDeposited *big.Int
	Paused         bool
}

// StateRoot computes the deterministic commitment over all accounts, token
// balances and global state currently in the store.
func (s *Store) StateRoot() (string, error) {
	accounts, err := s.AllAccounts()
	if err != nil {
		return "", err
	}
	tokens, err := s.AllTokenBalances()
	if err != nil {
		return "", err
	}
	cap, err := s.BankCap()
	if err != nil {
		return "", err
	}
	total, err := s.TotalDeposited()
	if err != nil {
		return "", err
	}
	paused, err := s.Paused()
	if err != nil {
		return "", err
	}

	trie := newStateTrie()

	addrs := make([]string, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		acc := accounts[addr]
		value, err := rlp.EncodeToBytes(rlpAccount{
			Balance:   acc.NativeBalance,
			CreatedAt: uint64(acc.CreatedAt),
		})
		if err != nil {
			return "", fmt.Errorf("failed to encode account %s: %v", addr, err)
		}
		trie.insert([]byte("a:"+addr), value)
	}

	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].Token != tokens[j].Token {
			return tokens[i].Token < tokens[j].Token
		}
		return tokens[i].Owner < tokens[j].Owner
	})
	for _, rec := range tokens {
		value, err := rlp.EncodeToBytes(rec.Amount)
		if err != nil {
			return "", fmt.Errorf("failed to encode token balance: %v", err)
		}
		trie.insert([]byte("t:"+rec.Token+":"+rec.Owner), value)
	}

	global, err := rlp.EncodeToBytes(rlpGlobal{
		BankCap:        cap,
		TotalDeposited: total,
		Paused:         paused,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode global state: %v", err)
	}
	trie.insert([]byte("g:state"), global)

	return trie.rootHash(), nil
}
