// Package ledger owns the hash-linked transfer chain and the balance
// table it replicates across peers. It has no knowledge of Paxos or
// networking: Consensus decides what gets appended, Ledger enforces
// the data-structure invariants and performs the nonce search.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Tag marks whether a block's value has merely been accepted by this
// peer (Tentative) or is known-decided across a majority (Committed).
type Tag string

const (
	Tentative Tag = "TENTATIVE"
	Committed Tag = "COMMITTED"
)

// difficultyDigits is the set of hex digits an acceptable block hash
// may end with. It is a content-addressing filter, not a security
// boundary — see spec Non-goals.
var difficultyDigits = map[byte]bool{'0': true, '1': true, '2': true, '3': true, '4': true}

// Block is a single transfer record plus its chain position tag.
// Hash, Nonce and PrevHash are computed once by the proposer and
// carried through Paxos verbatim; acceptors only re-check them, they
// never recompute-and-substitute.
type Block struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Amount     int64  `json:"amount"`
	PrevHash   string `json:"prev_hash"`
	Nonce      string `json:"nonce"`
	Hash       string `json:"hash"`
	Tag        Tag    `json:"tag"`
}

// ComputeHash recomputes SHA256(sender||receiver||amount||nonce) in
// hex, independent of any stored state. Used both by the proposer when
// composing a new value and by an acceptor verifying an inbound one.
func ComputeHash(senderID, receiverID, amount int64, nonce string) string {
	data := fmt.Sprintf("%d%d%d%s", senderID, receiverID, amount, nonce)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// validDifficulty reports whether hash ends in a digit from the
// difficulty set.
func validDifficulty(hash string) bool {
	if hash == "" {
		return false
	}
	return difficultyDigits[hash[len(hash)-1]]
}

// Verify reports whether the block's hash is exactly
// ComputeHash(sender, receiver, amount, nonce) and ends in the
// difficulty set. An acceptor must reject any block that fails this
// check — spec treats a hash mismatch as a protocol violation
// equivalent to a too-low ballot.
func (b Block) Verify() bool {
	if !validDifficulty(b.Hash) {
		return false
	}
	return b.Hash == ComputeHash(b.SenderID, b.ReceiverID, b.Amount, b.Nonce)
}

// Ledger owns the committed/tentative chain and the live balance
// table for a fixed peer set of size N, each starting at 100.
type Ledger struct {
	mu      sync.RWMutex
	chain   []Block
	balance map[int64]int64
}

// New creates a ledger for peer ids 1..n, each starting at 100.
func New(n int) *Ledger {
	balances := make(map[int64]int64, n)
	for i := int64(1); i <= int64(n); i++ {
		balances[i] = 100
	}
	return &Ledger{balance: balances}
}

// Depth returns the current chain length — the next free log slot.
func (l *Ledger) Depth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// PrevHash returns the hash of the last block, or "0" if the chain is
// empty.
func (l *Ledger) PrevHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.chain) == 0 {
		return "0"
	}
	return l.chain[len(l.chain)-1].Hash
}

// ComputeNonce searches for a nonce such that
// SHA256(sender||receiver||amount||nonce) ends in the difficulty set,
// returning the nonce and the resulting hash. Expected iterations are
// small (~3.2) since the filter accepts 5 of 16 hex digits; a random
// nonce source means concurrent proposers for the same (src,dst,amt)
// almost surely diverge.
func ComputeNonce(senderID, receiverID, amount int64) (nonce, hash string) {
	for {
		nonce = uuid.NewString()
		hash = ComputeHash(senderID, receiverID, amount, nonce)
		if validDifficulty(hash) {
			return nonce, hash
		}
	}
}

// BlockAt returns the block at depth d, if any.
func (l *Ledger) BlockAt(d int) (Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if d < 0 || d >= len(l.chain) {
		return Block{}, false
	}
	return l.chain[d], true
}

// AppendTentative appends b as TENTATIVE at depth len(chain), iff
// len(chain) == d (a duplicate append at an already-filled depth is a
// no-op, matching the acceptor's "if len(chain) == d" guard).
func (l *Ledger) AppendTentative(d int, b Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.chain) != d {
		return
	}
	b.Tag = Tentative
	l.chain = append(l.chain, b)
}

// Decide promotes the TENTATIVE block at d to COMMITTED, or appends a
// fresh COMMITTED block if d is the first unfilled slot. In either
// case it applies the balance update itself; any other call is a
// no-op, so a transfer is applied exactly once. It reports whether
// this call applied the transfer.
func (l *Ledger) Decide(d int, b Block) (applied bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case len(l.chain) == d+1 && l.chain[d].Tag == Tentative:
		b.Tag = Committed
		l.chain[d] = b // carried decided value is canonical
		applied = true
	case len(l.chain) == d:
		b.Tag = Committed
		l.chain = append(l.chain, b)
		applied = true
	default:
		applied = false // duplicate decide, chain unchanged
	}

	if applied {
		l.balance[b.SenderID] -= b.Amount
		l.balance[b.ReceiverID] += b.Amount
	}
	return applied
}

// Balances returns a snapshot copy of the balance table.
func (l *Ledger) Balances() map[int64]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int64]int64, len(l.balance))
	for k, v := range l.balance {
		out[k] = v
	}
	return out
}

// Balance returns a single peer's balance.
func (l *Ledger) Balance(id int64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance[id]
}

// Chain returns a snapshot copy of the full chain.
func (l *Ledger) Chain() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Block, len(l.chain))
	copy(out, l.chain)
	return out
}

// LoadChain replaces the chain and balances wholesale — used by
// consensus.Engine.Restore on recovery and by Engine.PersistThenClear
// to wipe state. Callers must not use this concurrently with live
// Paxos traffic; peer.New restores before the transport listener
// starts.
func (l *Ledger) LoadChain(chain []Block, balances map[int64]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chain = append([]Block(nil), chain...)
	l.balance = make(map[int64]int64, len(balances))
	for k, v := range balances {
		l.balance[k] = v
	}
}

// ValidateLink reports whether the chain satisfies the hash-link
// invariant: chain[0].PrevHash == "0" and chain[i].PrevHash ==
// chain[i-1].Hash for all i>0. Exposed for tests and admin
// introspection, not consulted by the hot path.
func ValidateLink(chain []Block) bool {
	for i, b := range chain {
		if i == 0 {
			if b.PrevHash != "0" {
				return false
			}
			continue
		}
		if b.PrevHash != chain[i-1].Hash {
			return false
		}
	}
	return true
}
