// Package consensus runs one Multi-Paxos instance per peer: a
// per-depth acceptor (Dispatch, registered as the transport's inbound
// Handler) and a proposer (Propose) that drives PREPARE, ACCEPT and
// DECISION rounds to append the next block in the ledger's chain.
//
// All acceptor state — promised/accepted ballots and values per depth,
// and the proposer's own sequence counter per depth — lives behind a
// single mutex, matching the single-threaded global state the
// original implementation relied on the interpreter's GIL for.
// Network calls always happen with the mutex released.
package consensus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rechain/ledger/internal/auditlog"
	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/ledger"
	"github.com/rechain/ledger/internal/store"
	"github.com/rechain/ledger/internal/transport"
)

// Outcome classifies how a Propose call ended.
type Outcome int

const (
	// Decided means a majority accepted the value and it has been
	// appended to the ledger at the proposed depth.
	Decided Outcome = iota
	// Rejected means this peer's own acceptor state showed a higher
	// ballot at the depth — before PREPARE was sent, after the promises
	// came back, or at its own ACCEPT; the caller should retry at a
	// fresh depth read.
	Rejected
	// Aborted means fewer than a majority of PROMISE or ACCEPTED
	// replies arrived — because peers are down or unreachable, or
	// because they replied REJECT.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Decided:
		return "DECIDED"
	case Rejected:
		return "REJECTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Engine is one peer's Paxos state machine.
type Engine struct {
	selfID   int64
	peerIDs  []int64 // all peer ids, including selfID
	majority int

	transport transport.Transport
	ledger    *ledger.Ledger
	store     *store.Store
	audit     *auditlog.Log // nil disables audit logging

	mu             sync.Mutex
	seqNum         map[int64]int64
	promised       map[int64]ballot.Ballot
	acceptedBallot map[int64]ballot.Ballot
	acceptedVal    map[int64]*ledger.Block
}

// New builds an Engine for selfID among peerIDs (which must include
// selfID). audit may be nil to disable forensic logging.
func New(selfID int64, peerIDs []int64, tr transport.Transport, l *ledger.Ledger, st *store.Store, audit *auditlog.Log) *Engine {
	e := &Engine{
		selfID:         selfID,
		peerIDs:        append([]int64(nil), peerIDs...),
		majority:       len(peerIDs)/2 + 1,
		transport:      tr,
		ledger:         l,
		store:          st,
		audit:          audit,
		seqNum:         map[int64]int64{},
		promised:       map[int64]ballot.Ballot{},
		acceptedBallot: map[int64]ballot.Ballot{},
		acceptedVal:    map[int64]*ledger.Block{},
	}
	return e
}

func (e *Engine) lock()   { e.mu.Lock() }
func (e *Engine) unlock() { e.mu.Unlock() }

func (e *Engine) otherPeers() []int64 {
	out := make([]int64, 0, len(e.peerIDs)-1)
	for _, id := range e.peerIDs {
		if id != e.selfID {
			out = append(out, id)
		}
	}
	return out
}

// Restore loads persisted acceptor/proposer state (and the ledger
// itself) from snap. Call before Serve so recovery completes before
// any inbound message can be dispatched.
func (e *Engine) Restore(snap *store.Snapshot) {
	e.lock()
	defer e.unlock()

	for d, s := range snap.SeqNum {
		e.seqNum[d] = s
	}
	for d, b := range snap.PromisedBallot {
		if b != nil {
			e.promised[d] = *b
		}
	}
	for d, b := range snap.AcceptedBallot {
		if b != nil {
			e.acceptedBallot[d] = *b
		}
	}
	for d, v := range snap.AcceptedVal {
		if v != nil {
			vCopy := *v
			e.acceptedVal[d] = &vCopy
		}
	}

	if len(snap.Table) == 0 {
		// Nothing persisted yet: keep the ledger's starting balances.
		return
	}
	balances := make(map[int64]int64, len(snap.Table))
	for k, v := range snap.Table {
		balances[k] = v
	}
	e.ledger.LoadChain(snap.Blockchain, balances)
}

// Dispatch is the transport.Handler registered with Serve: it applies
// acceptor logic for PREPARE/ACCEPT/DECISION under the engine lock,
// persists the resulting state, and returns the wire response.
func (e *Engine) Dispatch(from int64, msg transport.Message) transport.Message {
	e.lock()
	defer e.unlock()

	var resp transport.Message
	switch msg.Type {
	case transport.Prepare:
		resp = e.handlePrepareLocked(msg.Ballot)
	case transport.Accept:
		var block ledger.Block
		if msg.Value != nil {
			block = *msg.Value
		}
		resp = e.handleAcceptLocked(msg.Ballot, block)
	case transport.Decision:
		var block ledger.Block
		if msg.Value != nil {
			block = *msg.Value
		}
		resp = e.handleDecisionLocked(msg.Ballot, block)
	default:
		resp = transport.Message{Type: transport.Ack}
	}

	e.persistLocked()
	e.logAsync(from, msg)
	return resp
}

// PersistThenClear writes a final snapshot of everything this peer
// currently knows, then wipes the in-memory acceptor/proposer maps and
// the ledger itself — mirroring a crashed process losing all state
// that wasn't already on disk. Callers mark the transport failed only
// after this returns, so nothing can read half-cleared state.
func (e *Engine) PersistThenClear() error {
	e.lock()
	defer e.unlock()

	snap := &store.Snapshot{
		Table:          e.ledger.Balances(),
		Blockchain:     e.ledger.Chain(),
		SeqNum:         copySeq(e.seqNum),
		PromisedBallot: copyBallots(e.promised),
		AcceptedBallot: copyBallots(e.acceptedBallot),
		AcceptedVal:    copyVals(e.acceptedVal),
	}
	var err error
	if e.store != nil {
		err = e.store.Persist(snap)
	}

	e.seqNum = map[int64]int64{}
	e.promised = map[int64]ballot.Ballot{}
	e.acceptedBallot = map[int64]ballot.Ballot{}
	e.acceptedVal = map[int64]*ledger.Block{}
	e.ledger.LoadChain(nil, map[int64]int64{})

	return err
}

// AcceptedBallots returns a snapshot of the highest ballot accepted at
// each depth this peer has voted at, for the admin API's status view.
func (e *Engine) AcceptedBallots() map[int64]ballot.Ballot {
	e.lock()
	defer e.unlock()
	out := make(map[int64]ballot.Ballot, len(e.acceptedBallot))
	for k, v := range e.acceptedBallot {
		out[k] = v
	}
	return out
}

func (e *Engine) promisedFor(depth int64) ballot.Ballot {
	if b, ok := e.promised[depth]; ok {
		return b
	}
	return ballot.Null
}

// handlePrepareLocked is the acceptor half of PREPARE: promise iff b
// is strictly greater than anything previously promised at this
// depth (classic Paxos acceptor rule — n > n_p — rather than the
// component-wise tie-break the original implementation used).
func (e *Engine) handlePrepareLocked(b ballot.Ballot) transport.Message {
	cur := e.promisedFor(b.Depth)
	if !b.Greater(cur) {
		hs := cur
		return transport.Message{Type: transport.Reject, Ballot: cur, HighestSeen: &hs}
	}

	e.promised[b.Depth] = b
	resp := transport.Message{Type: transport.Promise, Ballot: b}
	if ab, ok := e.acceptedBallot[b.Depth]; ok {
		abCopy := ab
		resp.AcceptedNum = &abCopy
	}
	if av, ok := e.acceptedVal[b.Depth]; ok {
		avCopy := *av
		resp.AcceptedVal = &avCopy
	}
	return resp
}

// handleAcceptLocked is the acceptor half of ACCEPT: accept iff b is
// at least as high as anything promised (n >= n_p) and block carries a
// valid hash, then tentatively append the value so readers can
// observe it before it is decided.
func (e *Engine) handleAcceptLocked(b ballot.Ballot, block ledger.Block) transport.Message {
	cur := e.promisedFor(b.Depth)
	if !b.GreaterOrEqual(cur) {
		hs := cur
		return transport.Message{Type: transport.Reject, Ballot: cur, HighestSeen: &hs}
	}
	if !block.Verify() {
		hs := cur
		return transport.Message{Type: transport.Reject, Ballot: cur, HighestSeen: &hs}
	}

	e.promised[b.Depth] = b
	e.acceptedBallot[b.Depth] = b
	blockCopy := block
	e.acceptedVal[b.Depth] = &blockCopy
	e.ledger.AppendTentative(int(b.Depth), block)

	return transport.Message{Type: transport.Accepted, Ballot: b}
}

// handleDecisionLocked applies a learned decision — by the time
// DECISION is sent, a majority has already accepted, so there is
// nothing left to arbitrate over the ballot, but the hash is still
// re-verified: a corrupted or forged value must never be applied to
// the chain regardless of how many acceptors voted for it.
func (e *Engine) handleDecisionLocked(b ballot.Ballot, block ledger.Block) transport.Message {
	if !block.Verify() {
		hs := e.promisedFor(b.Depth)
		return transport.Message{Type: transport.Reject, Ballot: hs, HighestSeen: &hs}
	}
	e.ledger.Decide(int(b.Depth), block)
	return transport.Message{Type: transport.Ack, Ballot: b}
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	snap := &store.Snapshot{
		Table:          e.ledger.Balances(),
		Blockchain:     e.ledger.Chain(),
		SeqNum:         copySeq(e.seqNum),
		PromisedBallot: copyBallots(e.promised),
		AcceptedBallot: copyBallots(e.acceptedBallot),
		AcceptedVal:    copyVals(e.acceptedVal),
	}
	if err := e.store.Persist(snap); err != nil {
		log.Printf("[peer-%d] persist failed: %v", e.selfID, err)
	}
}

func (e *Engine) logAsync(from int64, msg transport.Message) {
	if e.audit == nil {
		return
	}
	go func() {
		_ = e.audit.Record(context.Background(), auditlog.Entry{
			At:        time.Now(),
			Direction: "in",
			Peer:      from,
			Type:      msg.Type,
			Ballot:    msg.Ballot,
		})
	}()
}

func copySeq(m map[int64]int64) map[int64]int64 {
	out := make(map[int64]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBallots(m map[int64]ballot.Ballot) map[int64]*ballot.Ballot {
	out := make(map[int64]*ballot.Ballot, len(m))
	for k, v := range m {
		vCopy := v
		out[k] = &vCopy
	}
	return out
}

func copyVals(m map[int64]*ledger.Block) map[int64]*ledger.Block {
	out := make(map[int64]*ledger.Block, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		vCopy := *v
		out[k] = &vCopy
	}
	return out
}

// Propose drives one full Paxos round to append a transfer at the
// next free depth. It returns the outcome and, when Decided, the
// block that was appended. Callers are responsible for any
// application-level checks (e.g. sufficient balance) before calling —
// Propose only arbitrates and appends, it never vetoes a transfer on
// the ledger's behalf.
func (e *Engine) Propose(ctx context.Context, senderID, receiverID, amount int64) (Outcome, ledger.Block, error) {
	depth := int64(e.ledger.Depth())

	e.lock()
	e.seqNum[depth] = e.seqNum[depth] + 1
	b := ballot.Ballot{Seq: e.seqNum[depth], ProposerID: e.selfID, Depth: depth}
	ownPromise := e.handlePrepareLocked(b)
	e.unlock()

	if ownPromise.Type == transport.Reject {
		e.fastForward(depth, ownPromise.HighestSeen)
		return Rejected, ledger.Block{}, nil
	}

	others := e.otherPeers()
	prepareMsg := transport.Message{Type: transport.Prepare, Ballot: b}
	responses := e.transport.Broadcast(ctx, others, prepareMsg)
	responses[e.selfID] = ownPromise

	promises := 0
	var highestAccepted *ballot.Ballot
	var adopted *ledger.Block
	var highestRejectSeen *ballot.Ballot
	for _, resp := range responses {
		switch resp.Type {
		case transport.Promise:
			promises++
			if resp.AcceptedNum != nil && (highestAccepted == nil || resp.AcceptedNum.Greater(*highestAccepted)) {
				highestAccepted = resp.AcceptedNum
				adopted = resp.AcceptedVal
			}
		case transport.Reject:
			if resp.HighestSeen != nil && (highestRejectSeen == nil || resp.HighestSeen.Greater(*highestRejectSeen)) {
				highestRejectSeen = resp.HighestSeen
			}
		}
	}

	if promises < e.majority {
		e.fastForward(depth, highestRejectSeen)
		return Aborted, ledger.Block{}, nil
	}

	// Re-check nothing preempted our promise while responses were in
	// flight — the window between unlocking above and now is exactly
	// where a concurrent proposer's higher PREPARE could have landed.
	e.lock()
	if e.promisedFor(depth) != b {
		e.unlock()
		return Rejected, ledger.Block{}, nil
	}
	e.unlock()

	var block ledger.Block
	if adopted != nil {
		block = *adopted
	} else {
		nonce, hash := ledger.ComputeNonce(senderID, receiverID, amount)
		block = ledger.Block{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Amount:     amount,
			PrevHash:   e.ledger.PrevHash(),
			Nonce:      nonce,
			Hash:       hash,
		}
	}

	e.lock()
	ownAccepted := e.handleAcceptLocked(b, block)
	e.unlock()

	if ownAccepted.Type == transport.Reject {
		return Rejected, ledger.Block{}, nil
	}

	acceptMsg := transport.Message{Type: transport.Accept, Ballot: b, Value: &block}
	acceptResponses := e.transport.Broadcast(ctx, others, acceptMsg)
	acceptResponses[e.selfID] = ownAccepted

	accepted := 0
	for _, resp := range acceptResponses {
		if resp.Type == transport.Accepted {
			accepted++
		}
	}

	if accepted < e.majority {
		return Aborted, ledger.Block{}, nil
	}

	e.lock()
	e.ledger.Decide(int(depth), block)
	e.persistLocked()
	e.unlock()

	decisionMsg := transport.Message{Type: transport.Decision, Ballot: b, Value: &block}
	e.transport.Broadcast(ctx, others, decisionMsg)

	return Decided, block, nil
}

// fastForward adopts a higher observed seq for depth so the next
// Propose attempt at this depth starts ahead of whatever ballot
// preempted this one, instead of merely incrementing by one.
func (e *Engine) fastForward(depth int64, seen *ballot.Ballot) {
	if seen == nil {
		return
	}
	e.lock()
	if seen.Seq > e.seqNum[depth] {
		e.seqNum[depth] = seen.Seq
	}
	e.unlock()
}
