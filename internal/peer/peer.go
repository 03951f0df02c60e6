// Package peer wires ledger, consensus, transport, durable storage
// and the admin API into a single running process, and exposes the
// small set of operations an operator (or the CLI's command loop)
// drives: transferring money, flipping a peer's simulated failure
// state, and reading back the chain/balances.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/rechain/ledger/internal/adminapi"
	"github.com/rechain/ledger/internal/auditlog"
	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/config"
	"github.com/rechain/ledger/internal/consensus"
	"github.com/rechain/ledger/internal/ledger"
	"github.com/rechain/ledger/internal/store"
	"github.com/rechain/ledger/internal/transport"
)

// ErrNotOwnAccount is returned when a transfer is requested from an
// account other than this peer's own — only the owning peer may
// originate a transfer from its account.
var ErrNotOwnAccount = errors.New("peer: can only transfer from this node's own account")

// ErrInsufficientFunds is returned when the sender's locally known
// balance is below the requested amount. This check happens only at
// the proposer; acceptors never veto a transfer on balance grounds.
var ErrInsufficientFunds = errors.New("peer: insufficient funds")

// ErrConsensusAborted is returned when Propose could not reach a
// majority, typically because too many peers are unreachable.
var ErrConsensusAborted = errors.New("peer: consensus aborted, majority unreachable")

// ErrBallotPreempted is returned when a concurrent proposer's higher
// ballot won the depth this peer was proposing for; callers should
// retry against the current chain depth.
var ErrBallotPreempted = errors.New("peer: ballot preempted by a concurrent proposer, retry")

// Peer owns one node's full stack.
type Peer struct {
	id     int64
	cfg    *config.Config
	ledger *ledger.Ledger
	engine *consensus.Engine
	tr     transport.Transport
	st     *store.Store
	audit  *auditlog.Log
	admin  *adminapi.Server
}

// New wires up a Peer from cfg: loads persisted state if any, then
// constructs the TCP transport, consensus engine and admin server
// around it. It does not start listening — call Start for that.
func New(cfg *config.Config) (*Peer, error) {
	ids, err := cfg.PeerIDs()
	if err != nil {
		return nil, fmt.Errorf("peer: resolve peer ids: %w", err)
	}

	addrs := make(map[int64]string, len(cfg.Network.Peers))
	for k, v := range cfg.Network.Peers {
		var id int64
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("peer: invalid peer id %q: %w", k, err)
		}
		addrs[id] = v
	}

	tr := transport.NewTCP(transport.Config{
		SelfID:  cfg.Node.ID,
		Peers:   addrs,
		Delay:   cfg.Network.Delay,
		Timeout: cfg.Network.DialTimeout,
	})

	return newWithTransport(cfg, ids, tr)
}

// NewWithTransport builds a Peer over a caller-supplied Transport —
// the in-memory transport from a test harness, typically — instead
// of dialing real sockets. Everything else about wiring is identical
// to New.
func NewWithTransport(cfg *config.Config, ids []int64, tr transport.Transport) (*Peer, error) {
	return newWithTransport(cfg, ids, tr)
}

func newWithTransport(cfg *config.Config, ids []int64, tr transport.Transport) (*Peer, error) {
	l := ledger.New(len(ids))
	st := store.New(cfg.Storage.StateDir, cfg.Node.ID)

	audit, err := auditlog.Open(filepath.Join(cfg.Storage.AuditLogDir, fmt.Sprintf("node_%d", cfg.Node.ID)))
	if err != nil {
		return nil, fmt.Errorf("peer: open audit log: %w", err)
	}

	engine := consensus.New(cfg.Node.ID, ids, tr, l, st, audit)

	snap, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("peer: load state: %w", err)
	}
	engine.Restore(snap)

	p := &Peer{id: cfg.Node.ID, cfg: cfg, ledger: l, engine: engine, tr: tr, st: st, audit: audit}
	if cfg.API.Enabled {
		p.admin = adminapi.NewServer(cfg.Node.ID, l, p)
	}
	return p, nil
}

// IsFailed reports whether this peer is currently simulating a crash.
// It satisfies adminapi.StatusView.
func (p *Peer) IsFailed() bool { return p.tr.IsFailed() }

// AcceptedBallots reports the highest ballot this peer has accepted at
// each depth. It satisfies adminapi.StatusView.
func (p *Peer) AcceptedBallots() map[int64]ballot.Ballot { return p.engine.AcceptedBallots() }

// Start begins accepting Paxos connections and, if enabled, the admin
// HTTP server. The admin server runs in its own goroutine; Paxos
// traffic is always driven by the transport's own accept loop.
func (p *Peer) Start() error {
	if err := p.tr.Serve(p.engine.Dispatch); err != nil {
		return fmt.Errorf("peer: start transport: %w", err)
	}
	if p.admin != nil {
		go func() {
			if err := p.admin.Start(p.cfg.API.Address); err != nil {
				log.Printf("[peer-%d] admin api stopped: %v", p.id, err)
			}
		}()
	}
	return nil
}

// Stop releases the transport, admin server and audit log.
func (p *Peer) Stop() error {
	if p.admin != nil {
		_ = p.admin.Stop()
	}
	if p.audit != nil {
		_ = p.audit.Close()
	}
	return p.tr.Close()
}

// MoneyTransfer runs one Paxos round to move amount from senderID to
// receiverID. senderID must equal this peer's own id.
func (p *Peer) MoneyTransfer(ctx context.Context, senderID, receiverID, amount int64) error {
	if senderID != p.id {
		return ErrNotOwnAccount
	}
	if p.ledger.Balance(senderID) < amount {
		return ErrInsufficientFunds
	}

	outcome, _, err := p.engine.Propose(ctx, senderID, receiverID, amount)
	if err != nil {
		return fmt.Errorf("peer: propose: %w", err)
	}

	switch outcome {
	case consensus.Decided:
		return nil
	case consensus.Rejected:
		return ErrBallotPreempted
	default:
		return ErrConsensusAborted
	}
}

// FailProcess simulates this peer crashing: it persists a final
// snapshot, clears every in-memory acceptor/proposer and ledger map,
// and only then marks the transport failed, so a reader (the admin
// API stays live during a simulated failure) never observes
// half-cleared state. FixProcess reloads everything from that final
// snapshot, mirroring a crashed process restarting from disk.
func (p *Peer) FailProcess() {
	if err := p.engine.PersistThenClear(); err != nil {
		log.Printf("[peer-%d] persist before fail: %v", p.id, err)
	}
	p.tr.SetFailed(true)
	log.Printf("[peer-%d] marked as failed", p.id)
}

// FixProcess reverses FailProcess and reloads the last persisted
// snapshot, mirroring a crashed process restarting from disk.
func (p *Peer) FixProcess() error {
	snap, err := p.st.Load()
	if err != nil {
		return fmt.Errorf("peer: reload state: %w", err)
	}
	p.engine.Restore(snap)
	p.tr.SetFailed(false)
	log.Printf("[peer-%d] recovered", p.id)
	return nil
}

// Chain returns a snapshot of the full block chain.
func (p *Peer) Chain() []ledger.Block {
	return p.ledger.Chain()
}

// Balances returns a snapshot of every account's balance.
func (p *Peer) Balances() map[int64]int64 {
	return p.ledger.Balances()
}
