// Package transport delivers the Paxos wire messages between peers:
// one JSON object per TCP connection, a fixed artificial delay before
// every send, and a failed peer that closes inbound connections
// without reading them.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/ledger"
)

// MessageType tags the union of messages the wire protocol carries.
type MessageType string

const (
	Prepare  MessageType = "PREPARE"
	Promise  MessageType = "PROMISE"
	Reject   MessageType = "REJECT"
	Accept   MessageType = "ACCEPT"
	Accepted MessageType = "ACCEPTED"
	Decision MessageType = "DECISION"
	Ack      MessageType = "ACK"
)

// Message is the single JSON object exchanged per connection. Not
// every field is populated for every Type; see the handlers in
// internal/consensus for which fields each message carries.
type Message struct {
	Type MessageType `json:"type"`

	Ballot ballot.Ballot `json:"ballot"`
	Value  *ledger.Block `json:"value,omitempty"`

	// AcceptedNum/AcceptedVal carry an acceptor's prior accepted
	// ballot/value back to the proposer on PROMISE so retries and
	// concurrent proposers can adopt it. REJECT does not carry them;
	// it carries HighestSeen instead.
	AcceptedNum *ballot.Ballot `json:"accepted_num,omitempty"`
	AcceptedVal *ledger.Block  `json:"accepted_val,omitempty"`

	// HighestSeen lets a rejected proposer pick its next seq more
	// aggressively instead of merely incrementing by one.
	HighestSeen *ballot.Ballot `json:"highest_seen,omitempty"`
}

// Handler processes one inbound message from peer "from" and returns
// the response to write back on the same connection.
type Handler func(from int64, msg Message) Message

// ErrFailed is returned by Send when this transport is in the failed
// state and therefore does not initiate outbound connections.
var ErrFailed = errors.New("transport: peer has failed, not sending")

// Transport is the contract Consensus depends on: point-to-point
// send/receive with an artificial delay, and an inbound loop that
// dispatches each connection to a registered Handler.
type Transport interface {
	Send(ctx context.Context, peerID int64, msg Message) (Message, error)
	Broadcast(ctx context.Context, peerIDs []int64, msg Message) map[int64]Message
	Serve(handler Handler) error
	Close() error
	SetFailed(failed bool)
	IsFailed() bool
	SelfID() int64
}

// Config configures a TCP transport instance.
type Config struct {
	SelfID  int64
	Peers   map[int64]string // peer id -> "host:port"; must include SelfID's own entry, which Serve listens on
	Delay   time.Duration    // artificial pre-send delay, default 3s
	Timeout time.Duration    // dial/recv timeout, floor 5s
}

// TCP is the production Transport: one fresh connection per send,
// one JSON object per connection, SO_REUSEADDR on the listener so a
// restarted peer can rebind immediately.
type TCP struct {
	cfg Config

	mu       sync.RWMutex
	listener net.Listener
	handler  Handler
	failed   atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTCP builds a TCP transport. Timeout is floored at 5s and Delay
// defaults to 3s, per spec — both are load-bearing for the
// concurrent-proposer scenarios and must not be silently zeroed.
func NewTCP(cfg Config) *TCP {
	if cfg.Timeout < 5*time.Second {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Delay == 0 {
		cfg.Delay = 3 * time.Second
	}
	return &TCP{cfg: cfg, closed: make(chan struct{})}
}

func (t *TCP) SelfID() int64 { return t.cfg.SelfID }

// SetFailed toggles the failed-peer behavior: while failed, Send
// refuses to initiate and inbound connections are closed unread.
func (t *TCP) SetFailed(failed bool) {
	t.failed.Store(failed)
}

func (t *TCP) isFailed() bool { return t.failed.Load() }

// IsFailed reports the current failed-peer state.
func (t *TCP) IsFailed() bool { return t.failed.Load() }

// Send dials peerID fresh, writes one JSON message, and waits for one
// JSON response. Any failure (dial, write, read, timeout) is reported
// as an error; callers treat it as "no vote", never as a crash.
func (t *TCP) Send(ctx context.Context, peerID int64, msg Message) (Message, error) {
	if t.isFailed() {
		return Message{}, ErrFailed
	}

	addr, ok := t.cfg.Peers[peerID]
	if !ok {
		return Message{}, fmt.Errorf("transport: unknown peer %d", peerID)
	}
	log.Printf("[peer-%d] sending %s ballot=%s to peer-%d (%s)", t.cfg.SelfID, msg.Type, msg.Ballot, peerID, addr)

	// Artificial delay happens before the network action, always,
	// even on a context that's already done — it models a slow
	// link, not a cancellable wait.
	time.Sleep(t.cfg.Delay)

	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Message{}, fmt.Errorf("transport: dial peer %d: %w", peerID, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(t.cfg.Timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return Message{}, err
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Message{}, fmt.Errorf("transport: write to peer %d: %w", peerID, err)
	}

	var resp Message
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Message{}, fmt.Errorf("transport: read from peer %d: %w", peerID, err)
	}
	return resp, nil
}

// Broadcast fans out msg to every id in peerIDs concurrently via
// errgroup, collecting whatever responses arrive before each send's
// own timeout; a peer that errors or times out is simply absent from
// the returned map — the caller must not require full participation.
func (t *TCP) Broadcast(ctx context.Context, peerIDs []int64, msg Message) map[int64]Message {
	var (
		mu      sync.Mutex
		results = make(map[int64]Message, len(peerIDs))
	)

	g, gctx := errgroup.WithContext(context.Background()) // each send has its own deadline; don't let one timeout cancel siblings
	_ = ctx
	for _, id := range peerIDs {
		id := id
		g.Go(func() error {
			resp, err := t.Send(gctx, id, msg)
			if err != nil {
				log.Printf("[peer-%d] send %s to peer-%d failed: %v", t.cfg.SelfID, msg.Type, id, err)
				return nil
			}
			mu.Lock()
			results[id] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // errors are already logged per-peer; never abort the round
	return results
}

// Serve starts the inbound listener and dispatches each accepted
// connection to its own goroutine so a slow peer cannot head-of-line
// block the others.
func (t *TCP) Serve(handler Handler) error {
	addr, ok := t.cfg.Peers[t.cfg.SelfID]
	if !ok {
		return fmt.Errorf("transport: no listen address configured for self id %d", t.cfg.SelfID)
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", addr, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.handler = handler
	t.mu.Unlock()

	go t.acceptLoop(ln)
	return nil
}

func (t *TCP) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				log.Printf("[peer-%d] accept error: %v", t.cfg.SelfID, err)
				continue
			}
		}
		go t.handleConn(conn)
	}
}

func (t *TCP) handleConn(conn net.Conn) {
	defer conn.Close()

	if t.isFailed() {
		// Indistinguishable from a crashed process: close without
		// reading a single byte.
		return
	}

	if err := conn.SetDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		return
	}

	var msg Message
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return
	}

	resp := handler(t.cfg.SelfID, msg)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Printf("[peer-%d] write response failed: %v", t.cfg.SelfID, err)
	}
}

// Close stops accepting new inbound connections.
func (t *TCP) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.RLock()
		ln := t.listener
		t.mu.RUnlock()
		if ln != nil {
			err = ln.Close()
		}
	})
	return err
}
