package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Hub is a shared in-process "network" that Memory transports
// register with. It lets tests exercise the same Broadcast/Send
// contract as TCP without binding real sockets or paying the
// artificial delay unless a test explicitly asks for it via Delay.
type Hub struct {
	mu      sync.RWMutex
	members map[int64]*Memory
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{members: make(map[int64]*Memory)}
}

func (h *Hub) register(m *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[m.id] = m
}

func (h *Hub) member(id int64) (*Memory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[id]
	return m, ok
}

// Memory is a Transport backed by a Hub instead of real sockets.
// Behaviorally it mirrors TCP: SetFailed(true) stops outbound sends
// and makes inbound delivery a no-op, and Delay (zero by default in
// tests) is applied before every send exactly like the TCP transport.
type Memory struct {
	hub   *Hub
	id    int64
	delay time.Duration

	mu      sync.RWMutex
	handler Handler
	failed  bool
}

// NewMemory creates a Memory transport for id and registers it with
// hub. delay defaults to 0 so unit tests run fast; set it to exercise
// timing-sensitive behavior deliberately.
func NewMemory(hub *Hub, id int64, delay time.Duration) *Memory {
	m := &Memory{hub: hub, id: id, delay: delay}
	hub.register(m)
	return m
}

func (m *Memory) SelfID() int64 { return m.id }

func (m *Memory) SetFailed(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = failed
}

func (m *Memory) isFailed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed
}

// IsFailed reports the current failed-peer state.
func (m *Memory) IsFailed() bool { return m.isFailed() }

func (m *Memory) Serve(handler Handler) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Send delivers msg directly to peerID's registered handler,
// in-process. A failed sender does not send; a failed receiver does
// not respond, which Send reports as an error exactly like a TCP
// dial/read timeout would.
func (m *Memory) Send(ctx context.Context, peerID int64, msg Message) (Message, error) {
	if m.isFailed() {
		return Message{}, ErrFailed
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	peer, ok := m.hub.member(peerID)
	if !ok {
		return Message{}, fmt.Errorf("transport: unknown peer %d", peerID)
	}
	if peer.isFailed() {
		return Message{}, fmt.Errorf("transport: peer %d unreachable", peerID)
	}

	peer.mu.RLock()
	handler := peer.handler
	peer.mu.RUnlock()
	if handler == nil {
		return Message{}, fmt.Errorf("transport: peer %d has no handler registered", peerID)
	}

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	default:
	}
	return handler(m.id, msg), nil
}

func (m *Memory) Broadcast(ctx context.Context, peerIDs []int64, msg Message) map[int64]Message {
	var (
		mu      sync.Mutex
		results = make(map[int64]Message, len(peerIDs))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range peerIDs {
		id := id
		g.Go(func() error {
			resp, err := m.Send(gctx, id, msg)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[id] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
