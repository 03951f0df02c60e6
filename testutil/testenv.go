// Package testutil builds an in-process N-peer cluster over the
// in-memory transport, the way rechain/testutil builds a temp-dir
// BadgerDB store for integration tests — a thin, fail-fast builder
// that keeps test setup out of individual test bodies.
package testutil

import (
	"testing"

	"github.com/rechain/ledger/internal/config"
	"github.com/rechain/ledger/internal/peer"
	"github.com/rechain/ledger/internal/transport"
)

// Cluster is a fixed set of Peers wired together over one in-memory
// transport hub, with zero artificial delay.
type Cluster struct {
	T     *testing.T
	Peers map[int64]*peer.Peer

	hub *transport.Hub
}

// NewCluster builds a cluster of len(ids) peers, each with its own
// temp state/audit directories, wired over a shared in-memory hub.
func NewCluster(t *testing.T, ids []int64) *Cluster {
	t.Helper()

	hub := transport.NewHub()
	c := &Cluster{T: t, Peers: make(map[int64]*peer.Peer, len(ids)), hub: hub}

	for _, id := range ids {
		cfg := config.DefaultConfig()
		cfg.Node.ID = id
		cfg.Storage.StateDir = t.TempDir()
		cfg.Storage.AuditLogDir = t.TempDir()
		cfg.API.Enabled = false

		tr := transport.NewMemory(hub, id, 0)
		p, err := peer.NewWithTransport(cfg, ids, tr)
		if err != nil {
			t.Fatalf("testutil: build peer %d: %v", id, err)
		}
		if err := p.Start(); err != nil {
			t.Fatalf("testutil: start peer %d: %v", id, err)
		}
		c.Peers[id] = p
	}

	t.Cleanup(c.Close)
	return c
}

// Close stops every peer in the cluster.
func (c *Cluster) Close() {
	c.T.Helper()
	for id, p := range c.Peers {
		if err := p.Stop(); err != nil {
			c.T.Logf("testutil: stop peer %d: %v", id, err)
		}
	}
}

// MustPeer returns the peer for id, failing the test if it is not
// part of the cluster.
func (c *Cluster) MustPeer(id int64) *peer.Peer {
	c.T.Helper()
	p, ok := c.Peers[id]
	if !ok {
		c.T.Fatalf("testutil: no such peer %d", id)
	}
	return p
}

// FiveNodeIDs is the canonical peer id set used across the test
// scenarios: five peers numbered 1 through 5.
func FiveNodeIDs() []int64 {
	return []int64{1, 2, 3, 4, 5}
}
