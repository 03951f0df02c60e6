package consensus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/consensus"
	"github.com/rechain/ledger/internal/ledger"
	"github.com/rechain/ledger/internal/store"
	"github.com/rechain/ledger/internal/transport"
)

type cluster struct {
	engines    map[int64]*consensus.Engine
	ledgers    map[int64]*ledger.Ledger
	transports map[int64]*transport.Memory
}

func newCluster(t *testing.T, ids []int64) *cluster {
	t.Helper()
	hub := transport.NewHub()
	c := &cluster{
		engines:    map[int64]*consensus.Engine{},
		ledgers:    map[int64]*ledger.Ledger{},
		transports: map[int64]*transport.Memory{},
	}

	for _, id := range ids {
		tr := transport.NewMemory(hub, id, 0)
		l := ledger.New(len(ids))
		st := store.New(t.TempDir(), id)
		e := consensus.New(id, ids, tr, l, st, nil)
		require.NoError(t, tr.Serve(e.Dispatch))
		c.engines[id] = e
		c.ledgers[id] = l
		c.transports[id] = tr
	}
	return c
}

func (c *cluster) fail(id int64) {
	c.transports[id].SetFailed(true)
}

func TestSingleTransferDecides(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	c := newCluster(t, ids)

	outcome, block, err := c.engines[1].Propose(context.Background(), 1, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, consensus.Decided, outcome)
	assert.True(t, block.Verify())
	assert.Equal(t, int64(90), c.ledgers[1].Balance(1))
	assert.Equal(t, int64(110), c.ledgers[1].Balance(2))
}

func TestTransferSurvivesTwoFailedPeers(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	c := newCluster(t, ids)
	c.fail(4)
	c.fail(5)

	outcome, _, err := c.engines[1].Propose(context.Background(), 1, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, consensus.Decided, outcome)
}

func TestProposeAbortsWithThreeFailedPeers(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	c := newCluster(t, ids)
	c.fail(3)
	c.fail(4)
	c.fail(5)

	outcome, _, err := c.engines[1].Propose(context.Background(), 1, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, consensus.Aborted, outcome)
}

func TestDuelingProposersAtSameDepthOneWins(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	c := newCluster(t, ids)

	var (
		o1, o2       consensus.Outcome
		b1, b2       ledger.Block
		err1, err2   error
		done1, done2 = make(chan struct{}), make(chan struct{})
	)
	go func() {
		o1, b1, err1 = c.engines[1].Propose(context.Background(), 1, 2, 1)
		close(done1)
	}()
	go func() {
		o2, b2, err2 = c.engines[2].Propose(context.Background(), 2, 3, 1)
		close(done2)
	}()
	<-done1
	<-done2

	require.NoError(t, err1)
	require.NoError(t, err2)

	decided := 0
	if o1 == consensus.Decided {
		decided++
	}
	if o2 == consensus.Decided {
		decided++
	}
	assert.GreaterOrEqual(t, decided, 1)

	// Blocks with the same PrevHash were decided at the same depth.
	if o1 == consensus.Decided && o2 == consensus.Decided && b1.PrevHash == b2.PrevHash {
		assert.Equal(t, b1.Hash, b2.Hash, "only one value should win a given depth")
	}
}

func tamperedBlock() ledger.Block {
	nonce, hash := ledger.ComputeNonce(1, 2, 10)
	b := ledger.Block{SenderID: 1, ReceiverID: 2, Amount: 10, PrevHash: "0", Nonce: nonce, Hash: hash}
	b.Amount = 11 // mutated after hashing: Verify() must now fail
	return b
}

func TestHandleAcceptRejectsTamperedHash(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	c := newCluster(t, ids)

	b := ballot.Ballot{Seq: 1, ProposerID: 1, Depth: 0}
	block := tamperedBlock()

	resp := c.engines[2].Dispatch(1, transport.Message{Type: transport.Accept, Ballot: b, Value: &block})
	assert.Equal(t, transport.Reject, resp.Type)
	_, ok := c.ledgers[2].BlockAt(0)
	assert.False(t, ok, "tampered block must not be appended even tentatively")
}

func TestHandleDecisionRejectsTamperedHash(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	c := newCluster(t, ids)

	b := ballot.Ballot{Seq: 1, ProposerID: 1, Depth: 0}
	block := tamperedBlock()

	resp := c.engines[2].Dispatch(1, transport.Message{Type: transport.Decision, Ballot: b, Value: &block})
	assert.Equal(t, transport.Reject, resp.Type)
	assert.Equal(t, int64(100), c.ledgers[2].Balance(block.SenderID), "balances must not move for a forged block")
}

func TestRecoveryReplaysPersistedState(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5}
	dir := t.TempDir()
	hub := transport.NewHub()

	l := ledger.New(len(ids))
	st := store.New(dir, 1)
	tr := transport.NewMemory(hub, 1, 0)
	e := consensus.New(1, ids, tr, l, st, nil)
	require.NoError(t, tr.Serve(e.Dispatch))

	for _, id := range []int64{2, 3, 4, 5} {
		other := transport.NewMemory(hub, id, 0)
		oe := consensus.New(id, ids, other, ledger.New(len(ids)), store.New(t.TempDir(), id), nil)
		require.NoError(t, other.Serve(oe.Dispatch))
	}

	outcome, _, err := e.Propose(context.Background(), 1, 2, 10)
	require.NoError(t, err)
	require.Equal(t, consensus.Decided, outcome)

	// simulate a restart: fresh ledger + engine, reload from disk
	snap, err := st.Load()
	require.NoError(t, err)

	freshLedger := ledger.New(len(ids))
	freshEngine := consensus.New(1, ids, tr, freshLedger, st, nil)
	freshEngine.Restore(snap)

	assert.Equal(t, int64(90), freshLedger.Balance(1))
	assert.Equal(t, int64(110), freshLedger.Balance(2))
	assert.Equal(t, 1, freshLedger.Depth())
}
