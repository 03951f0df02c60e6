package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/transport"
)

func echoHandler(t *testing.T) transport.Handler {
	return func(from int64, msg transport.Message) transport.Message {
		return transport.Message{Type: transport.Promise, Ballot: msg.Ballot}
	}
}

func TestMemorySendRoundTrip(t *testing.T) {
	hub := transport.NewHub()
	a := transport.NewMemory(hub, 1, 0)
	b := transport.NewMemory(hub, 2, 0)

	require.NoError(t, a.Serve(echoHandler(t)))
	require.NoError(t, b.Serve(echoHandler(t)))

	req := transport.Message{Type: transport.Prepare, Ballot: ballot.Ballot{Seq: 1, ProposerID: 2, Depth: 0}}
	resp, err := b.Send(context.Background(), 1, req)
	require.NoError(t, err)
	assert.Equal(t, transport.Promise, resp.Type)
	assert.Equal(t, req.Ballot, resp.Ballot)
}

func TestMemorySendToUnknownPeerErrors(t *testing.T) {
	hub := transport.NewHub()
	a := transport.NewMemory(hub, 1, 0)
	require.NoError(t, a.Serve(echoHandler(t)))

	_, err := a.Send(context.Background(), 99, transport.Message{Type: transport.Prepare})
	assert.Error(t, err)
}

func TestFailedTransportRefusesOutbound(t *testing.T) {
	hub := transport.NewHub()
	a := transport.NewMemory(hub, 1, 0)
	b := transport.NewMemory(hub, 2, 0)
	require.NoError(t, b.Serve(echoHandler(t)))

	a.SetFailed(true)
	_, err := a.Send(context.Background(), 2, transport.Message{Type: transport.Prepare})
	assert.ErrorIs(t, err, transport.ErrFailed)
}

func TestFailedTransportIgnoresInbound(t *testing.T) {
	hub := transport.NewHub()
	a := transport.NewMemory(hub, 1, 0)
	b := transport.NewMemory(hub, 2, 0)
	require.NoError(t, b.Serve(echoHandler(t)))

	b.SetFailed(true)
	_, err := a.Send(context.Background(), 2, transport.Message{Type: transport.Prepare})
	assert.Error(t, err)
}

func TestBroadcastCollectsOnlyReachablePeers(t *testing.T) {
	hub := transport.NewHub()
	proposer := transport.NewMemory(hub, 1, 0)
	p2 := transport.NewMemory(hub, 2, 0)
	p3 := transport.NewMemory(hub, 3, 0)
	p4 := transport.NewMemory(hub, 4, 0)
	require.NoError(t, p2.Serve(echoHandler(t)))
	require.NoError(t, p3.Serve(echoHandler(t)))
	require.NoError(t, p4.Serve(echoHandler(t)))
	p4.SetFailed(true)

	results := proposer.Broadcast(context.Background(), []int64{2, 3, 4}, transport.Message{Type: transport.Prepare})
	assert.Len(t, results, 2)
	_, has2 := results[2]
	_, has3 := results[3]
	_, has4 := results[4]
	assert.True(t, has2)
	assert.True(t, has3)
	assert.False(t, has4)
}
