package auditlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ledger/internal/auditlog"
	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/transport"
)

func TestRecordAndForDepth(t *testing.T) {
	l, err := auditlog.Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	b := ballot.Ballot{Seq: 1, ProposerID: 2, Depth: 5}

	require.NoError(t, l.Record(ctx, auditlog.Entry{At: time.Now(), Direction: "out", Peer: 3, Type: transport.Prepare, Ballot: b}))
	require.NoError(t, l.Record(ctx, auditlog.Entry{At: time.Now(), Direction: "in", Peer: 3, Type: transport.Promise, Ballot: b}))

	entries, err := l.ForDepth(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, transport.Prepare, entries[0].Type)
	assert.Equal(t, transport.Promise, entries[1].Type)
}

func TestForDepthIsolatesOtherDepths(t *testing.T) {
	l, err := auditlog.Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, auditlog.Entry{At: time.Now(), Direction: "out", Peer: 1, Type: transport.Accept, Ballot: ballot.Ballot{Depth: 0}}))
	require.NoError(t, l.Record(ctx, auditlog.Entry{At: time.Now(), Direction: "out", Peer: 1, Type: transport.Accept, Ballot: ballot.Ballot{Depth: 1}}))

	entries, err := l.ForDepth(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
