package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ledger/internal/ledger"
)

func TestNewLedgerStartsAtHundredEach(t *testing.T) {
	l := ledger.New(5)
	for id := int64(1); id <= 5; id++ {
		assert.Equal(t, int64(100), l.Balance(id))
	}
	assert.Equal(t, 0, l.Depth())
	assert.Equal(t, "0", l.PrevHash())
}

func TestComputeNonceSatisfiesDifficulty(t *testing.T) {
	nonce, hash := ledger.ComputeNonce(1, 2, 10)
	require.NotEmpty(t, nonce)
	last := hash[len(hash)-1]
	assert.Contains(t, "01234", string(last))
	assert.Equal(t, ledger.ComputeHash(1, 2, 10, nonce), hash)
}

func TestBlockVerifyRejectsTamperedHash(t *testing.T) {
	nonce, hash := ledger.ComputeNonce(1, 2, 10)
	b := ledger.Block{SenderID: 1, ReceiverID: 2, Amount: 10, Nonce: nonce, Hash: hash}
	assert.True(t, b.Verify())

	b.Amount = 11 // value changed, hash no longer matches
	assert.False(t, b.Verify())
}

func TestDecideAppliesTransferExactlyOnce(t *testing.T) {
	l := ledger.New(5)
	nonce, hash := ledger.ComputeNonce(1, 2, 10)
	b := ledger.Block{SenderID: 1, ReceiverID: 2, Amount: 10, PrevHash: "0", Nonce: nonce, Hash: hash}

	applied := l.Decide(0, b)
	assert.True(t, applied)
	assert.Equal(t, int64(90), l.Balance(1))
	assert.Equal(t, int64(110), l.Balance(2))
	assert.Equal(t, 1, l.Depth())

	// duplicate decide at the same depth must not re-apply
	applied = l.Decide(0, b)
	assert.False(t, applied)
	assert.Equal(t, int64(90), l.Balance(1))
	assert.Equal(t, int64(110), l.Balance(2))
}

func TestDecidePromotesTentativeWithoutDoubleApplying(t *testing.T) {
	l := ledger.New(5)
	nonce, hash := ledger.ComputeNonce(3, 4, 5)
	b := ledger.Block{SenderID: 3, ReceiverID: 4, Amount: 5, PrevHash: "0", Nonce: nonce, Hash: hash}

	l.AppendTentative(0, b)
	got, ok := l.BlockAt(0)
	require.True(t, ok)
	assert.Equal(t, ledger.Tentative, got.Tag)

	applied := l.Decide(0, b)
	assert.True(t, applied)
	got, _ = l.BlockAt(0)
	assert.Equal(t, ledger.Committed, got.Tag)
	assert.Equal(t, int64(95), l.Balance(3))
	assert.Equal(t, int64(105), l.Balance(4))
}

func TestValidateLinkDetectsBreak(t *testing.T) {
	n1, h1 := ledger.ComputeNonce(1, 2, 1)
	n2, h2 := ledger.ComputeNonce(2, 3, 1)
	chain := []ledger.Block{
		{SenderID: 1, ReceiverID: 2, Amount: 1, PrevHash: "0", Nonce: n1, Hash: h1},
		{SenderID: 2, ReceiverID: 3, Amount: 1, PrevHash: h1, Nonce: n2, Hash: h2},
	}
	assert.True(t, ledger.ValidateLink(chain))

	chain[1].PrevHash = "not-h1"
	assert.False(t, ledger.ValidateLink(chain))
}
