package ballot_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ledger/internal/ballot"
)

func TestNullIsLessThanAnyReal(t *testing.T) {
	b := ballot.Ballot{Seq: 0, ProposerID: 1, Depth: 0}
	assert.True(t, ballot.Null.Less(b))
	assert.False(t, b.Less(ballot.Null))
}

func TestOrderingIsLexicographic(t *testing.T) {
	a := ballot.Ballot{Seq: 1, ProposerID: 5, Depth: 0}
	b := ballot.Ballot{Seq: 1, ProposerID: 9, Depth: 0}
	c := ballot.Ballot{Seq: 2, ProposerID: 1, Depth: 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, a.GreaterOrEqual(a))
	assert.False(t, a.Greater(a))
}

func TestJSONRoundTrip(t *testing.T) {
	b := ballot.Ballot{Seq: 3, ProposerID: 2, Depth: 7}

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, "[3,2,7]", string(data))

	var got ballot.Ballot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, b, got)
}
