// Package ballot implements the Paxos ballot total order used to
// arbitrate between competing proposers at a single log depth.
package ballot

import (
	"encoding/json"
	"fmt"
)

// Ballot is the totally ordered (seq, proposerID, depth) triple that
// identifies a single proposal attempt. Depth ties a ballot to the
// log slot it was formed for; seq is the proposer-local monotonic
// counter at that depth.
type Ballot struct {
	Seq        int64
	ProposerID int64
	Depth      int64
}

// Null is the ballot strictly less than any real ballot. It is the
// zero value for promised/accepted state before any message has been
// seen at a depth.
var Null = Ballot{Seq: -1, ProposerID: -1, Depth: -1}

// Less reports whether b sorts before other under the lexicographic
// order (seq, proposerID, depth).
func (b Ballot) Less(other Ballot) bool {
	if b.Seq != other.Seq {
		return b.Seq < other.Seq
	}
	if b.ProposerID != other.ProposerID {
		return b.ProposerID < other.ProposerID
	}
	return b.Depth < other.Depth
}

// GreaterOrEqual reports whether b >= other under the same order.
func (b Ballot) GreaterOrEqual(other Ballot) bool {
	return !b.Less(other)
}

// Greater reports whether b > other.
func (b Ballot) Greater(other Ballot) bool {
	return other.Less(b)
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d,%d)", b.Seq, b.ProposerID, b.Depth)
}

// MarshalJSON renders the ballot as the 3-element array the wire
// format and on-disk snapshot both expect.
func (b Ballot) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d,%d]", b.Seq, b.ProposerID, b.Depth)), nil
}

// UnmarshalJSON parses the 3-element array form back into a Ballot.
func (b *Ballot) UnmarshalJSON(data []byte) error {
	var raw []int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("ballot: expected 3-element array, got %d elements", len(raw))
	}
	b.Seq, b.ProposerID, b.Depth = raw[0], raw[1], raw[2]
	return nil
}
