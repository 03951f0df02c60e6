// Package store durably persists one peer's Paxos and ledger state to
// a single JSON file, written crash-atomically (temp file, fsync,
// rename) so a process killed mid-write never leaves a torn file
// behind. The on-disk schema matches the original per-peer state file
// byte for byte in shape, not just behavior, so recovery tooling built
// against either implementation can read the other's output.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/ledger"
)

// Snapshot is the full persisted state for one peer: balance table,
// committed+tentative chain, and per-depth Paxos acceptor bookkeeping.
type Snapshot struct {
	Table          map[int64]int64          `json:"table"`
	Blockchain     []ledger.Block           `json:"blockchain"`
	SeqNum         map[int64]int64          `json:"seq_num"`
	PromisedBallot map[int64]*ballot.Ballot `json:"promised_ballot"`
	AcceptedBallot map[int64]*ballot.Ballot `json:"accepted_ballot"`
	AcceptedVal    map[int64]*ledger.Block  `json:"accepted_val"`
}

// wireSnapshot mirrors Snapshot but with string-keyed maps, matching
// the on-disk JSON object-key requirement; int64 keys are not valid
// JSON object keys so this is the boundary where the conversion
// happens, once, in Persist/Load.
type wireSnapshot struct {
	Table          map[string]int64         `json:"table"`
	Blockchain     []ledger.Block            `json:"blockchain"`
	SeqNum         map[string]int64          `json:"seq_num"`
	PromisedBallot map[string]*ballot.Ballot `json:"promised_ballot"`
	AcceptedBallot map[string]*ballot.Ballot `json:"accepted_ballot"`
	AcceptedVal    map[string]*ledger.Block  `json:"accepted_val"`
}

// Store manages the single state file for one peer id.
type Store struct {
	path string
}

// New returns a Store writing to "node_<id>_state.json" inside dir.
func New(dir string, peerID int64) *Store {
	return &Store{path: filepath.Join(dir, fmt.Sprintf("node_%d_state.json", peerID))}
}

// Load reads the snapshot from disk. A missing file is not an error —
// it means this peer has never persisted state, matching the
// tolerant-of-missing-file behavior peers rely on for their very
// first run.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", s.path, err)
	}
	return fromWire(w), nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Table:          map[int64]int64{},
		Blockchain:     []ledger.Block{},
		SeqNum:         map[int64]int64{},
		PromisedBallot: map[int64]*ballot.Ballot{},
		AcceptedBallot: map[int64]*ballot.Ballot{},
		AcceptedVal:    map[int64]*ledger.Block{},
	}
}

func fromWire(w wireSnapshot) *Snapshot {
	s := emptySnapshot()
	for k, v := range w.Table {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.Table[id] = v
		}
	}
	s.Blockchain = append(s.Blockchain, w.Blockchain...)
	for k, v := range w.SeqNum {
		if d, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.SeqNum[d] = v
		}
	}
	for k, v := range w.PromisedBallot {
		if d, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.PromisedBallot[d] = v
		}
	}
	for k, v := range w.AcceptedBallot {
		if d, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.AcceptedBallot[d] = v
		}
	}
	for k, v := range w.AcceptedVal {
		if d, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.AcceptedVal[d] = v
		}
	}
	return s
}

func toWire(s *Snapshot) wireSnapshot {
	w := wireSnapshot{
		Table:          make(map[string]int64, len(s.Table)),
		Blockchain:     s.Blockchain,
		SeqNum:         make(map[string]int64, len(s.SeqNum)),
		PromisedBallot: make(map[string]*ballot.Ballot, len(s.PromisedBallot)),
		AcceptedBallot: make(map[string]*ballot.Ballot, len(s.AcceptedBallot)),
		AcceptedVal:    make(map[string]*ledger.Block, len(s.AcceptedVal)),
	}
	if w.Blockchain == nil {
		w.Blockchain = []ledger.Block{}
	}
	for k, v := range s.Table {
		w.Table[strconv.FormatInt(k, 10)] = v
	}
	for k, v := range s.SeqNum {
		w.SeqNum[strconv.FormatInt(k, 10)] = v
	}
	for k, v := range s.PromisedBallot {
		w.PromisedBallot[strconv.FormatInt(k, 10)] = v
	}
	for k, v := range s.AcceptedBallot {
		w.AcceptedBallot[strconv.FormatInt(k, 10)] = v
	}
	for k, v := range s.AcceptedVal {
		w.AcceptedVal[strconv.FormatInt(k, 10)] = v
	}
	return w
}

// Persist writes the full snapshot to disk crash-atomically: encode to
// a temp file in the same directory, fsync it, then rename over the
// real path. Rename is atomic on the same filesystem, so a crash
// between steps either leaves the old file intact or the new one
// whole — never a half-written one.
func (s *Store) Persist(snap *Snapshot) error {
	data, err := json.MarshalIndent(toWire(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}
