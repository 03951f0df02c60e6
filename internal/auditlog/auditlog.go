// Package auditlog keeps an append-only, badger-backed record of
// Paxos messages. Consensus records each inbound message it
// dispatches; messages a peer sends are not recorded. It exists purely
// for forensic inspection — the admin API does not expose it, and
// nothing in consensus ever reads it back to decide anything. The durable
// source of truth for recovery is internal/store; auditlog is a side
// channel.
package auditlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/transport"
)

// Entry is one logged message, timestamped on arrival/departure at
// this peer.
type Entry struct {
	At        time.Time             `json:"at"`
	Direction string                `json:"direction"` // "in" or "out"
	Peer      int64                 `json:"peer"`
	Type      transport.MessageType `json:"type"`
	Ballot    ballot.Ballot         `json:"ballot"`
}

// Log wraps a badger.DB keyed by depth||timestamp so Iterate returns
// entries for a depth in arrival order.
type Log struct {
	db *badger.DB
}

// Open opens (or creates) the badger database at path.
func Open(path string) (*Log, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func key(depth int64, at time.Time) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(depth))
	binary.BigEndian.PutUint64(k[8:], uint64(at.UnixNano()))
	return k
}

// Record appends one entry under its ballot's depth. It never
// returns an error to the caller's hot path in practice — consensus
// records from a background goroutine and discards the error, since a
// lost audit entry must never block a Paxos round.
func (l *Log) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("auditlog: encode entry: %w", err)
	}
	k := key(e.Ballot.Depth, e.At)
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
}

// ForDepth returns every entry recorded for depth, in arrival order.
func (l *Log) ForDepth(ctx context.Context, depth int64) ([]Entry, error) {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, uint64(depth))

	var entries []Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}
