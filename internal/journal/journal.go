// Package journal keeps an append-only local log of conversation turns in a
// Badger database. It backs the daily parent report and survives restarts
// without needing the remote memory store.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/SuperGokou/kidsBot/internal/convo"
)

// keyPrefix namespaces turn entries; keys sort chronologically because the
// timestamp is encoded in RFC 3339 form.
const keyPrefix = "turn/"

// Entry is one journaled conversation turn.
type Entry struct {
	Time     time.Time  `json:"time"`
	UserText string     `json:"user_text"`
	BotText  string     `json:"bot_text"`
	Mode     convo.Mode `json:"mode"`
}

// Journal is an append-only turn log. Safe for concurrent use.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) the journal database at dir.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

// Append writes one turn. A zero Time is stamped with the current time.
func (j *Journal) Append(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	key := []byte(keyPrefix + entry.Time.UTC().Format(time.RFC3339Nano))

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Day returns all entries whose timestamp falls on the given calendar day in
// the day's location, in chronological order.
func (j *Journal) Day(day time.Time) ([]Entry, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return j.Range(start, start.Add(24*time.Hour))
}

// Range returns entries with start <= Time < end, in chronological order.
func (j *Journal) Range(start, end time.Time) ([]Entry, error) {
	var entries []Entry

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seek := []byte(keyPrefix + start.UTC().Format(time.RFC3339Nano))
		for it.Seek(seek); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					slog.Warn("skipping corrupt journal entry", "key", string(it.Item().Key()), "error", err)
					return nil
				}
				if !e.Time.Before(end) {
					return errStopIteration
				}
				entries = append(entries, e)
				return nil
			})
			if err == errStopIteration {
				break
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: range: %w", err)
	}
	return entries, nil
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

var errStopIteration = fmt.Errorf("stop iteration")
