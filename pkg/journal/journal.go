// Package journal keeps a durable, best-effort record of outbound delivery
// attempts in a local Pebble database. Nothing in the delivery path depends
// on it: a failed journal write never changes a send outcome.
package journal

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"replyloop/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq reduces key collisions when multiple sends share a nanosecond
// timestamp.
var seq uint64

const keyPrefix = "send:"

// Record is one journaled send attempt.
type Record struct {
	Time      string `json:"time"`
	Recipient string `json:"recipient"`
	OK        bool   `json:"ok"`
	Status    int    `json:"status,omitempty"`
	Preview   string `json:"preview,omitempty"`
}

// Open opens (or creates) the journal database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_journal_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("journal_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("journal_opened", "path", path)
	return nil
}

// Close closes the journal database if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("journal_closed")
	return nil
}

// Ready reports whether the journal is opened.
func Ready() bool {
	return db != nil
}

// RecordSend appends one send outcome. Errors are logged and dropped.
func RecordSend(recipientID string, ok bool, status int, preview string) {
	if db == nil {
		return
	}
	ts := time.Now().UTC()
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("%s%020d-%06d", keyPrefix, ts.UnixNano(), s)
	rec := Record{
		Time:      ts.Format(time.RFC3339Nano),
		Recipient: recipientID,
		OK:        ok,
		Status:    status,
		Preview:   preview,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		logger.Error("journal_marshal_failed", "error", err)
		return
	}
	if err := db.Set([]byte(key), b, pebble.NoSync); err != nil {
		logger.Error("journal_write_failed", "key", key, "error", err)
	}
}

// SendSink adapts the package-level recorder to the dispatcher's Recorder
// interface.
type SendSink struct{}

func (SendSink) RecordSend(recipientID string, ok bool, status int, preview string) {
	RecordSend(recipientID, ok, status, preview)
}

// Recent returns up to limit journal records, newest last.
func Recent(limit int) ([]Record, error) {
	if db == nil {
		return nil, fmt.Errorf("journal not opened; call journal.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Record
	for ok := iter.First(); ok; ok = iter.Next() {
		if len(iter.Key()) < len(keyPrefix) || string(iter.Key()[:len(keyPrefix)]) != keyPrefix {
			continue
		}
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Prune deletes records older than maxAge as of now. When maxBytes is
// positive and the on-disk size still exceeds it afterwards, the oldest
// half of the remaining records is dropped as well. Returns the number of
// deleted records.
func Prune(maxAge time.Duration, maxBytes int64, now time.Time) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("journal not opened; call journal.Open first")
	}
	cutoff := now.Add(-maxAge).UTC().UnixNano()
	cutoffKey := fmt.Sprintf("%s%020d-%06d", keyPrefix, cutoff, 0)

	removed, err := deleteRange(keyPrefix, cutoffKey)
	if err != nil {
		return removed, err
	}

	if maxBytes > 0 && SizeBytes() > maxBytes {
		keys, err := remainingKeys()
		if err != nil {
			return removed, err
		}
		half := len(keys) / 2
		for i := 0; i < half; i++ {
			if err := db.Delete([]byte(keys[i]), pebble.NoSync); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// SizeBytes returns the best-effort on-disk size of the journal directory.
func SizeBytes() int64 {
	if dbPath == "" {
		return 0
	}
	var total int64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}

func deleteRange(start, end string) (int, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(start),
		UpperBound: []byte(end),
	})
	if err != nil {
		return 0, err
	}
	var keys []string
	for ok := iter.First(); ok; ok = iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if err := db.Delete([]byte(k), pebble.NoSync); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func remainingKeys() ([]string, error) {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var keys []string
	for ok := iter.First(); ok; ok = iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys, nil
}
