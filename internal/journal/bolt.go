package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketSubmissions = []byte("submissions")

// BoltJournal stores records in a bbolt database keyed by a persistent
// sequence, so records from earlier runs are kept in order.
type BoltJournal struct {
	db         *bolt.DB
	maxRecords int
	logger     *zap.Logger
}

// OpenBolt opens or creates a journal at path. A maxRecords above zero
// prunes the oldest records once the journal grows past it.
func OpenBolt(path string, maxRecords int, logger *zap.Logger) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSubmissions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	j := &BoltJournal{db: db, maxRecords: maxRecords, logger: logger}
	if n, err := j.Count(); err == nil {
		logger.Info("submission journal opened", zap.String("path", path), zap.Int("records", n))
	}
	return j, nil
}

func (j *BoltJournal) Record(rec *Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubmissions)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("put record %d: %w", rec.ID, err)
		}
		if j.maxRecords > 0 {
			return prune(b, j.maxRecords)
		}
		return nil
	})
}

func (j *BoltJournal) Recent(n int) ([]*Record, error) {
	var out []*Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubmissions).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			rec, err := decode(v)
			if err != nil {
				j.logger.Warn("skipping corrupt journal entry", zap.Binary("key", k), zap.Error(err))
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (j *BoltJournal) Count() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSubmissions).Stats().KeyN
		return nil
	})
	return n, err
}

func (j *BoltJournal) Close() error {
	return j.db.Close()
}

// prune deletes the oldest entries until at most keep remain.
func prune(b *bolt.Bucket, keep int) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= keep {
		return nil
	}
	for _, k := range keys[:len(keys)-keep] {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("prune journal: %w", err)
		}
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
