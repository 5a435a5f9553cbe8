package journal

import (
	"context"
	"fmt"
	"sync/atomic"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"go.uber.org/zap"
)

const submissionsPrefix = "/submissions"

// DatastoreJournal stores records in any go-datastore backend. Keys sort by
// submission time, then by a per-process sequence.
type DatastoreJournal struct {
	store  ds.Datastore
	seq    atomic.Uint64
	logger *zap.Logger
}

// OpenLevelDB opens a LevelDB-backed journal at path.
func OpenLevelDB(path string, logger *zap.Logger) (*DatastoreJournal, error) {
	store, err := leveldb.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb journal %s: %w", path, err)
	}
	logger.Info("submission journal opened", zap.String("path", path), zap.String("backend", "leveldb"))
	return NewDatastoreJournal(store, logger), nil
}

// NewDatastoreJournal wraps an existing datastore.
func NewDatastoreJournal(store ds.Datastore, logger *zap.Logger) *DatastoreJournal {
	return &DatastoreJournal{store: store, logger: logger}
}

func (j *DatastoreJournal) key(rec *Record) ds.Key {
	return ds.NewKey(fmt.Sprintf("%s/%020d-%020d", submissionsPrefix, rec.Timestamp, j.seq.Add(1)))
}

func (j *DatastoreJournal) Record(rec *Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := j.store.Put(context.Background(), j.key(rec), data); err != nil {
		return fmt.Errorf("put record %d: %w", rec.ID, err)
	}
	return nil
}

func (j *DatastoreJournal) Recent(n int) ([]*Record, error) {
	res, err := j.store.Query(context.Background(), query.Query{
		Prefix: submissionsPrefix,
		Orders: []query.Order{query.OrderByKeyDescending{}},
		Limit:  n,
	})
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		rec, err := decode(e.Value)
		if err != nil {
			j.logger.Warn("skipping corrupt journal entry", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *DatastoreJournal) Count() (int, error) {
	res, err := j.store.Query(context.Background(), query.Query{
		Prefix:   submissionsPrefix,
		KeysOnly: true,
	})
	if err != nil {
		return 0, fmt.Errorf("query journal: %w", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}
	return len(entries), nil
}

func (j *DatastoreJournal) Close() error {
	return j.store.Close()
}
