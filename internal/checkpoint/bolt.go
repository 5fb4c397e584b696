package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore keeps checkpoints in a bbolt database, one bucket per thread
// keyed by big-endian step number.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func stepKey(step int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(step))
	return k
}

// Save stores r. A record for the same step is replaced.
func (s *BoltStore) Save(ctx context.Context, r Record) error {
	if r.ThreadID == "" {
		return fmt.Errorf("checkpoint: thread id is required")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(r.ThreadID))
		if err != nil {
			return err
		}
		return b.Put(stepKey(r.Step), data)
	})
}

// Latest returns the record with the highest step.
func (s *BoltStore) Latest(ctx context.Context, threadID string) (*Record, error) {
	var r *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(threadID))
		if b == nil {
			return ErrNotFound
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		r = &Record{}
		return json.Unmarshal(v, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// History returns every record of threadID in step order.
func (s *BoltStore) History(ctx context.Context, threadID string) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(threadID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// Threads lists the threads with checkpoints.
func (s *BoltStore) Threads(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}
