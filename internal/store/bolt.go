package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketPassages = []byte("passages")

// BoltRepository is a Repository backed by a bbolt file. Keys are big-endian
// bucket sequence numbers, so a cursor walk yields insertion order.
type BoltRepository struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a bbolt database at path.
func OpenBolt(path string) (*BoltRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("store: bolt path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create dir for %s: %w", path, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, repoErr("open "+path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPassages)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, repoErr("create bucket", err)
	}
	return &BoltRepository{db: db}, nil
}

// Insert appends a single passage under the bucket's next sequence number.
func (r *BoltRepository) Insert(ctx context.Context, p Passage) error {
	if err := ctx.Err(); err != nil {
		return repoErr("insert", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return repoErr("insert: encode", err)
	}
	err = r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPassages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return repoErr("insert", err)
	}
	return nil
}

// Scan calls fn for every passage in key order.
func (r *BoltRepository) Scan(ctx context.Context, fn func(Passage) error) error {
	var fnErr error
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPassages).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p Passage
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode key %x: %w", k, err)
			}
			if err := fn(p); err != nil {
				fnErr = err
				return err
			}
			return nil
		})
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return repoErr("scan", err)
	}
	return nil
}

// Count returns the number of stored passages.
func (r *BoltRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketPassages).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, repoErr("count", err)
	}
	return n, nil
}

// Reset deletes and recreates the passages bucket.
func (r *BoltRepository) Reset(ctx context.Context) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketPassages); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketPassages)
		return err
	})
	if err != nil {
		return repoErr("reset", err)
	}
	return nil
}

// Ping reports whether the database file is still open.
func (r *BoltRepository) Ping(ctx context.Context) error {
	if err := r.db.View(func(*bbolt.Tx) error { return nil }); err != nil {
		return repoErr("ping", err)
	}
	return nil
}

// Close releases the database file lock.
func (r *BoltRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
