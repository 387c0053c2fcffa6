package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltRootBucket = "buckets"
)

type boltEntry struct {
	VersionID string    `json:"version_id"`
	Modified  time.Time `json:"modified"`
	Body      []byte    `json:"body"`
}

// BoltStore keeps version histories inside a single BoltDB file.
type BoltStore struct {
	db    *bolt.DB
	clock func() time.Time
	once  sync.Once
}

// NewBoltStore opens (or creates) a BoltDB store at the provided path.
func NewBoltStore(path string, opts Options) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(cleaned, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltRootBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, clock: opts.clock()}, nil
}

// PutBody appends body under bucket/key with the next sequence number.
func (s *BoltStore) PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error) {
	if err := validateLocation(bucket, key); err != nil {
		return PutResult{}, err
	}

	now := s.clock().UTC()
	entry := boltEntry{
		VersionID: computeVersionID(bucket, key, body, now),
		Modified:  now,
		Body:      body,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return PutResult{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return errors.New("bolt root bucket missing")
		}
		b, err := root.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		k, err := b.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		seq, err := k.NextSequence()
		if err != nil {
			return err
		}
		return k.Put(sequenceKey(seq), payload)
	})
	if err != nil {
		return PutResult{}, err
	}

	return PutResult{VersionID: entry.VersionID, LastModified: now}, nil
}

// ListVersions returns the history of bucket/key in write order.
func (s *BoltStore) ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error) {
	var entries []boltEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, err := keyBucket(tx, bucket, key)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) && nf.Resource == "key" {
				return nil
			}
			return err
		}
		return k.ForEach(func(_, v []byte) error {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	result := make([]ObjectVersion, 0, len(entries))
	for i, entry := range entries {
		result = append(result, ObjectVersion{
			Key:          key,
			VersionID:    entry.VersionID,
			LastModified: entry.Modified,
			IsLatest:     i == len(entries)-1,
		})
	}
	return normalizeVersions(key, result), nil
}

// GetBody fetches a single version, or the newest one when versionID is empty.
func (s *BoltStore) GetBody(ctx context.Context, bucket, key, versionID string) (Object, error) {
	var (
		found boltEntry
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, err := keyBucket(tx, bucket, key)
		if err != nil {
			return err
		}

		c := k.Cursor()
		if versionID == "" {
			_, v := c.Last()
			if v == nil {
				return nil
			}
			ok = true
			return json.Unmarshal(v, &found)
		}
		for _, v := c.First(); v != nil; _, v = c.Next() {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.VersionID == versionID {
				found, ok = entry, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return Object{}, err
	}
	if !ok {
		if versionID == "" {
			return Object{}, &NotFoundError{Resource: "key", Key: key}
		}
		return Object{}, &NotFoundError{Resource: "version", Key: versionID}
	}

	return Object{
		Key:          key,
		Body:         append([]byte{}, found.Body...),
		VersionID:    found.VersionID,
		LastModified: found.Modified,
	}, nil
}

// ListKeys returns the keys with at least one stored version.
func (s *BoltStore) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return &NotFoundError{Resource: "bucket", Key: bucket}
		}
		b := root.Bucket([]byte(bucket))
		if b == nil {
			return &NotFoundError{Resource: "bucket", Key: bucket}
		}
		return b.ForEach(func(k, v []byte) error {
			// nested buckets have nil values
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// Close shuts down the Bolt DB.
func (s *BoltStore) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

func keyBucket(tx *bolt.Tx, bucket, key string) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(boltRootBucket))
	if root == nil {
		return nil, &NotFoundError{Resource: "bucket", Key: bucket}
	}
	b := root.Bucket([]byte(bucket))
	if b == nil {
		return nil, &NotFoundError{Resource: "bucket", Key: bucket}
	}
	k := b.Bucket([]byte(key))
	if k == nil {
		return nil, &NotFoundError{Resource: "key", Key: key}
	}
	return k, nil
}

func sequenceKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
