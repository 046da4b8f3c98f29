package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/omnidraft/collab-core/ot"
)

var (
	bucketDocs = []byte("documents")
	bucketOps  = []byte("operations")
)

// BoltStore is a bbolt-backed implementation of DocumentStore. Documents are
// stored as JSON under the documents bucket; each document's operations live
// in a nested bucket keyed by zero-padded version.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOps)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(_ context.Context, id, content string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocs)
		if docs.Get([]byte(id)) != nil {
			return fmt.Errorf("document %q: %w", id, ErrExists)
		}
		now := time.Now()
		return putDoc(docs, DocumentInfo{
			ID:        id,
			Content:   content,
			Version:   0,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
}

func (s *BoltStore) Get(_ context.Context, id string) (*DocumentInfo, error) {
	var info *DocumentInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		info, err = getDoc(tx.Bucket(bucketDocs), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *BoltStore) List(_ context.Context) ([]DocumentInfo, error) {
	var result []DocumentInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(_, v []byte) error {
			var info DocumentInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("unmarshal document: %w", err)
			}
			result = append(result, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) UpdateContent(_ context.Context, id, content string, version int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocs)
		info, err := getDoc(docs, id)
		if err != nil {
			return err
		}
		info.Content = content
		info.Version = version
		info.UpdatedAt = time.Now()
		return putDoc(docs, *info)
	})
}

func (s *BoltStore) AppendOperation(_ context.Context, id string, op ot.Operation, version int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocs)
		info, err := getDoc(docs, id)
		if err != nil {
			return err
		}

		ops, err := tx.Bucket(bucketOps).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("marshal operation: %w", err)
		}
		// 0-based index: version 1 is stored under key 0, matching the
		// GetOperations(fromVersion) slice semantics.
		if err := ops.Put([]byte(zeroPad(version-1)), data); err != nil {
			return err
		}

		info.Version = version
		info.UpdatedAt = time.Now()
		return putDoc(docs, *info)
	})
}

func (s *BoltStore) GetOperations(_ context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	var result []ot.Operation
	err := s.db.View(func(tx *bbolt.Tx) error {
		if _, err := getDoc(tx.Bucket(bucketDocs), id); err != nil {
			return err
		}
		ops := tx.Bucket(bucketOps).Bucket([]byte(id))
		if ops == nil {
			return nil
		}
		c := ops.Cursor()
		for k, v := c.Seek([]byte(zeroPad(fromVersion))); k != nil; k, v = c.Next() {
			var op ot.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("unmarshal operation %s: %w", k, err)
			}
			result = append(result, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func getDoc(docs *bbolt.Bucket, id string) (*DocumentInfo, error) {
	data := docs.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	var info DocumentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal document %q: %w", id, err)
	}
	return &info, nil
}

func putDoc(docs *bbolt.Bucket, info DocumentInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", info.ID, err)
	}
	return docs.Put([]byte(info.ID), data)
}

func zeroPad(version int) string {
	return fmt.Sprintf("%010d", version)
}
