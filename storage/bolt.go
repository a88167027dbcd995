package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/tiered-storage/codec"
	bolt "go.etcd.io/bbolt"
)

const defaultBoltBucket = "tiered-storage"

// BoltProvider implements a storage provider in a single bbolt database file.
// It gives a durable local tier without one file per key. TTLs are ignored.
type BoltProvider struct {
	envelopeProvider
	db *bolt.DB
}

// NewBoltProvider opens (or creates) the database at path. bucket defaults
// to "tiered-storage".
func NewBoltProvider(path, bucket string, c codec.Codec, log *slog.Logger) (*BoltProvider, error) {
	if bucket == "" {
		bucket = defaultBoltBucket
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	kv := &boltKV{db: db, bucket: []byte(bucket)}
	name := fmt.Sprintf("bolt-%s", filepath.Base(path))
	return &BoltProvider{
		envelopeProvider: newEnvelopeProvider(kv, c, name, "bolt://"+path+"?bucket="+bucket, log),
		db:               db,
	}, nil
}

// Close closes the database file.
func (p *BoltProvider) Close() error {
	return p.db.Close()
}

type boltKV struct {
	db     *bolt.DB
	bucket []byte
}

func (k *boltKV) get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(k.bucket).Get([]byte(key))
		if v != nil {
			// v is only valid during the transaction
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt get: %w", err)
	}
	return out, out != nil, nil
}

func (k *boltKV) set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	err := k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(k.bucket).Put([]byte(key), value)
	})
	if err != nil {
		return false, fmt.Errorf("bolt put: %w", err)
	}
	return true, nil
}

func (k *boltKV) exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := k.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(k.bucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bolt get: %w", err)
	}
	return ok, nil
}

func (k *boltKV) del(_ context.Context, key string) (bool, error) {
	var existed bool
	err := k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(k.bucket)
		existed = b.Get([]byte(key)) != nil
		if !existed {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("bolt delete: %w", err)
	}
	return existed, nil
}
