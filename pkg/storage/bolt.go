package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/levenlabs/go-lflag"
	bolt "go.etcd.io/bbolt"
)

var bucketSessionStates = []byte("session_states")

// BoltProvider stores session snapshots in a local bbolt database.
type BoltProvider struct {
	path    string
	timeout time.Duration
	db      *bolt.DB
}

func configuredBolt() *BoltProvider {
	path := lflag.String("bolt-path", "/data/meterbridge.db", "Path to the bbolt database for session state")
	timeout := lflag.Duration("bolt-timeout", time.Second, "How long to wait for the bbolt file lock")

	b := &BoltProvider{}
	lflag.Do(func() {
		b.path = *path
		b.timeout = *timeout
	})
	return b
}

// NewBoltProvider returns an uninitialized BoltProvider for path.
func NewBoltProvider(path string) *BoltProvider {
	return &BoltProvider{path: path, timeout: time.Second}
}

// Init opens the database and creates the bucket.
func (b *BoltProvider) Init() error {
	if b.path == "" {
		return errors.New("bolt-path is required")
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessionStates); err != nil {
			return fmt.Errorf("failed to create session bucket: %w", err)
		}
		return nil
	}); err != nil {
		db.Close()
		return err
	}
	b.db = db
	return nil
}

// GetSessionState returns a copy of the stored snapshot.
func (b *BoltProvider) GetSessionState(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessionStates).Get([]byte(key))
		if v == nil {
			return ErrSessionNotFound
		}
		// v is only valid for the life of the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetSessionState replaces the stored snapshot.
func (b *BoltProvider) SetSessionState(ctx context.Context, key string, state []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessionStates).Put([]byte(key), state); err != nil {
			return fmt.Errorf("failed to store session state: %w", err)
		}
		return nil
	})
}

// Close closes the database.
func (b *BoltProvider) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
