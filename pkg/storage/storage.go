package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

var (
	ErrSessionNotFound = errors.New("session state not found")
	ErrEmptyKey        = errors.New("session key cannot be empty")
)

// Database persists opaque session state snapshots, one per portal key. The
// bytes are never interpreted by the store.
type Database interface {
	// GetSessionState returns the stored snapshot or ErrSessionNotFound.
	GetSessionState(ctx context.Context, key string) ([]byte, error)
	// SetSessionState replaces the stored snapshot.
	SetSessionState(ctx context.Context, key string, state []byte) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "file", "Storage provider to use for session state (available: file, bolt, firestore)")

	var p struct{ Database }

	fp := configuredFile()
	bp := configuredBolt()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "file":
			if err := fp.Validate(); err != nil {
				panic(fmt.Sprintf("file storage validation failed: %v", err))
			}
			p.Database = fp
		case "bolt":
			if err := bp.Init(); err != nil {
				panic(fmt.Sprintf("bolt init failed: %v", err))
			}
			p.Database = bp
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
