package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/meterbridge/meterbridge/pkg/common"
	"github.com/meterbridge/meterbridge/pkg/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider stores session snapshots in Google Cloud Firestore under
// sessions/<key>.
type FirestoreProvider struct {
	client     *firestore.Client
	projectID  string
	database   string
	collection string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	collection := lflag.String("firestore-collection", "sessions", "Firestore collection holding session state")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.collection = *collection

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.collection == "" {
		return fmt.Errorf("firestore-collection is required")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	if f.collection == "" {
		f.collection = "sessions"
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database, option.WithUserAgent(common.UserAgent()))
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// GetSessionState reads the "json" field of sessions/<key>.
func (f *FirestoreProvider) GetSessionState(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	doc, err := f.client.Collection(f.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch session doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "session doc missing json", slog.String("key", key))
		return nil, fmt.Errorf("session document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "session doc json not string", slog.String("key", key))
		return nil, fmt.Errorf("session 'json' field is not a string")
	}
	return []byte(jsonStr), nil
}

// SetSessionState overwrites sessions/<key>. The snapshot is stored as a JSON
// string for portability.
func (f *FirestoreProvider) SetSessionState(ctx context.Context, key string, state []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := f.client.Collection(f.collection).Doc(key).Set(ctx, map[string]interface{}{
		"json":    string(state),
		"updated": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}
