package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID:  "test-project-id",
		database:   randDB,
		collection: "sessions",
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	require.NoError(t, f.Validate())
	testDatabase(t, f)
}
