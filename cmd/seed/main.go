// Command seed imports a storage-state snapshot, for example one saved by a
// browser session, into the configured session store so the bridge can start
// without logging in.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/portal"
	"github.com/meterbridge/meterbridge/pkg/storage"
	"github.com/meterbridge/meterbridge/pkg/types"
)

var tokenCookies = map[string]string{
	"digimeto": portal.DigimetoTokenCookie,
	"minol":    portal.MinolTokenCookie,
}

func main() {
	s := storage.Configured()
	key := lflag.String("seed-portal", "digimeto", "Portal whose session is seeded (available: digimeto, minol)")
	file := lflag.String("seed-file", "-", "Storage-state JSON file to import, - reads stdin")
	lflag.Configure()
	log.ConfigureLevel()

	ctx := context.Background()
	defer s.Close()

	if err := seed(ctx, s, *key, *file); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed session", slog.Any("error", err))
		os.Exit(1)
	}
}

func seed(ctx context.Context, s storage.Database, key, file string) error {
	tokenCookie, ok := tokenCookies[key]
	if !ok {
		return fmt.Errorf("unknown portal: %s", key)
	}

	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file, err)
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	state, err := types.DecodeSessionState(b, tokenCookie)
	if err != nil {
		return err
	}
	if _, ok := state.Token(); !ok {
		return fmt.Errorf("snapshot has no %s cookie", tokenCookie)
	}
	// re-encode so only what the bridge understands is stored
	enc, err := types.EncodeSessionState(state)
	if err != nil {
		return err
	}
	if err := s.SetSessionState(ctx, key, enc); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded session",
		slog.String("portal", key),
		slog.Int("cookies", len(state.Cookies())),
	)
	return nil
}
