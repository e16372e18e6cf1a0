package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/types"
)

// Command runs an external login helper, typically a headless browser
// script, that prints a storage-state snapshot on stdout. Credentials are
// passed through the environment so they never show up in a process listing.
type Command struct {
	Path        string
	Args        []string
	TokenCookie string
}

// Authenticate implements Authenticator.
func (c *Command) Authenticate(ctx context.Context, creds Credentials) (types.SessionState, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(),
		"METERBRIDGE_USERNAME="+creds.Username,
		"METERBRIDGE_PASSWORD="+creds.Password,
		"METERBRIDGE_BASE_URL="+creds.BaseURL,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// helpers may leave children holding stdout open after being killed
	cmd.WaitDelay = time.Second

	log.Ctx(ctx).DebugContext(ctx, "running login command", slog.String("path", c.Path))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.SessionState{}, fmt.Errorf("login command: %w", ctxErr)
		}
		return types.SessionState{}, fmt.Errorf("login command failed: %w: %s", err, tail(stderr.String(), 512))
	}

	state, err := types.DecodeSessionState(stdout.Bytes(), c.TokenCookie)
	if err != nil {
		return types.SessionState{}, err
	}
	if state.IsZero() {
		return types.SessionState{}, errors.New("login command returned no cookies")
	}
	if _, ok := state.Token(); c.TokenCookie != "" && !ok {
		return types.SessionState{}, fmt.Errorf("login command did not return the %s cookie", c.TokenCookie)
	}
	return state, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
