// Package fetch retrieves per key portal data for the current session. A
// rejected session is re-authenticated once and the whole batch restarted.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/types"
	"golang.org/x/sync/errgroup"
)

// retryBudget is the number of re-authentications one FetchAll may trigger.
const retryBudget = 1

// Sessions hands out sessions and replaces rejected ones.
type Sessions interface {
	EnsureValidSession(ctx context.Context) (types.Session, error)
	HandleUnauthorized(ctx context.Context, stale types.Session) (types.Session, error)
}

// Identifiers returns the resource identifiers valid for a session.
type Identifiers interface {
	Identifiers(ctx context.Context, sess types.Session) (types.ResourceIdentifiers, error)
}

// Source fetches the data of one key.
type Source[T any] interface {
	Fetch(ctx context.Context, sess types.Session, ids types.ResourceIdentifiers, key string, start, end time.Time) (T, error)
}

// Fetcher runs Source for a set of keys.
type Fetcher[T any] struct {
	Sessions    Sessions
	Identifiers Identifiers
	Source      Source[T]

	// Concurrency bounds the in-flight keys, values below 1 mean 1.
	Concurrency int
	// ResolveTimeout bounds identifier resolution.
	ResolveTimeout time.Duration
	// KeyTimeout bounds every single key.
	KeyTimeout time.Duration
}

// Result is what FetchAll returns alongside the data.
type Result struct {
	Session     types.Session
	Identifiers types.ResourceIdentifiers
}

// FetchAll fetches every key between start and end. Keys that fail are
// missing from the returned map and reported in a joined error wrapping
// types.ErrFetch; the map is still usable. Authentication and resolution
// failures return no data at all.
func (f *Fetcher[T]) FetchAll(ctx context.Context, keys []string, start, end time.Time) (map[string]T, Result, error) {
	sess, err := f.Sessions.EnsureValidSession(ctx)
	if err != nil {
		return nil, Result{}, err
	}

	for attempt := 0; ; attempt++ {
		out, res, err := f.fetchOnce(ctx, sess, keys, start, end)
		if !errors.Is(err, types.ErrUnauthorized) {
			return out, res, err
		}
		if attempt >= retryBudget {
			return nil, res, fmt.Errorf("%w: session rejected again after re-authentication: %w", types.ErrFetch, err)
		}
		log.Ctx(ctx).InfoContext(ctx, "session rejected, retrying after re-authentication",
			slog.Uint64("generation", sess.Generation),
			slog.Any("error", err),
		)
		sess, err = f.Sessions.HandleUnauthorized(ctx, sess)
		if err != nil {
			return nil, Result{}, err
		}
	}
}

func (f *Fetcher[T]) fetchOnce(ctx context.Context, sess types.Session, keys []string, start, end time.Time) (map[string]T, Result, error) {
	res := Result{Session: sess}

	ids, err := f.identifiers(ctx, sess)
	if err != nil {
		return nil, res, err
	}
	res.Identifiers = ids

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.Concurrency, 1))

	var mu sync.Mutex
	out := make(map[string]T, len(keys))
	var errs []error

	for _, key := range keys {
		g.Go(func() error {
			// another key already saw a rejection
			if err := gctx.Err(); err != nil {
				return err
			}
			kctx := gctx
			if f.KeyTimeout > 0 {
				var cancel context.CancelFunc
				kctx, cancel = context.WithTimeout(gctx, f.KeyTimeout)
				defer cancel()
			}
			v, err := f.Source.Fetch(kctx, sess, ids, key, start, end)
			if errors.Is(err, types.ErrUnauthorized) {
				// cancels the rest, the batch is restarted anyway
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "skipping key", slog.String("key", key), slog.Any("error", err))
				errs = append(errs, fmt.Errorf("%w: %s: %w", types.ErrFetch, key, err))
				return nil
			}
			out[key] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, res, err
	}
	return out, res, errors.Join(errs...)
}

func (f *Fetcher[T]) identifiers(ctx context.Context, sess types.Session) (types.ResourceIdentifiers, error) {
	rctx := ctx
	if f.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, f.ResolveTimeout)
		defer cancel()
	}
	ids, err := f.Identifiers.Identifiers(rctx, sess)
	switch {
	case err == nil:
		return ids, nil
	case errors.Is(err, types.ErrUnauthorized), errors.Is(err, types.ErrResolution):
		return ids, err
	default:
		return ids, fmt.Errorf("%w: %w", types.ErrResolution, err)
	}
}
