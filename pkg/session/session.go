// Package session owns the validity of one portal session. It loads the
// persisted state lazily, invokes the authentication actor when the state is
// unusable or rejected, and swaps in new sessions atomically.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meterbridge/meterbridge/pkg/auth"
	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/storage"
	"github.com/meterbridge/meterbridge/pkg/types"
	"golang.org/x/sync/singleflight"
)

// DefaultAuthTimeout bounds one run of the authentication actor.
const DefaultAuthTimeout = 2 * time.Minute

// Refresher is notified after a new session was installed by
// re-authentication. It is called synchronously before the callers waiting on
// the re-authentication are released.
type Refresher interface {
	SessionRenewed(ctx context.Context, sess types.Session)
}

// Config configures a Manager.
type Config struct {
	// Key is the store key, usually the portal name.
	Key         string
	TokenCookie string
	Credentials auth.Credentials
	AuthTimeout time.Duration
}

// Manager hands out the current Session and replaces it on demand.
type Manager struct {
	cfg   Config
	store storage.Database
	actor auth.Authenticator

	current    atomic.Pointer[types.Session]
	generation atomic.Uint64
	group      singleflight.Group

	refreshersMu sync.Mutex
	refreshers   []Refresher
}

// New returns a Manager. Nothing is loaded until the first call.
func New(store storage.Database, actor auth.Authenticator, cfg Config) *Manager {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	return &Manager{
		cfg:   cfg,
		store: store,
		actor: actor,
	}
}

// AddRefresher registers r to be notified about renewed sessions.
func (m *Manager) AddRefresher(r Refresher) {
	m.refreshersMu.Lock()
	defer m.refreshersMu.Unlock()
	m.refreshers = append(m.refreshers, r)
}

// Current returns the installed session, if any.
func (m *Manager) Current() (types.Session, bool) {
	if s := m.current.Load(); s != nil {
		return *s, true
	}
	return types.Session{}, false
}

// EnsureValidSession returns the current session. On the first call the
// persisted state is loaded; when it is missing or has no signing token the
// authentication actor is invoked. A loaded state is trusted until the portal
// rejects it.
func (m *Manager) EnsureValidSession(ctx context.Context) (types.Session, error) {
	if s, ok := m.Current(); ok {
		return s, nil
	}
	v, err, _ := m.group.Do("auth", func() (any, error) {
		if s, ok := m.Current(); ok {
			return s, nil
		}
		if state, ok := m.load(ctx); ok {
			s := m.install(state)
			log.Ctx(ctx).InfoContext(ctx, "using persisted session", slog.String("key", m.cfg.Key), slog.Uint64("generation", s.Generation))
			return s, nil
		}
		return m.renew(ctx)
	})
	if err != nil {
		return types.Session{}, err
	}
	return v.(types.Session), nil
}

// HandleUnauthorized is called when the portal rejected stale. If a newer
// session was installed in the meantime it is returned as is, otherwise the
// actor is invoked once no matter how many callers report the same failure.
func (m *Manager) HandleUnauthorized(ctx context.Context, stale types.Session) (types.Session, error) {
	v, err, shared := m.group.Do("auth", func() (any, error) {
		if s, ok := m.Current(); ok && s.Generation > stale.Generation {
			return s, nil
		}
		log.Ctx(ctx).WarnContext(ctx, "session rejected by portal, re-authenticating",
			slog.String("key", m.cfg.Key),
			slog.Uint64("staleGeneration", stale.Generation),
		)
		return m.renew(ctx)
	})
	if err != nil {
		return types.Session{}, err
	}
	if shared {
		log.Ctx(ctx).DebugContext(ctx, "joined in-flight re-authentication", slog.String("key", m.cfg.Key))
	}
	return v.(types.Session), nil
}

func (m *Manager) load(ctx context.Context) (types.SessionState, bool) {
	b, err := m.store.GetSessionState(ctx, m.cfg.Key)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Ctx(ctx).InfoContext(ctx, "no persisted session", slog.String("key", m.cfg.Key))
		} else {
			log.Ctx(ctx).WarnContext(ctx, "failed to load persisted session", slog.String("key", m.cfg.Key), slog.Any("error", err))
		}
		return types.SessionState{}, false
	}
	state, err := types.DecodeSessionState(b, m.cfg.TokenCookie)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "persisted session is unreadable", slog.String("key", m.cfg.Key), slog.Any("error", err))
		return types.SessionState{}, false
	}
	if !m.usable(state) {
		log.Ctx(ctx).InfoContext(ctx, "persisted session has no signing token", slog.String("key", m.cfg.Key))
		return types.SessionState{}, false
	}
	return state, true
}

func (m *Manager) usable(state types.SessionState) bool {
	if state.IsZero() {
		return false
	}
	if m.cfg.TokenCookie == "" {
		return true
	}
	_, ok := state.Token()
	return ok
}

// renew must only be called from within the singleflight group.
func (m *Manager) renew(ctx context.Context) (types.Session, error) {
	// the actor runs on behalf of every waiting caller so it is bounded by its
	// own timeout instead of the first caller's cancellation
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.AuthTimeout)
	defer cancel()

	start := time.Now()
	state, err := m.actor.Authenticate(actx, m.cfg.Credentials)
	if err != nil {
		return types.Session{}, fmt.Errorf("%w: %s: %w", types.ErrAuthentication, m.cfg.Key, err)
	}
	state = types.NewSessionState(state.Cookies(), m.cfg.TokenCookie)
	if !m.usable(state) {
		return types.Session{}, fmt.Errorf("%w: %s: actor returned a session without signing token", types.ErrAuthentication, m.cfg.Key)
	}

	if b, err := types.EncodeSessionState(state); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode session", slog.String("key", m.cfg.Key), slog.Any("error", err))
	} else if err := m.store.SetSessionState(actx, m.cfg.Key, b); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist session", slog.String("key", m.cfg.Key), slog.Any("error", err))
	}

	s := m.install(state)
	log.Ctx(ctx).InfoContext(ctx, "authenticated",
		slog.String("key", m.cfg.Key),
		slog.Uint64("generation", s.Generation),
		slog.Duration("took", time.Since(start)),
	)

	m.refreshersMu.Lock()
	refreshers := append([]Refresher(nil), m.refreshers...)
	m.refreshersMu.Unlock()
	for _, r := range refreshers {
		r.SessionRenewed(actx, s)
	}
	return s, nil
}

func (m *Manager) install(state types.SessionState) types.Session {
	s := types.Session{
		State:      state,
		Generation: m.generation.Add(1),
	}
	m.current.Store(&s)
	return s
}
