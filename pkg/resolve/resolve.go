// Package resolve discovers and caches the opaque identifiers a portal needs
// to address a customer's data.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/types"
)

// Resolver asks the portal for the identifiers valid under sess.
type Resolver interface {
	ResolveIdentifiers(ctx context.Context, sess types.Session) (types.ResourceIdentifiers, error)
}

// FindMeteringPoint walks nodes depth first and returns the first metering
// point that has a line child together with that line's id. Later matches are
// ignored.
func FindMeteringPoint(nodes []types.DirectoryNode) (mp, line string, ok bool) {
	stack := make([]*types.DirectoryNode, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, &nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Kind == types.NodeKindMeteringPoint {
			for _, c := range n.Children {
				if c.Kind == types.NodeKindLine && c.ID != "" {
					return n.ID, c.ID, true
				}
			}
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, &n.Children[i])
		}
	}
	return "", "", false
}

// IdentifiersFromTree turns a directory tree into identifiers or a
// resolution error.
func IdentifiersFromTree(nodes []types.DirectoryNode) (types.ResourceIdentifiers, error) {
	mp, line, ok := FindMeteringPoint(nodes)
	if !ok {
		return types.ResourceIdentifiers{}, fmt.Errorf("%w: no metering point with a line in directory", types.ErrResolution)
	}
	return types.ResourceIdentifiers{Primary: mp, Secondary: line}, nil
}

// Cache holds the identifiers of the most recent session generation.
// Identifiers resolved under an older generation are never returned.
type Cache struct {
	resolver Resolver

	mu  sync.Mutex
	ids *types.ResourceIdentifiers
}

// NewCache returns an empty Cache backed by r.
func NewCache(r Resolver) *Cache {
	return &Cache{resolver: r}
}

// Identifiers returns identifiers for sess, resolving them if the cached ones
// belong to another session generation.
func (c *Cache) Identifiers(ctx context.Context, sess types.Session) (types.ResourceIdentifiers, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids != nil && c.ids.SessionGeneration == sess.Generation {
		return *c.ids, nil
	}
	c.ids = nil

	ids, err := c.resolver.ResolveIdentifiers(ctx, sess)
	if err != nil {
		return types.ResourceIdentifiers{}, err
	}
	ids.SessionGeneration = sess.Generation
	c.ids = &ids
	log.Ctx(ctx).DebugContext(ctx, "resolved identifiers",
		slog.String("primary", ids.Primary),
		slog.String("secondary", ids.Secondary),
		slog.Uint64("generation", sess.Generation),
	)
	return ids, nil
}

// Invalidate drops the cached identifiers.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = nil
}

// SessionRenewed implements session.Refresher. Identifiers are dropped and
// resolved again right away; a failure is only logged since the next fetch
// resolves lazily anyway.
func (c *Cache) SessionRenewed(ctx context.Context, sess types.Session) {
	c.Invalidate()
	if _, err := c.Identifiers(ctx, sess); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to resolve identifiers after login", slog.Any("error", err))
	}
}
