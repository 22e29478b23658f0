// Package clients contains ClientSource wrappers.
package clients

import (
	"context"
	"time"

	"github.com/pardot/authcode/core"
	gocache "github.com/patrickmn/go-cache"
)

// Cached keeps registrations from a slower ClientSource, such as the database,
// in memory for a while. Lookups for unknown clients and failed lookups are
// not cached, so new registrations are seen on the next request.
type Cached struct {
	source core.ClientSource
	c      *gocache.Cache
}

var _ core.ClientSource = (*Cached)(nil)

// NewCached returns a Cached that keeps registrations for ttl.
func NewCached(source core.ClientSource, ttl time.Duration) *Cached {
	return &Cached{
		source: source,
		c:      gocache.New(ttl, 2*ttl),
	}
}

func (c *Cached) GetClient(ctx context.Context, id string) (*core.ClientRegistration, error) {
	if v, ok := c.c.Get(id); ok {
		if cl, ok := v.(*core.ClientRegistration); ok {
			return cl, nil
		}
	}

	cl, err := c.source.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}

	c.c.SetDefault(id, cl)
	return cl, nil
}

// Invalidate drops a cached registration, e.g. after its secret was rotated.
func (c *Cached) Invalidate(id string) {
	c.c.Delete(id)
}
