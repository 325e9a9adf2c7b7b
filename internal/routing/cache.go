package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedOracle puts a redis TTL cache in front of a live oracle. Routes are
// deterministic for a fixed waypoint list, so caching only trades staleness
// of the road network, which changes far slower than the TTL. Redis being
// down degrades to pass-through, never to an error.
type CachedOracle struct {
	Next   Oracle
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewCachedOracle(next Oracle, addr, password string, ttl time.Duration) *CachedOracle {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &CachedOracle{Next: next, Client: c, TTL: ttl, Prefix: "route:"}
}

func (c *CachedOracle) key(coordinates [][]float64) string {
	var b strings.Builder
	b.WriteString(c.Prefix)
	for i, p := range coordinates {
		if i > 0 {
			b.WriteByte(';')
		}
		if len(p) >= 2 {
			fmt.Fprintf(&b, "%.6f,%.6f", p[0], p[1])
		}
	}
	return b.String()
}

func (c *CachedOracle) Route(ctx context.Context, coordinates [][]float64) (Route, error) {
	k := c.key(coordinates)
	if raw, err := c.Client.Get(ctx, k).Bytes(); err == nil {
		var r Route
		if err := json.Unmarshal(raw, &r); err == nil {
			return r, nil
		}
		// corrupt entry, fall through and overwrite
	}

	r, err := c.Next.Route(ctx, coordinates)
	if err != nil {
		return Route{}, err
	}
	if raw, err := json.Marshal(r); err == nil {
		_ = c.Client.Set(ctx, k, raw, c.TTL).Err()
	}
	return r, nil
}
