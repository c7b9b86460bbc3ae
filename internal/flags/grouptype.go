package flags

import (
	"context"
	"sync"
	"time"
)

// GroupTypeLoader reads a project's group-type index -> name map from the
// follower database.
type GroupTypeLoader interface {
	LoadGroupTypeMapping(ctx context.Context, projectID int64) (map[int]string, error)
}

// GroupTypeCache is a small per-project read-through cache satisfying
// GroupTypeMapping, grounded on the original's GroupTypeMappingCache.
type GroupTypeCache struct {
	loader    GroupTypeLoader
	projectID int64
	ttl       time.Duration

	mu        sync.RWMutex
	mapping   map[int]string
	expiresAt time.Time
}

func NewGroupTypeCache(loader GroupTypeLoader, projectID int64, ttl time.Duration) *GroupTypeCache {
	return &GroupTypeCache{loader: loader, projectID: projectID, ttl: ttl}
}

// Refresh forces a reload; callers normally rely on lazy TypeName refresh.
func (c *GroupTypeCache) Refresh(ctx context.Context) error {
	mapping, err := c.loader.LoadGroupTypeMapping(ctx, c.projectID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.mapping = mapping
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// TypeName implements GroupTypeMapping. On a cold/expired cache it blocks on
// a synchronous reload, matching the Flag State Loader's suspension-point
// model for this lookup (§5).
func (c *GroupTypeCache) TypeName(index int) (string, bool) {
	c.mu.RLock()
	stale := time.Now().After(c.expiresAt)
	mapping := c.mapping
	c.mu.RUnlock()

	if stale {
		_ = c.Refresh(context.Background())
		c.mu.RLock()
		mapping = c.mapping
		c.mu.RUnlock()
	}

	name, ok := mapping[index]
	return name, ok
}

// IndexForName is the reverse lookup, used by callers that need to fetch
// group properties by type name before the evaluator resolves an index.
func (c *GroupTypeCache) IndexForName(name string) (int, bool) {
	c.mu.RLock()
	stale := time.Now().After(c.expiresAt)
	mapping := c.mapping
	c.mu.RUnlock()

	if stale {
		_ = c.Refresh(context.Background())
		c.mu.RLock()
		mapping = c.mapping
		c.mu.RUnlock()
	}

	for idx, n := range mapping {
		if n == name {
			return idx, true
		}
	}
	return 0, false
}
