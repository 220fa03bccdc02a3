package versions

import (
	"sync"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/catalog"
	"github.com/five82/platter/internal/querycache"
)

// Invalidator drops cached queries by key.
type Invalidator interface {
	Invalidate(key querycache.Key)
}

// Checker compares each observed version vector with the previous one and
// invalidates the matching caches. The first observation only seeds the
// previous vector.
type Checker struct {
	mu     sync.Mutex
	prev   api.VersionVector
	seeded bool
	inv    Invalidator
	logger *zap.Logger
}

// NewChecker returns a checker invalidating through inv.
func NewChecker(inv Invalidator, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{inv: inv, logger: logger}
}

// Observe applies v and returns the keys it invalidated, in order.
//
// A menu bump invalidates items and categories and advances both stored
// counters; categories belong to the menu generation. A categories bump on
// its own invalidates categories only. Banners are independent of both.
// Each key gets its own Invalidate call.
func (c *Checker) Observe(v api.VersionVector) []querycache.Key {
	c.mu.Lock()
	if !c.seeded {
		c.prev = v
		c.seeded = true
		c.mu.Unlock()
		c.logger.Debug("version baseline recorded",
			zap.Int64("menu", v.Menu),
			zap.Int64("categories", v.Categories),
			zap.Int64("banners", v.Banners))
		return nil
	}

	var keys []querycache.Key
	switch {
	case v.Menu != c.prev.Menu:
		keys = append(keys, catalog.KeyMenuItems, catalog.KeyMenuCategories)
		c.prev.Menu = v.Menu
		c.prev.Categories = v.Categories
	case v.Categories != c.prev.Categories:
		keys = append(keys, catalog.KeyMenuCategories)
		c.prev.Categories = v.Categories
	}
	if v.Banners != c.prev.Banners {
		keys = append(keys, catalog.KeyBannersActive)
		c.prev.Banners = v.Banners
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.logger.Info("server data changed", zap.String("key", key.String()))
		if c.inv != nil {
			c.inv.Invalidate(key)
		}
	}
	return keys
}

// Previous returns the stored vector and whether one has been observed.
func (c *Checker) Previous() (api.VersionVector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prev, c.seeded
}
