// Package catalog exposes the menu, banner and order reads used by the
// front end. Every read goes through the shared query cache under a stable
// key so that version changes can invalidate it.
package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/querycache"
)

// Cache keys. The version checker invalidates these by name.
var (
	KeyMenu           = querycache.NewKey("menu")
	KeyMenuItems      = querycache.NewKey("menu", "items")
	KeyMenuCategories = querycache.NewKey("menu", "categories")
	KeyMenuVersion    = querycache.NewKey("menu", "version")
	KeyBanners        = querycache.NewKey("banners")
	KeyBannersActive  = querycache.NewKey("banners", "active")
	KeyBannersAll     = querycache.NewKey("banners", "all")
	KeyOrdersMine     = querycache.NewKey("orders", "mine")
)

// MenuItemKey is the key of a single menu item. It lives under KeyMenuItems
// so a menu invalidation reaches it.
func MenuItemKey(id string) querycache.Key {
	return querycache.NewKey("menu", "items", id)
}

// BannerKey is the key of a single banner. The extra segment keeps ids from
// colliding with "active" and "all".
func BannerKey(id string) querycache.Key {
	return querycache.NewKey("banners", "id", id)
}

// Read policies.
var (
	CatalogPolicy = querycache.Policy{StaleAfter: 5 * time.Minute, GCAfter: 30 * time.Minute}
	OrdersPolicy  = querycache.Policy{StaleAfter: 30 * time.Second, GCAfter: 5 * time.Minute}
)

// Backend is the subset of the API the catalog reads.
type Backend interface {
	FetchMenuItems(ctx context.Context) ([]api.MenuItem, error)
	FetchMenuCategories(ctx context.Context) ([]api.Category, error)
	FetchMenuItem(ctx context.Context, id string) (api.MenuItem, error)
	FetchMenuVersion(ctx context.Context) (api.MenuVersion, error)
	FetchActiveBanners(ctx context.Context) ([]api.Banner, error)
	FetchBanners(ctx context.Context) ([]api.Banner, error)
	FetchBanner(ctx context.Context, id string) (api.Banner, error)
	FetchMyOrders(ctx context.Context) ([]api.Order, error)
}

var _ Backend = (*api.Client)(nil)

// Service reads the catalog through the cache.
type Service struct {
	backend Backend
	cache   *querycache.Cache
	logger  *zap.Logger
}

// New returns a catalog service. A nil logger is replaced by a no-op one.
func New(backend Backend, cache *querycache.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, cache: cache, logger: logger}
}

// Cache returns the underlying query cache.
func (s *Service) Cache() *querycache.Cache { return s.cache }

func (s *Service) MenuItems(ctx context.Context) ([]api.MenuItem, error) {
	return querycache.Fetch(ctx, s.cache, KeyMenuItems, CatalogPolicy, s.backend.FetchMenuItems)
}

func (s *Service) MenuCategories(ctx context.Context) ([]api.Category, error) {
	return querycache.Fetch(ctx, s.cache, KeyMenuCategories, CatalogPolicy, s.backend.FetchMenuCategories)
}

func (s *Service) MenuItem(ctx context.Context, id string) (api.MenuItem, error) {
	return querycache.Fetch(ctx, s.cache, MenuItemKey(id), CatalogPolicy, func(ctx context.Context) (api.MenuItem, error) {
		return s.backend.FetchMenuItem(ctx, id)
	})
}

func (s *Service) MenuVersion(ctx context.Context) (api.MenuVersion, error) {
	return querycache.Fetch(ctx, s.cache, KeyMenuVersion, CatalogPolicy, s.backend.FetchMenuVersion)
}

func (s *Service) ActiveBanners(ctx context.Context) ([]api.Banner, error) {
	return querycache.Fetch(ctx, s.cache, KeyBannersActive, CatalogPolicy, s.backend.FetchActiveBanners)
}

func (s *Service) Banners(ctx context.Context) ([]api.Banner, error) {
	return querycache.Fetch(ctx, s.cache, KeyBannersAll, CatalogPolicy, s.backend.FetchBanners)
}

func (s *Service) Banner(ctx context.Context, id string) (api.Banner, error) {
	return querycache.Fetch(ctx, s.cache, BannerKey(id), CatalogPolicy, func(ctx context.Context) (api.Banner, error) {
		return s.backend.FetchBanner(ctx, id)
	})
}

// MyOrders lists the signed-in customer's orders.
func (s *Service) MyOrders(ctx context.Context) ([]api.Order, error) {
	return querycache.Fetch(ctx, s.cache, KeyOrdersMine, OrdersPolicy, s.backend.FetchMyOrders)
}

// Invalidate drops key and its descendants. Implements versions.Invalidator.
func (s *Service) Invalidate(key querycache.Key) {
	n := s.cache.Invalidate(key)
	s.logger.Info("cache invalidated", zap.String("key", key.String()), zap.Int("entries", n))
}
