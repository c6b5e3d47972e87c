package cache

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

type DocumentViewer interface {
	View(ctx context.Context, fn func(doc *storage.Document) error) error
}

// OrderCache keeps orders by tracking number for the public tracking path.
// Keys are case-insensitive.
type OrderCache struct {
	mu     sync.RWMutex
	cache  map[string]*storage.Order
	store  DocumentViewer
	logger *zap.Logger
}

func NewOrderCache(store DocumentViewer, logger *zap.Logger) *OrderCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderCache{
		cache:  make(map[string]*storage.Order),
		store:  store,
		logger: logger.With(zap.String("component", "order_cache")),
	}
}

func key(trackingNumber string) string {
	return strings.ToUpper(strings.TrimSpace(trackingNumber))
}

// LoadInitialData replaces the cache contents with every order in the store.
func (c *OrderCache) LoadInitialData(ctx context.Context) error {
	fresh := make(map[string]*storage.Order)
	err := c.store.View(ctx, func(doc *storage.Document) error {
		for i := range doc.Orders {
			o := doc.Orders[i].Clone()
			fresh[key(o.TrackingNumber)] = &o
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cache = fresh
	c.mu.Unlock()

	metrics.TrackingCacheItems.Set(float64(len(fresh)))
	c.logger.Info("Loaded orders into tracking cache", zap.Int("count", len(fresh)))
	return nil
}

func (c *OrderCache) Get(trackingNumber string) (*storage.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, found := c.cache[key(trackingNumber)]
	if !found {
		return nil, false
	}
	orderCopy := order.Clone()
	return &orderCopy, true
}

// Set stores order unless the cache already holds a newer copy of it.
func (c *OrderCache) Set(order storage.Order) {
	if order.TrackingNumber == "" {
		return
	}
	orderCopy := order.Clone()
	k := key(order.TrackingNumber)

	c.mu.Lock()
	if cached, found := c.cache[k]; found && newer(cached, &orderCopy) {
		c.mu.Unlock()
		c.logger.Debug("Cache set skipped, stale copy", zap.String("tracking_number", order.TrackingNumber))
		return
	}
	c.cache[k] = &orderCopy
	size := len(c.cache)
	c.mu.Unlock()

	metrics.TrackingCacheItems.Set(float64(size))
	c.logger.Debug("Cache set", zap.String("tracking_number", order.TrackingNumber), zap.String("status", order.Status))
}

// newer reports whether a is a later revision of the same order than b.
func newer(a, b *storage.Order) bool {
	if a.ID != b.ID {
		return false
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return len(a.Stages) > len(b.Stages)
}

func (c *OrderCache) Delete(trackingNumber string) {
	c.mu.Lock()
	k := key(trackingNumber)
	_, found := c.cache[k]
	delete(c.cache, k)
	size := len(c.cache)
	c.mu.Unlock()

	if found {
		metrics.TrackingCacheItems.Set(float64(size))
		c.logger.Debug("Cache delete", zap.String("tracking_number", trackingNumber))
	}
}

// Reset drops every entry; lookups fall through to the store until refilled.
func (c *OrderCache) Reset() {
	c.mu.Lock()
	c.cache = make(map[string]*storage.Order)
	c.mu.Unlock()

	metrics.TrackingCacheItems.Set(0)
	c.logger.Info("Tracking cache reset")
}

func (c *OrderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
