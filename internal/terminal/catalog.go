package terminal

import (
	"context"
	"fmt"
	"sync"

	"counterpos/backend/internal/domain"
)

// Source is the read side of the back office the terminals depend on.
type Source interface {
	ListCatalogItems(ctx context.Context) ([]domain.CatalogItem, error)
	GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error)
	GetTaxConfig(ctx context.Context) (domain.TaxConfig, error)
}

// Catalog caches catalog items, the company profile and tax settings for
// every terminal in the process.
type Catalog struct {
	source Source

	mu        sync.RWMutex
	items     map[string]domain.CatalogItem
	order     []string
	profile   domain.CompanyProfile
	taxConfig domain.TaxConfig
	loaded    bool
}

func NewCatalog(source Source) *Catalog {
	return &Catalog{source: source, items: map[string]domain.CatalogItem{}}
}

// Refresh reloads everything from the source. On error the previous
// snapshot is kept.
func (c *Catalog) Refresh(ctx context.Context) error {
	items, err := c.source.ListCatalogItems(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	profile, err := c.source.GetCompanyProfile(ctx)
	if err != nil {
		return fmt.Errorf("load company profile: %w", err)
	}
	taxConfig, err := c.source.GetTaxConfig(ctx)
	if err != nil {
		return fmt.Errorf("load tax config: %w", err)
	}
	if taxConfig.DefaultTaxMode == "" {
		taxConfig.DefaultTaxMode = domain.TaxModeInclusive
	}
	if taxConfig.SellerStateCode == "" {
		taxConfig.SellerStateCode = profile.StateCode
	}

	byID := make(map[string]domain.CatalogItem, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		byID[item.ID] = item
		order = append(order, item.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = byID
	c.order = order
	c.profile = profile
	c.taxConfig = taxConfig
	c.loaded = true
	return nil
}

func (c *Catalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refresh(ctx)
}

func (c *Catalog) Item(id string) (domain.CatalogItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

// Items returns the catalog in source order.
func (c *Catalog) Items() []domain.CatalogItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.CatalogItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *Catalog) Profile() domain.CompanyProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Catalog) TaxConfig() domain.TaxConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taxConfig
}

// Decrement applies a sale to the cached stock so the next add-to-cart sees
// it before the recorder has written anything.
func (c *Catalog) Decrement(sold map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, qty := range sold {
		item, ok := c.items[id]
		if !ok {
			continue
		}
		item.Stock = max(item.Stock-qty, 0)
		c.items[id] = item
	}
}
