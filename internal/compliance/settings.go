package compliance

import (
	"sync"

	"whatsapp-compliance-gateway/internal/models"
)

// SettingsSource loads the singleton compliance settings row.
type SettingsSource interface {
	Settings() (*models.ComplianceSettings, error)
}

// SettingsCache is a process-wide read-through cache over the settings row.
// The engine reads settings on every decision; the row almost never changes,
// so it is loaded once and held until Invalidate is called by the admin
// surface after a configuration change.
type SettingsCache struct {
	source SettingsSource

	mu     sync.RWMutex
	cached *models.ComplianceSettings
}

func NewSettingsCache(source SettingsSource) *SettingsCache {
	return &SettingsCache{source: source}
}

func (c *SettingsCache) Settings() (*models.ComplianceSettings, error) {
	c.mu.RLock()
	if c.cached != nil {
		s := c.cached
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return c.cached, nil
	}
	s, err := c.source.Settings()
	if err != nil {
		return nil, err
	}
	c.cached = s
	return s, nil
}

// Invalidate drops the cached row; the next read reloads from the store.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
