package ldap

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ProviderData is handed from the provider to its resources, data sources
// and the connection self-test.
type ProviderData struct {
	Pool       *ConnectionPool
	Discoverer *Discoverer
}

// NewProviderData creates a new provider data wrapper.
func NewProviderData(pool *ConnectionPool, discoverer *Discoverer) *ProviderData {
	return &ProviderData{Pool: pool, Discoverer: discoverer}
}

// ValidateConnection binds once with the configured credentials.
func (pd *ProviderData) ValidateConnection(ctx context.Context) error {
	if pd.Pool == nil {
		return fmt.Errorf("LDAP connection pool is not initialized")
	}

	err := pd.Pool.With(ctx, func(c *Connection) error {
		return c.Bind(ctx)
	})
	if err != nil {
		return err
	}

	stats := pd.Pool.Stats()
	tflog.Debug(ctx, "Provider data validation successful", map[string]any{
		"pool_max":     stats.Max,
		"pool_created": stats.Created,
	})
	return nil
}

// RootDN returns the configured root DN.
func (pd *ProviderData) RootDN() string {
	return pd.Pool.Config().RootDN
}

// Close releases all pooled connections.
func (pd *ProviderData) Close(ctx context.Context) error {
	if pd.Pool == nil {
		return nil
	}
	return pd.Pool.Close(ctx)
}
