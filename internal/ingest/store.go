package ingest

import (
	"context"

	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
)

// Stats counts the records ingested for one store in a single run.
type Stats struct {
	Products           int `json:"products"`
	Orders             int `json:"orders"`
	Customers          int `json:"customers"`
	AbandonedCheckouts int `json:"abandonedCheckouts"`
}

// Store is the persistence surface the pipeline writes through. Each Upsert
// call commits its whole batch atomically or not at all, keyed on
// (tenant_id, external_id) so re-ingesting a record updates in place.
type Store interface {
	TenantsByUser(ctx context.Context, userID uint) ([]model.Tenant, error)
	TenantByIDForUser(ctx context.Context, tenantID, userID uint) (*model.Tenant, error)

	UpsertCustomers(ctx context.Context, tenantID uint, batch []shopify.Customer) error
	UpsertProducts(ctx context.Context, tenantID uint, batch []shopify.Product) error
	UpsertOrders(ctx context.Context, tenantID uint, batch []shopify.Order, customerIDs map[string]uint) error
	UpsertCheckouts(ctx context.Context, tenantID uint, batch []shopify.Checkout) error

	// CustomerIDsByExternalID maps external customer ids to locally persisted
	// row ids for one tenant. Ids with no local row are simply absent.
	CustomerIDsByExternalID(ctx context.Context, tenantID uint, externalIDs []string) (map[string]uint, error)
}
