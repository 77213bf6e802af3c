package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/config"
	"github.com/shank50/metriq/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stage names the steps of a per-store sync run.
type Stage string

const (
	StageFetching        Stage = "fetching"
	StageSavingCustomers Stage = "saving_customers"
	StageSavingProducts  Stage = "saving_products"
	StageSavingOrders    Stage = "saving_orders"
	StageSavingCheckouts Stage = "saving_checkouts"
	StageDone            Stage = "done"
)

var (
	// ErrNoStores means the user owns nothing to sync.
	ErrNoStores = errors.New("no stores found to sync")

	// ErrStoreNotFound means the store does not exist or is not owned by the caller.
	ErrStoreNotFound = errors.New("store not found")

	// ErrMissingCredential means the store has no stored access token.
	ErrMissingCredential = errors.New("missing access token")
)

// Fetcher pulls complete resource collections for one store.
type Fetcher interface {
	FetchProducts(ctx context.Context) ([]shopify.Product, error)
	FetchOrders(ctx context.Context) ([]shopify.Order, error)
	FetchCustomers(ctx context.Context) ([]shopify.Customer, error)
	FetchAbandonedCheckouts(ctx context.Context) ([]shopify.Checkout, error)
}

// FetcherFactory builds a Fetcher for a store's domain and credential.
type FetcherFactory func(domain, accessToken string) Fetcher

// TenantResult is one store's outcome within a sync-all run.
type TenantResult struct {
	StoreName string `json:"storeName"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Summary aggregates the outcome of a sync-all run.
type Summary struct {
	TotalStores  int            `json:"totalStores"`
	SuccessCount int            `json:"successCount"`
	FailCount    int            `json:"failCount"`
	Results      []TenantResult `json:"results"`
}

func (s *Summary) add(storeName string, err error) {
	if err != nil {
		s.FailCount++
		s.Results = append(s.Results, TenantResult{StoreName: storeName, Status: "failed", Error: err.Error()})
		return
	}
	s.SuccessCount++
	s.Results = append(s.Results, TenantResult{StoreName: storeName, Status: "success"})
}

// Syncer sequences fetch, chunk, resolve, and upsert for the four entity
// kinds of a store, and fans that out across a user's stores.
type Syncer struct {
	store      Store
	newFetcher FetcherFactory
	retrier    *Retrier
	log        *zap.Logger

	chunkSize      int
	orderChunkSize int
	pacing         time.Duration
}

// NewSyncer creates a syncer over the given store and fetcher factory.
func NewSyncer(store Store, newFetcher FetcherFactory, cfg *config.SyncConfig, log *zap.Logger) *Syncer {
	return &Syncer{
		store:          store,
		newFetcher:     newFetcher,
		retrier:        NewRetrier(cfg.RetryAttempts, cfg.RetryBackoff, log),
		log:            log,
		chunkSize:      cfg.ChunkSize,
		orderChunkSize: cfg.OrderChunkSize,
		pacing:         cfg.PacingDelay,
	}
}

// SyncStore runs the full pipeline for one store owned by userID.
func (s *Syncer) SyncStore(ctx context.Context, userID, storeID uint) (Stats, error) {
	tenant, err := s.store.TenantByIDForUser(ctx, storeID, userID)
	if err != nil {
		return Stats{}, err
	}
	if tenant.AccessToken == "" {
		return Stats{}, ErrMissingCredential
	}
	return s.syncTenant(ctx, tenant)
}

// SyncAllStores syncs every store the user owns, one store at a time with a
// pacing delay between them so a burst of full syncs cannot saturate the
// Shopify rate limit or the connection pool. One store's failure never
// aborts its siblings; it becomes a failed entry in the summary.
func (s *Syncer) SyncAllStores(ctx context.Context, userID uint) (*Summary, error) {
	tenants, err := s.store.TenantsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, ErrNoStores
	}

	summary := &Summary{TotalStores: len(tenants)}
	for i := range tenants {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pacing):
			}
		}

		tenant := tenants[i]
		if tenant.AccessToken == "" {
			s.log.Warn("skipping store without credentials",
				zap.Uint("tenant_id", tenant.ID),
				zap.String("store", tenant.StoreName))
			prometheus.RecordStoreSync("failed")
			summary.add(tenant.StoreName, ErrMissingCredential)
			continue
		}

		_, err := s.syncTenant(ctx, &tenant)
		summary.add(tenant.StoreName, err)
	}

	s.log.Info("sync-all run complete",
		zap.Uint("user_id", userID),
		zap.Int("total", summary.TotalStores),
		zap.Int("succeeded", summary.SuccessCount),
		zap.Int("failed", summary.FailCount))
	return summary, nil
}

// syncTenant walks one store through the stage machine. Entity kinds are
// saved in a fixed order because order rows resolve against customers
// persisted in the same run.
func (s *Syncer) syncTenant(ctx context.Context, tenant *model.Tenant) (Stats, error) {
	log := s.log.With(
		zap.Uint("tenant_id", tenant.ID),
		zap.String("domain", tenant.ShopifyDomain))
	log.Info("starting store sync")

	fetcher := s.newFetcher(tenant.ShopifyDomain, tenant.AccessToken)

	// The four fetches are independent network walks; run them together.
	var (
		products  []shopify.Product
		orders    []shopify.Order
		customers []shopify.Customer
		checkouts []shopify.Checkout
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = fetcher.FetchProducts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = fetcher.FetchOrders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		customers, err = fetcher.FetchCustomers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		checkouts, err = fetcher.FetchAbandonedCheckouts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return s.fail(log, StageFetching, err)
	}

	log.Info("fetched store data",
		zap.Int("products", len(products)),
		zap.Int("orders", len(orders)),
		zap.Int("customers", len(customers)),
		zap.Int("abandoned_checkouts", len(checkouts)))

	if err := s.saveCustomers(ctx, tenant.ID, customers); err != nil {
		return s.fail(log, StageSavingCustomers, err)
	}
	if err := s.saveProducts(ctx, tenant.ID, products); err != nil {
		return s.fail(log, StageSavingProducts, err)
	}
	if err := s.saveOrders(ctx, tenant.ID, orders); err != nil {
		return s.fail(log, StageSavingOrders, err)
	}
	if err := s.saveCheckouts(ctx, tenant.ID, checkouts); err != nil {
		return s.fail(log, StageSavingCheckouts, err)
	}

	log.Info("store sync complete")
	prometheus.RecordStoreSync("success")
	return Stats{
		Products:           len(products),
		Orders:             len(orders),
		Customers:          len(customers),
		AbandonedCheckouts: len(checkouts),
	}, nil
}

func (s *Syncer) fail(log *zap.Logger, stage Stage, err error) (Stats, error) {
	prometheus.RecordStoreSync("failed")
	log.Error("store sync failed", zap.String("stage", string(stage)), zap.Error(err))
	return Stats{}, fmt.Errorf("%s: %w", stage, err)
}

func (s *Syncer) saveCustomers(ctx context.Context, tenantID uint, customers []shopify.Customer) error {
	for _, batch := range Chunk(customers, s.chunkSize) {
		batch := batch
		err := s.retrier.Do(ctx, func() error {
			return s.store.UpsertCustomers(ctx, tenantID, batch)
		})
		if err != nil {
			return err
		}
		prometheus.RecordRowsUpserted("customers", len(batch))
	}
	return nil
}

func (s *Syncer) saveProducts(ctx context.Context, tenantID uint, products []shopify.Product) error {
	for _, batch := range Chunk(products, s.chunkSize) {
		batch := batch
		err := s.retrier.Do(ctx, func() error {
			return s.store.UpsertProducts(ctx, tenantID, batch)
		})
		if err != nil {
			return err
		}
		prometheus.RecordRowsUpserted("products", len(batch))
	}
	return nil
}

func (s *Syncer) saveOrders(ctx context.Context, tenantID uint, orders []shopify.Order) error {
	for _, batch := range Chunk(orders, s.orderChunkSize) {
		batch := batch
		customerIDs, err := s.resolveCustomers(ctx, tenantID, batch)
		if err != nil {
			return err
		}
		err = s.retrier.Do(ctx, func() error {
			return s.store.UpsertOrders(ctx, tenantID, batch, customerIDs)
		})
		if err != nil {
			return err
		}
		prometheus.RecordRowsUpserted("orders", len(batch))
	}
	return nil
}

func (s *Syncer) saveCheckouts(ctx context.Context, tenantID uint, checkouts []shopify.Checkout) error {
	for _, batch := range Chunk(checkouts, s.chunkSize) {
		batch := batch
		err := s.retrier.Do(ctx, func() error {
			return s.store.UpsertCheckouts(ctx, tenantID, batch)
		})
		if err != nil {
			return err
		}
		prometheus.RecordRowsUpserted("abandoned_checkouts", len(batch))
	}
	return nil
}

// resolveCustomers maps the distinct customer ids referenced by one batch of
// orders to locally persisted customer rows. An order whose customer is not
// in the map keeps a null reference; the customer may simply not have been
// ingested, which is not an error.
func (s *Syncer) resolveCustomers(ctx context.Context, tenantID uint, batch []shopify.Order) (map[string]uint, error) {
	seen := make(map[string]struct{}, len(batch))
	externalIDs := make([]string, 0, len(batch))
	for _, o := range batch {
		if o.Customer == nil {
			continue
		}
		id := strconv.FormatInt(o.Customer.ID, 10)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		externalIDs = append(externalIDs, id)
	}

	var ids map[string]uint
	err := s.retrier.Do(ctx, func() error {
		var lookupErr error
		ids, lookupErr = s.store.CustomerIDsByExternalID(ctx, tenantID, externalIDs)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
