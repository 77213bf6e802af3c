package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore records every write in arrival order so tests can assert the
// save sequence and the resolution maps handed to the order upsert.
type fakeStore struct {
	mu sync.Mutex

	tenants []model.Tenant

	saveSequence []string
	customers    map[uint]map[string]shopify.Customer
	orderBatches []orderBatch

	upsertErr       map[string]error
	lookupOverrides map[string]uint
}

type orderBatch struct {
	tenantID    uint
	orders      []shopify.Order
	customerIDs map[string]uint
}

func newFakeStore(tenants ...model.Tenant) *fakeStore {
	return &fakeStore{
		tenants:   tenants,
		customers: map[uint]map[string]shopify.Customer{},
		upsertErr: map[string]error{},
	}
}

func (f *fakeStore) TenantsByUser(ctx context.Context, userID uint) ([]model.Tenant, error) {
	var owned []model.Tenant
	for _, tn := range f.tenants {
		if tn.UserID == userID {
			owned = append(owned, tn)
		}
	}
	return owned, nil
}

func (f *fakeStore) TenantByIDForUser(ctx context.Context, tenantID, userID uint) (*model.Tenant, error) {
	for _, tn := range f.tenants {
		if tn.ID == tenantID && tn.UserID == userID {
			out := tn
			return &out, nil
		}
	}
	return nil, ErrStoreNotFound
}

func (f *fakeStore) record(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveSequence = append(f.saveSequence, kind)
}

func (f *fakeStore) UpsertCustomers(ctx context.Context, tenantID uint, batch []shopify.Customer) error {
	if err := f.upsertErr["customers"]; err != nil {
		return err
	}
	f.record("customers")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.customers[tenantID] == nil {
		f.customers[tenantID] = map[string]shopify.Customer{}
	}
	for _, c := range batch {
		f.customers[tenantID][strconv.FormatInt(c.ID, 10)] = c
	}
	return nil
}

func (f *fakeStore) UpsertProducts(ctx context.Context, tenantID uint, batch []shopify.Product) error {
	if err := f.upsertErr["products"]; err != nil {
		return err
	}
	f.record("products")
	return nil
}

func (f *fakeStore) UpsertOrders(ctx context.Context, tenantID uint, batch []shopify.Order, customerIDs map[string]uint) error {
	if err := f.upsertErr["orders"]; err != nil {
		return err
	}
	f.record("orders")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderBatches = append(f.orderBatches, orderBatch{tenantID: tenantID, orders: batch, customerIDs: customerIDs})
	return nil
}

func (f *fakeStore) UpsertCheckouts(ctx context.Context, tenantID uint, batch []shopify.Checkout) error {
	if err := f.upsertErr["checkouts"]; err != nil {
		return err
	}
	f.record("checkouts")
	return nil
}

func (f *fakeStore) CustomerIDsByExternalID(ctx context.Context, tenantID uint, externalIDs []string) (map[string]uint, error) {
	ids := map[string]uint{}
	for _, ext := range externalIDs {
		if id, ok := f.lookupOverrides[ext]; ok {
			ids[ext] = id
			continue
		}
		if _, ok := f.customers[tenantID][ext]; ok {
			// Derive a stable fake row id from the external id.
			n, _ := strconv.ParseUint(ext, 10, 32)
			ids[ext] = uint(n)
		}
	}
	return ids, nil
}

// fakeFetcher serves canned collections per store domain.
type fakeFetcher struct {
	products  []shopify.Product
	orders    []shopify.Order
	customers []shopify.Customer
	checkouts []shopify.Checkout
	err       error
}

func (f *fakeFetcher) FetchProducts(ctx context.Context) ([]shopify.Product, error) {
	return f.products, f.err
}

func (f *fakeFetcher) FetchOrders(ctx context.Context) ([]shopify.Order, error) {
	return f.orders, f.err
}

func (f *fakeFetcher) FetchCustomers(ctx context.Context) ([]shopify.Customer, error) {
	return f.customers, f.err
}

func (f *fakeFetcher) FetchAbandonedCheckouts(ctx context.Context) ([]shopify.Checkout, error) {
	return f.checkouts, f.err
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		ChunkSize:      50,
		OrderChunkSize: 20,
		PacingDelay:    time.Millisecond,
		RetryAttempts:  3,
		RetryBackoff:   time.Millisecond,
	}
}

func singleFetcherFactory(f Fetcher) FetcherFactory {
	return func(domain, accessToken string) Fetcher { return f }
}

func TestSyncStoreSavesKindsInOrder(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, StoreName: "acme", ShopifyDomain: "acme.myshopify.com", AccessToken: "tok"})
	fetcher := &fakeFetcher{
		products:  []shopify.Product{{ID: 10, Title: "Widget"}},
		orders:    []shopify.Order{{ID: 20, TotalPrice: "9.99"}},
		customers: []shopify.Customer{{ID: 30, Email: "a@example.com"}},
		checkouts: []shopify.Checkout{{ID: 40, TotalPrice: "4.50"}},
	}
	syncer := NewSyncer(store, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	stats, err := syncer.SyncStore(context.Background(), 7, 1)

	require.NoError(t, err)
	assert.Equal(t, Stats{Products: 1, Orders: 1, Customers: 1, AbandonedCheckouts: 1}, stats)
	assert.Equal(t, []string{"customers", "products", "orders", "checkouts"}, store.saveSequence)
}

func TestSyncStoreResolvesCustomersIngestedInSameRun(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, StoreName: "acme", AccessToken: "tok"})
	fetcher := &fakeFetcher{
		customers: []shopify.Customer{{ID: 501, Email: "known@example.com"}},
		orders: []shopify.Order{
			{ID: 1, Customer: &shopify.OrderCustomerRef{ID: 501}},
			{ID: 2, Customer: &shopify.OrderCustomerRef{ID: 999}},
			{ID: 3},
		},
	}
	syncer := NewSyncer(store, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 1)
	require.NoError(t, err)

	require.Len(t, store.orderBatches, 1)
	batch := store.orderBatches[0]
	assert.Equal(t, map[string]uint{"501": 501}, batch.customerIDs,
		"only the customer persisted in this run resolves; unknown references stay unmapped")
	assert.Len(t, batch.orders, 3)
}

func TestSyncStoreRerunIsIdempotent(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, AccessToken: "tok"})
	fetcher := &fakeFetcher{
		customers: []shopify.Customer{{ID: 501}, {ID: 502}},
		orders:    []shopify.Order{{ID: 1, Customer: &shopify.OrderCustomerRef{ID: 501}}},
	}
	syncer := NewSyncer(store, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	first, err := syncer.SyncStore(context.Background(), 7, 1)
	require.NoError(t, err)
	second, err := syncer.SyncStore(context.Background(), 7, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, store.customers[1], 2, "re-ingesting the same records must update in place, not duplicate")
	require.Len(t, store.orderBatches, 2)
	assert.Equal(t, store.orderBatches[0].customerIDs, store.orderBatches[1].customerIDs)
}

func TestSyncStoreChunksLargeCollections(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, AccessToken: "tok"})
	orders := make([]shopify.Order, 45)
	for i := range orders {
		orders[i] = shopify.Order{ID: int64(i + 1)}
	}
	fetcher := &fakeFetcher{orders: orders}
	syncer := NewSyncer(store, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 1)
	require.NoError(t, err)

	require.Len(t, store.orderBatches, 3)
	assert.Len(t, store.orderBatches[0].orders, 20)
	assert.Len(t, store.orderBatches[1].orders, 20)
	assert.Len(t, store.orderBatches[2].orders, 5)
}

func TestSyncStoreUnknownStore(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, AccessToken: "tok"})
	syncer := NewSyncer(store, singleFetcherFactory(&fakeFetcher{}), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 99)
	assert.ErrorIs(t, err, ErrStoreNotFound)

	// Owned by a different user looks exactly like missing.
	_, err = syncer.SyncStore(context.Background(), 8, 1)
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestSyncStoreMissingCredential(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, StoreName: "acme"})
	called := false
	factory := func(domain, accessToken string) Fetcher {
		called = true
		return &fakeFetcher{}
	}
	syncer := NewSyncer(store, factory, testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 1)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.False(t, called, "a store without credentials must not be fetched")
}

func TestSyncStoreFetchFailureNamesStage(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, AccessToken: "tok"})
	fetcher := &fakeFetcher{err: errors.New("401 unauthorized")}
	syncer := NewSyncer(store, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching")
	assert.Empty(t, store.saveSequence, "nothing may be saved when the fetch fails")
}

func TestSyncStoreRetriesTransientUpsert(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, AccessToken: "tok"})
	attempts := 0
	flaky := &flakyStore{fakeStore: store, failures: 2, attempts: &attempts}
	fetcher := &fakeFetcher{customers: []shopify.Customer{{ID: 1}}}
	syncer := NewSyncer(flaky, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSyncStoreDoesNotRetryConstraintViolation(t *testing.T) {
	store := newFakeStore(model.Tenant{ID: 1, UserID: 7, AccessToken: "tok"})
	constraintErr := errors.New("null value in column violates not-null constraint")
	store.upsertErr["customers"] = constraintErr
	fetcher := &fakeFetcher{customers: []shopify.Customer{{ID: 1}}}
	syncer := NewSyncer(store, singleFetcherFactory(fetcher), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncStore(context.Background(), 7, 1)
	require.ErrorIs(t, err, constraintErr)
	assert.Contains(t, err.Error(), "saving_customers")
}

// flakyStore fails the customer upsert a set number of times with a transient
// condition, then delegates.
type flakyStore struct {
	*fakeStore
	failures int
	attempts *int
}

func (f *flakyStore) UpsertCustomers(ctx context.Context, tenantID uint, batch []shopify.Customer) error {
	*f.attempts++
	if *f.attempts <= f.failures {
		return Transient(TagConnReset, errors.New("write: connection reset by peer"))
	}
	return f.fakeStore.UpsertCustomers(ctx, tenantID, batch)
}

func TestSyncAllStoresIsolatesFailures(t *testing.T) {
	store := newFakeStore(
		model.Tenant{ID: 1, UserID: 7, StoreName: "alpha", AccessToken: "tok"},
		model.Tenant{ID: 2, UserID: 7, StoreName: "bravo"},
		model.Tenant{ID: 3, UserID: 7, StoreName: "charlie", AccessToken: "tok"},
	)
	factory := func(domain, accessToken string) Fetcher { return &fakeFetcher{} }
	syncer := NewSyncer(store, factory, testSyncConfig(), zap.NewNop())

	summary, err := syncer.SyncAllStores(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalStores)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailCount)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, "alpha", summary.Results[0].StoreName)
	assert.Equal(t, "success", summary.Results[0].Status)
	assert.Equal(t, "bravo", summary.Results[1].StoreName)
	assert.Equal(t, "failed", summary.Results[1].Status)
	assert.Equal(t, "missing access token", summary.Results[1].Error)
	assert.Equal(t, "success", summary.Results[2].Status)
}

func TestSyncAllStoresPacesBetweenStores(t *testing.T) {
	store := newFakeStore(
		model.Tenant{ID: 1, UserID: 7, StoreName: "alpha", AccessToken: "tok"},
		model.Tenant{ID: 2, UserID: 7, StoreName: "bravo", AccessToken: "tok"},
	)
	var fetchTimes []time.Time
	var mu sync.Mutex
	factory := func(domain, accessToken string) Fetcher {
		mu.Lock()
		fetchTimes = append(fetchTimes, time.Now())
		mu.Unlock()
		return &fakeFetcher{}
	}
	cfg := testSyncConfig()
	cfg.PacingDelay = 30 * time.Millisecond
	syncer := NewSyncer(store, factory, cfg, zap.NewNop())

	_, err := syncer.SyncAllStores(context.Background(), 7)
	require.NoError(t, err)

	require.Len(t, fetchTimes, 2)
	assert.GreaterOrEqual(t, fetchTimes[1].Sub(fetchTimes[0]), 30*time.Millisecond)
}

func TestSyncAllStoresNoStores(t *testing.T) {
	store := newFakeStore()
	syncer := NewSyncer(store, singleFetcherFactory(&fakeFetcher{}), testSyncConfig(), zap.NewNop())

	_, err := syncer.SyncAllStores(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNoStores)
}

func TestSyncAllStoresStopsOnCancel(t *testing.T) {
	store := newFakeStore(
		model.Tenant{ID: 1, UserID: 7, StoreName: "alpha", AccessToken: "tok"},
		model.Tenant{ID: 2, UserID: 7, StoreName: "bravo", AccessToken: "tok"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	factory := func(domain, accessToken string) Fetcher {
		cancel()
		return &fakeFetcher{}
	}
	cfg := testSyncConfig()
	cfg.PacingDelay = time.Hour
	syncer := NewSyncer(store, factory, cfg, zap.NewNop())

	_, err := syncer.SyncAllStores(ctx, 7)
	assert.ErrorIs(t, err, context.Canceled)
}
