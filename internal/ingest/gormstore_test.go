package ingest

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
		WithoutReturning:     true,
	}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	return NewGormStore(db, &config.SyncConfig{
		BatchTimeout:      30 * time.Second,
		OrderBatchTimeout: 60 * time.Second,
	}), mock
}

func TestTenantByIDForUser(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "store_name", "shopify_domain", "access_token", "user_id"}).
		AddRow(1, "acme", "acme.myshopify.com", "shpat_tok", 7)
	mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE id = \$1 AND user_id = \$2`).
		WillReturnRows(rows)

	tenant, err := store.TenantByIDForUser(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.StoreName)
	assert.Equal(t, "shpat_tok", tenant.AccessToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantByIDForUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.TenantByIDForUser(context.Background(), 42, 7)
	assert.ErrorIs(t, err, ErrStoreNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCustomersConflictsOnTenantAndExternalID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "customers" .* ON CONFLICT \("tenant_id","external_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	batch := []shopify.Customer{
		{ID: 501, Email: "a@example.com", TotalSpent: "120.50", OrdersCount: 3},
		{ID: 502, Email: "b@example.com", TotalSpent: "not-a-number"},
	}
	err := store.UpsertCustomers(context.Background(), 1, batch)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCustomersRollsBackWholeBatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "customers"`).
		WillReturnError(syscall.ECONNRESET)
	mock.ExpectRollback()

	err := store.UpsertCustomers(context.Background(), 1, []shopify.Customer{{ID: 501}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TagConnReset, te.Tag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCustomersEmptyBatchIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.UpsertCustomers(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProducts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products" .* ON CONFLICT \("tenant_id","external_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpsertProducts(context.Background(), 1, []shopify.Product{
		{ID: 10, Title: "Widget", Variants: []byte(`[{"sku":"W-1","inventory_quantity":4}]`)},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOrders(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "orders" .* ON CONFLICT \("tenant_id","external_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	batch := []shopify.Order{
		{ID: 20, OrderNumber: 1001, TotalPrice: "25.00", Customer: &shopify.OrderCustomerRef{ID: 501}},
		{ID: 21, OrderNumber: 1002, TotalPrice: "10.00", Customer: &shopify.OrderCustomerRef{ID: 999}},
	}
	err := store.UpsertOrders(context.Background(), 1, batch, map[string]uint{"501": 33})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCheckouts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "abandoned_checkouts" .* ON CONFLICT \("tenant_id","external_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpsertCheckouts(context.Background(), 1, []shopify.Checkout{
		{ID: 40, Email: "c@example.com", TotalPrice: "15.99"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerIDsByExternalID(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "external_id"}).
		AddRow(33, "501").
		AddRow(34, "502")
	mock.ExpectQuery(`SELECT "id","external_id" FROM "customers" WHERE tenant_id = \$1 AND external_id IN \(\$2,\$3,\$4\)`).
		WithArgs(1, "501", "502", "999").
		WillReturnRows(rows)

	ids, err := store.CustomerIDsByExternalID(context.Background(), 1, []string{"501", "502", "999"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint{"501": 33, "502": 34}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerIDsByExternalIDEmptyInput(t *testing.T) {
	store, mock := newMockStore(t)

	ids, err := store.CustomerIDsByExternalID(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		tag  Tag
	}{
		{"deadline exceeded", context.DeadlineExceeded, TagOperationTimeout},
		{"connection reset", syscall.ECONNRESET, TagConnReset},
		{"connection refused", syscall.ECONNREFUSED, TagServerUnreachable},
		{"broken pipe", syscall.EPIPE, TagConnClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)
			var te *TransientError
			require.ErrorAs(t, classified, &te)
			assert.Equal(t, tt.tag, te.Tag)
		})
	}

	t.Run("constraint violation passes through", func(t *testing.T) {
		err := gorm.ErrDuplicatedKey
		assert.Equal(t, err, classify(err))
		assert.False(t, IsTransient(classify(err)))
	})
}

func TestParseMoney(t *testing.T) {
	assert.Equal(t, 120.5, parseMoney("120.50"))
	assert.Equal(t, 0.0, parseMoney(""))
	assert.Equal(t, 0.0, parseMoney("abc"))
	assert.Equal(t, 99.0, parseMoney(" 99 "))
}
