package ingest

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/config"
	"github.com/shank50/metriq/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on a gorm Postgres handle. The handle is
// injected at construction; the store owns no connection lifecycle.
type GormStore struct {
	db           *gorm.DB
	batchTimeout time.Duration
	orderTimeout time.Duration
}

// NewGormStore creates a store bound to db with the configured batch timeouts.
func NewGormStore(db *gorm.DB, cfg *config.SyncConfig) *GormStore {
	return &GormStore{
		db:           db,
		batchTimeout: cfg.BatchTimeout,
		orderTimeout: cfg.OrderBatchTimeout,
	}
}

// TenantsByUser returns every store owned by the user.
func (s *GormStore) TenantsByUser(ctx context.Context, userID uint) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tenants).Error
	if err != nil {
		return nil, classify(err)
	}
	return tenants, nil
}

// TenantByIDForUser returns the store only if the user owns it; a tenant
// owned by someone else is indistinguishable from a missing one.
func (s *GormStore) TenantByIDForUser(ctx context.Context, tenantID, userID uint) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", tenantID, userID).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, classify(err)
	}
	return &tenant, nil
}

// UpsertCustomers writes one batch of customers atomically.
func (s *GormStore) UpsertCustomers(ctx context.Context, tenantID uint, batch []shopify.Customer) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]model.Customer, 0, len(batch))
	for _, c := range batch {
		rows = append(rows, model.Customer{
			ExternalID:  strconv.FormatInt(c.ID, 10),
			TenantID:    tenantID,
			FirstName:   c.FirstName,
			LastName:    c.LastName,
			Email:       c.Email,
			Phone:       c.Phone,
			OrdersCount: c.OrdersCount,
			TotalSpent:  parseMoney(c.TotalSpent),
			State:       c.State,
		})
	}
	return s.upsert(ctx, s.batchTimeout, "upsert_customers", func(tx *gorm.DB) error {
		return tx.Clauses(onExternalConflict(
			"first_name", "last_name", "email", "phone", "orders_count", "total_spent", "state", "updated_at",
		)).Create(&rows).Error
	})
}

// UpsertProducts writes one batch of products atomically.
func (s *GormStore) UpsertProducts(ctx context.Context, tenantID uint, batch []shopify.Product) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]model.Product, 0, len(batch))
	for _, p := range batch {
		rows = append(rows, model.Product{
			ExternalID:  strconv.FormatInt(p.ID, 10),
			TenantID:    tenantID,
			Title:       p.Title,
			BodyHTML:    p.BodyHTML,
			Vendor:      p.Vendor,
			ProductType: p.ProductType,
			Status:      p.Status,
			Tags:        p.Tags,
			Variants:    p.Variants,
			Images:      p.Images,
		})
	}
	return s.upsert(ctx, s.batchTimeout, "upsert_products", func(tx *gorm.DB) error {
		return tx.Clauses(onExternalConflict(
			"title", "body_html", "vendor", "product_type", "status", "tags", "variants", "images", "updated_at",
		)).Create(&rows).Error
	})
}

// UpsertOrders writes one batch of orders atomically. customerIDs is the
// pre-fetched external-to-internal map for this batch; orders referencing an
// id absent from the map keep a null customer link.
func (s *GormStore) UpsertOrders(ctx context.Context, tenantID uint, batch []shopify.Order, customerIDs map[string]uint) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]model.Order, 0, len(batch))
	for _, o := range batch {
		var customerID *uint
		if o.Customer != nil {
			if id, ok := customerIDs[strconv.FormatInt(o.Customer.ID, 10)]; ok {
				customerID = &id
			}
		}
		rows = append(rows, model.Order{
			ExternalID:        strconv.FormatInt(o.ID, 10),
			TenantID:          tenantID,
			OrderNumber:       o.OrderNumber,
			TotalPrice:        parseMoney(o.TotalPrice),
			Currency:          o.Currency,
			FinancialStatus:   o.FinancialStatus,
			FulfillmentStatus: o.FulfillmentStatus,
			LineItems:         o.LineItems,
			ProcessedAt:       o.ProcessedAt,
			CustomerID:        customerID,
		})
	}
	return s.upsert(ctx, s.orderTimeout, "upsert_orders", func(tx *gorm.DB) error {
		return tx.Clauses(onExternalConflict(
			"order_number", "total_price", "currency", "financial_status", "fulfillment_status",
			"line_items", "processed_at", "customer_id", "updated_at",
		)).Create(&rows).Error
	})
}

// UpsertCheckouts writes one batch of abandoned checkouts atomically.
func (s *GormStore) UpsertCheckouts(ctx context.Context, tenantID uint, batch []shopify.Checkout) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]model.AbandonedCheckout, 0, len(batch))
	for _, ck := range batch {
		rows = append(rows, model.AbandonedCheckout{
			ExternalID:           strconv.FormatInt(ck.ID, 10),
			TenantID:             tenantID,
			Token:                ck.Token,
			CartToken:            ck.CartToken,
			Email:                ck.Email,
			TotalPrice:           parseMoney(ck.TotalPrice),
			Currency:             ck.Currency,
			AbandonedCheckoutURL: ck.AbandonedCheckoutURL,
		})
	}
	return s.upsert(ctx, s.batchTimeout, "upsert_checkouts", func(tx *gorm.DB) error {
		return tx.Clauses(onExternalConflict(
			"token", "cart_token", "email", "total_price", "currency", "abandoned_checkout_url", "updated_at",
		)).Create(&rows).Error
	})
}

// CustomerIDsByExternalID looks up the tenant's customers matching the given
// external ids in a single query.
func (s *GormStore) CustomerIDsByExternalID(ctx context.Context, tenantID uint, externalIDs []string) (map[string]uint, error) {
	ids := make(map[string]uint, len(externalIDs))
	if len(externalIDs) == 0 {
		return ids, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()
	defer prometheus.TrackDBOperation("customer_lookup")(time.Now())

	var rows []model.Customer
	err := s.db.WithContext(ctx).
		Select("id", "external_id").
		Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	for _, r := range rows {
		ids[r.ExternalID] = r.ID
	}
	return ids, nil
}

// upsert runs fn inside one transaction with a deadline, so a chunk either
// commits whole or not at all.
func (s *GormStore) upsert(ctx context.Context, timeout time.Duration, operation string, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer prometheus.TrackDBOperation(operation)(time.Now())

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// onExternalConflict builds the upsert clause shared by all entity kinds:
// conflict on (tenant_id, external_id), update the listed columns.
func onExternalConflict(updateColumns ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}
}

// classify attaches a transient tag to connection-level failures at the
// point they are caught, so the retrier can tell them apart from constraint
// violations and bad data without reading error text.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(TagOperationTimeout, err)
	case errors.Is(err, syscall.ECONNRESET):
		return Transient(TagConnReset, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return Transient(TagServerUnreachable, err)
	case errors.Is(err, syscall.EPIPE), errors.Is(err, net.ErrClosed):
		return Transient(TagConnClosed, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return Transient(TagConnTerminated, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(TagTimeout, err)
	}
	return err
}

// parseMoney normalizes Shopify's string money fields; malformed or missing
// values become 0.
func parseMoney(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
