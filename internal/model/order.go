package model

import (
	"encoding/json"
	"time"
)

// Order is a Shopify order projected into the local store. CustomerID is
// resolved at ingestion time; it stays null when the referenced customer is
// not persisted locally.
type Order struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	ExternalID        string          `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_orders_external_tenant"`
	TenantID          uint            `json:"tenant_id" gorm:"not null;uniqueIndex:idx_orders_external_tenant"`
	OrderNumber       int64           `json:"order_number"`
	TotalPrice        float64         `json:"total_price" gorm:"default:0"`
	Currency          string          `json:"currency" gorm:"type:varchar(10)"`
	FinancialStatus   string          `json:"financial_status" gorm:"type:varchar(50)"`
	FulfillmentStatus string          `json:"fulfillment_status" gorm:"type:varchar(50)"`
	LineItems         json.RawMessage `json:"line_items" gorm:"type:jsonb"`
	ProcessedAt       *time.Time      `json:"processed_at"`
	CustomerID        *uint           `json:"customer_id" gorm:"index"`
	Customer          *Customer       `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
