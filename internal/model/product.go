package model

import (
	"encoding/json"
	"time"
)

// Product is a Shopify product projected into the local store. Variants and
// images keep the external system's shape as opaque jsonb documents.
type Product struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	ExternalID  string          `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_products_external_tenant"`
	TenantID    uint            `json:"tenant_id" gorm:"not null;uniqueIndex:idx_products_external_tenant"`
	Title       string          `json:"title" gorm:"type:varchar(255)"`
	BodyHTML    string          `json:"body_html" gorm:"type:text"`
	Vendor      string          `json:"vendor" gorm:"type:varchar(255)"`
	ProductType string          `json:"product_type" gorm:"type:varchar(255)"`
	Status      string          `json:"status" gorm:"type:varchar(50)"`
	Tags        string          `json:"tags" gorm:"type:text"`
	Variants    json.RawMessage `json:"variants" gorm:"type:jsonb"`
	Images      json.RawMessage `json:"images" gorm:"type:jsonb"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
