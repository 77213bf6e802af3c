package model

import (
	"time"
)

// AbandonedCheckout is a Shopify checkout that never converted into an order.
type AbandonedCheckout struct {
	ID                   uint      `json:"id" gorm:"primaryKey"`
	ExternalID           string    `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_checkouts_external_tenant"`
	TenantID             uint      `json:"tenant_id" gorm:"not null;uniqueIndex:idx_checkouts_external_tenant"`
	Token                string    `json:"token" gorm:"type:varchar(255)"`
	CartToken            string    `json:"cart_token" gorm:"type:varchar(255)"`
	Email                string    `json:"email" gorm:"type:varchar(255)"`
	TotalPrice           float64   `json:"total_price" gorm:"default:0"`
	Currency             string    `json:"currency" gorm:"type:varchar(10)"`
	AbandonedCheckoutURL string    `json:"abandoned_checkout_url" gorm:"type:text"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
