package model

import (
	"time"
)

// Tenant represents one connected Shopify store, owned by exactly one user.
// All ingested rows are scoped to a tenant.
type Tenant struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	StoreName     string    `json:"store_name" gorm:"type:varchar(100);not null"`
	ShopifyDomain string    `json:"shopify_domain" gorm:"type:varchar(255);not null;index"`
	AccessToken   string    `json:"-" gorm:"type:varchar(255)"`
	UserID        uint      `json:"user_id" gorm:"index;not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
