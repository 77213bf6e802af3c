package model

import (
	"time"
)

// Customer is a Shopify customer projected into the local store.
// Re-ingesting the same external record updates the row in place.
type Customer struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ExternalID  string    `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_customers_external_tenant"`
	TenantID    uint      `json:"tenant_id" gorm:"not null;uniqueIndex:idx_customers_external_tenant"`
	FirstName   string    `json:"first_name" gorm:"type:varchar(100)"`
	LastName    string    `json:"last_name" gorm:"type:varchar(100)"`
	Email       string    `json:"email" gorm:"type:varchar(255)"`
	Phone       string    `json:"phone" gorm:"type:varchar(50)"`
	OrdersCount int       `json:"orders_count" gorm:"default:0"`
	TotalSpent  float64   `json:"total_spent" gorm:"default:0"`
	State       string    `json:"state" gorm:"type:varchar(50)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
