package shopify

import (
	"encoding/json"
	"time"
)

// Customer is the raw customer record shape returned by the Shopify Admin
// REST API. Money fields arrive as strings.
type Customer struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	OrdersCount int    `json:"orders_count"`
	TotalSpent  string `json:"total_spent"`
	State       string `json:"state"`
}

// Product is the raw product record shape. Variants and images are carried
// through opaquely; the persisted projection keeps their external shape.
type Product struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	BodyHTML    string          `json:"body_html"`
	Vendor      string          `json:"vendor"`
	ProductType string          `json:"product_type"`
	Status      string          `json:"status"`
	Tags        string          `json:"tags"`
	Variants    json.RawMessage `json:"variants"`
	Images      json.RawMessage `json:"images"`
}

// Variant is the subset of a product variant consumed by inventory reporting.
// A nil InventoryQuantity means the variant does not track inventory.
type Variant struct {
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	InventoryQuantity *int   `json:"inventory_quantity"`
}

// OrderCustomerRef is the embedded customer reference on an order.
type OrderCustomerRef struct {
	ID int64 `json:"id"`
}

// Order is the raw order record shape.
type Order struct {
	ID                int64             `json:"id"`
	OrderNumber       int64             `json:"order_number"`
	TotalPrice        string            `json:"total_price"`
	Currency          string            `json:"currency"`
	FinancialStatus   string            `json:"financial_status"`
	FulfillmentStatus string            `json:"fulfillment_status"`
	LineItems         json.RawMessage   `json:"line_items"`
	ProcessedAt       *time.Time        `json:"processed_at"`
	Customer          *OrderCustomerRef `json:"customer"`
}

// LineItem is the subset of an order line item consumed by product sales
// aggregation.
type LineItem struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

// Checkout is the raw abandoned checkout record shape.
type Checkout struct {
	ID                   int64  `json:"id"`
	Token                string `json:"token"`
	CartToken            string `json:"cart_token"`
	Email                string `json:"email"`
	TotalPrice           string `json:"total_price"`
	Currency             string `json:"currency"`
	AbandonedCheckoutURL string `json:"abandoned_checkout_url"`
}
