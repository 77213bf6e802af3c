package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultAPIVersion is the Admin API version requests are pinned to.
	DefaultAPIVersion = "2024-01"

	// DefaultPageSize is the Admin API's maximum page size.
	DefaultPageSize = 250
)

// Client talks to one store's Shopify Admin REST API.
type Client struct {
	BaseURL     string
	AccessToken string
	PageSize    int
	HTTPClient  *http.Client
}

// NewClient creates a client for the given store domain and access token.
// The domain may carry a protocol prefix or trailing slash; both are stripped.
func NewClient(domain, accessToken string) *Client {
	return NewClientForVersion(domain, accessToken, DefaultAPIVersion)
}

// NewClientForVersion creates a client pinned to a specific Admin API version.
func NewClientForVersion(domain, accessToken, apiVersion string) *Client {
	cleanDomain := strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	cleanDomain = strings.TrimSuffix(cleanDomain, "/")
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	return &Client{
		BaseURL:     fmt.Sprintf("https://%s/admin/api/%s", cleanDomain, apiVersion),
		AccessToken: accessToken,
		PageSize:    DefaultPageSize,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchProducts retrieves the store's complete product collection.
func (c *Client) FetchProducts(ctx context.Context) ([]Product, error) {
	var all []Product
	err := c.fetchAll(ctx, fmt.Sprintf("/products.json?limit=%d", c.PageSize), func(body []byte) error {
		var page struct {
			Products []Product `json:"products"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		all = append(all, page.Products...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	return all, nil
}

// FetchOrders retrieves the store's complete order collection, any status.
func (c *Client) FetchOrders(ctx context.Context) ([]Order, error) {
	var all []Order
	err := c.fetchAll(ctx, fmt.Sprintf("/orders.json?status=any&limit=%d", c.PageSize), func(body []byte) error {
		var page struct {
			Orders []Order `json:"orders"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		all = append(all, page.Orders...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	return all, nil
}

// FetchCustomers retrieves the store's complete customer collection.
func (c *Client) FetchCustomers(ctx context.Context) ([]Customer, error) {
	var all []Customer
	err := c.fetchAll(ctx, fmt.Sprintf("/customers.json?limit=%d", c.PageSize), func(body []byte) error {
		var page struct {
			Customers []Customer `json:"customers"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		all = append(all, page.Customers...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch customers: %w", err)
	}
	return all, nil
}

// FetchAbandonedCheckouts retrieves the store's abandoned checkouts.
func (c *Client) FetchAbandonedCheckouts(ctx context.Context) ([]Checkout, error) {
	var all []Checkout
	err := c.fetchAll(ctx, fmt.Sprintf("/checkouts.json?status=any&limit=%d", c.PageSize), func(body []byte) error {
		var page struct {
			Checkouts []Checkout `json:"checkouts"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		all = append(all, page.Checkouts...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch abandoned checkouts: %w", err)
	}
	return all, nil
}

// fetchAll walks cursor pagination starting at path, feeding each page body
// to accumulate until no next-page link remains. Any non-success response
// aborts the whole walk.
func (c *Client) fetchAll(ctx context.Context, path string, accumulate func(body []byte) error) error {
	next := c.BaseURL + path
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Shopify-Access-Token", c.AccessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("request failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := accumulate(body); err != nil {
			return err
		}

		next = nextPageURL(resp.Header.Get("Link"))
	}
	return nil
}

// nextPageURL extracts the rel="next" target from a Link response header.
// A missing or unusable target means the collection is complete.
func nextPageURL(header string) string {
	for _, part := range strings.Split(header, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start == -1 || end == -1 || end <= start+1 {
			return ""
		}
		raw := part[start+1 : end]
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return ""
		}
		return raw
	}
	return ""
}
