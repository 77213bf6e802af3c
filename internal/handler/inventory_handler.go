package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/database"
	"github.com/shank50/metriq/pkg/logger"
	"github.com/shank50/metriq/prometheus"
	"go.uber.org/zap"
)

const lowStockThreshold = 5

// GetInventory handles the stock overview: per-product totals plus counts of
// out-of-stock and low-stock products. Only variants that track inventory
// contribute to a product's total.
func GetInventory(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	tenantIDs, found, err := tenantScope(c, userID)
	if err != nil {
		log.Error("Failed to resolve tenant scope", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	if !found || len(tenantIDs) == 0 {
		return c.JSON(http.StatusOK, echo.Map{
			"products":   []echo.Map{},
			"outOfStock": 0,
			"lowStock":   0,
		})
	}

	defer prometheus.TrackDBOperation("inventory")(time.Now())
	var products []model.Product
	result := database.GetDB().
		Select("id", "title", "vendor", "status", "variants").
		Where("tenant_id IN ?", tenantIDs).
		Order("title ASC").
		Find(&products)
	if result.Error != nil {
		log.Error("Failed to load products", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	type productStock struct {
		ID             uint              `json:"id"`
		Title          string            `json:"title"`
		Vendor         string            `json:"vendor"`
		Status         string            `json:"status"`
		TotalInventory int               `json:"totalInventory"`
		Variants       []shopify.Variant `json:"variants"`
	}

	report := make([]productStock, 0, len(products))
	outOfStock := 0
	lowStock := 0
	for _, p := range products {
		entry := productStock{
			ID:     p.ID,
			Title:  p.Title,
			Vendor: p.Vendor,
			Status: p.Status,
		}

		tracked := false
		if len(p.Variants) > 0 {
			var variants []shopify.Variant
			if err := json.Unmarshal(p.Variants, &variants); err == nil {
				for _, v := range variants {
					if v.InventoryQuantity == nil {
						continue
					}
					tracked = true
					entry.TotalInventory += *v.InventoryQuantity
					entry.Variants = append(entry.Variants, v)
				}
			}
		}

		if tracked {
			switch {
			case entry.TotalInventory <= 0:
				outOfStock++
			case entry.TotalInventory <= lowStockThreshold:
				lowStock++
			}
		}
		report = append(report, entry)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"products":   report,
		"outOfStock": outOfStock,
		"lowStock":   lowStock,
	})
}
