package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/pkg/database"
	"github.com/shank50/metriq/pkg/logger"
	"github.com/shank50/metriq/prometheus"
	"go.uber.org/zap"
)

// AddStore handles connecting a new Shopify store to the caller's account
func AddStore(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		StoreName     string `json:"storeName"`
		ShopifyDomain string `json:"shopifyDomain"`
		AccessToken   string `json:"accessToken"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse add store request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.StoreName == "" || req.ShopifyDomain == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "storeName and shopifyDomain are required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var existing model.Tenant
	result := database.GetDB().Where("shopify_domain = ? AND user_id = ?", req.ShopifyDomain, userID).First(&existing)
	if result.Error == nil {
		log.Warn("Store already connected",
			zap.String("domain", req.ShopifyDomain),
			zap.Uint("user_id", userID))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "you have already added this store"})
	}

	store := model.Tenant{
		StoreName:     req.StoreName,
		ShopifyDomain: req.ShopifyDomain,
		AccessToken:   req.AccessToken,
		UserID:        userID,
	}
	if result := database.GetDB().Create(&store); result.Error != nil {
		log.Error("Failed to create store", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to add store"})
	}

	log.Info("Store added",
		zap.Uint("store_id", store.ID),
		zap.String("domain", store.ShopifyDomain))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Store added successfully",
		"store": map[string]interface{}{
			"id":             store.ID,
			"store_name":     store.StoreName,
			"shopify_domain": store.ShopifyDomain,
		},
	})
}

// ListStores handles retrieving the caller's connected stores
func ListStores(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var stores []model.Tenant
	if result := database.GetDB().Where("user_id = ?", userID).Find(&stores); result.Error != nil {
		log.Error("Failed to list stores", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch stores"})
	}

	return c.JSON(http.StatusOK, echo.Map{"stores": stores})
}

// UpdateStore handles renaming a store or rotating its credential
func UpdateStore(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		StoreName   string `json:"storeName"`
		AccessToken string `json:"accessToken"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	var store model.Tenant
	result := database.GetDB().Where("id = ? AND user_id = ?", c.Param("id"), userID).First(&store)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "store not found"})
	}

	updates := map[string]interface{}{}
	if req.StoreName != "" {
		updates["store_name"] = req.StoreName
	}
	if req.AccessToken != "" {
		updates["access_token"] = req.AccessToken
	}
	if len(updates) > 0 {
		if err := database.GetDB().Model(&store).Updates(updates).Error; err != nil {
			log.Error("Failed to update store", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update store"})
		}
	}

	log.Info("Store updated", zap.Uint("store_id", store.ID))
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Store updated successfully",
		"store": map[string]interface{}{
			"id":             store.ID,
			"store_name":     store.StoreName,
			"shopify_domain": store.ShopifyDomain,
		},
	})
}

// DeleteStore handles disconnecting a store
func DeleteStore(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	var store model.Tenant
	result := database.GetDB().Where("id = ? AND user_id = ?", c.Param("id"), userID).First(&store)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "store not found"})
	}

	if err := database.GetDB().Delete(&store).Error; err != nil {
		log.Error("Failed to delete store", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete store"})
	}

	log.Info("Store deleted",
		zap.Uint("store_id", store.ID),
		zap.String("domain", store.ShopifyDomain))
	return c.JSON(http.StatusOK, echo.Map{"message": "Store deleted successfully"})
}
