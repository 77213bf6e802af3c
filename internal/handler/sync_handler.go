package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shank50/metriq/internal/ingest"
	"github.com/shank50/metriq/pkg/logger"
	"go.uber.org/zap"
)

// SyncService is the ingestion surface the HTTP layer drives.
type SyncService interface {
	SyncStore(ctx context.Context, userID, storeID uint) (ingest.Stats, error)
	SyncAllStores(ctx context.Context, userID uint) (*ingest.Summary, error)
}

// SyncHandler exposes the ingestion pipeline over HTTP. The sync service is
// injected so the handler carries no storage or fetch wiring of its own.
type SyncHandler struct {
	svc SyncService
}

// NewSyncHandler creates a handler over the given sync service.
func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// SyncStore handles a single-store sync request
func (h *SyncHandler) SyncStore(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		StoreID uint `json:"storeId"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse sync request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.StoreID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "storeId is required"})
	}

	stats, err := h.svc.SyncStore(c.Request().Context(), userID, req.StoreID)
	switch {
	case errors.Is(err, ingest.ErrStoreNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "store not found"})
	case errors.Is(err, ingest.ErrMissingCredential):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "store is missing Shopify credentials"})
	case err != nil:
		log.Error("Store sync failed",
			zap.Uint("store_id", req.StoreID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to sync data"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Sync completed successfully",
		"stats":   stats,
	})
}

// SyncAllStores handles a sync request across every store the caller owns.
// The response is always a structured summary, even when every store failed;
// only the zero-stores precondition fails the request itself.
func (h *SyncHandler) SyncAllStores(c echo.Context) error {
	log := logger.FromContext(c)
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	summary, err := h.svc.SyncAllStores(c.Request().Context(), userID)
	switch {
	case errors.Is(err, ingest.ErrNoStores):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no stores found to sync"})
	case err != nil:
		log.Error("Sync-all run failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to sync stores"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message":      fmt.Sprintf("Sync completed: %d succeeded, %d failed", summary.SuccessCount, summary.FailCount),
		"totalStores":  summary.TotalStores,
		"successCount": summary.SuccessCount,
		"failCount":    summary.FailCount,
		"results":      summary.Results,
	})
}
