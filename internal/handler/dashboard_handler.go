package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/database"
	"github.com/shank50/metriq/pkg/logger"
	"github.com/shank50/metriq/prometheus"
	"go.uber.org/zap"
)

var rangeDaysPattern = regexp.MustCompile(`^([0-9]+)d$`)

// tenantScope resolves the tenant ids a dashboard query may read: all of the
// caller's stores, or the single store named by the storeId query parameter.
// found is false when the caller owns no stores; a storeId outside the
// caller's stores resolves to an empty scope.
func tenantScope(c echo.Context, userID uint) (ids []uint, found bool, err error) {
	var stores []model.Tenant
	if result := database.GetDB().Select("id").Where("user_id = ?", userID).Find(&stores); result.Error != nil {
		return nil, false, result.Error
	}
	if len(stores) == 0 {
		return nil, false, nil
	}

	storeID := c.QueryParam("storeId")
	if storeID != "" {
		id, parseErr := strconv.ParseUint(storeID, 10, 32)
		if parseErr != nil {
			return nil, true, nil
		}
		for _, s := range stores {
			if s.ID == uint(id) {
				return []uint{s.ID}, true, nil
			}
		}
		return nil, true, nil
	}

	for _, s := range stores {
		ids = append(ids, s.ID)
	}
	return ids, true, nil
}

// ratio returns numerator/denominator as a percentage rounded to one
// decimal, and 0 when the denominator is 0.
func ratio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(numerator/denominator*1000) / 10
}

// GetStats handles the dashboard headline numbers
func GetStats(c echo.Context) error {
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
			"totalCustomers": 0,
			"totalOrders":    0,
			"totalSales":     0,
			"conversionRate": 0,
		})
	}

	defer prometheus.TrackDBOperation("dashboard_stats")(time.Now())
	db := database.GetDB()

	var totalCustomers, totalOrders int64
	var totalSales float64
	if err := db.Model(&model.Customer{}).Where("tenant_id IN ?", tenantIDs).Count(&totalCustomers).Error; err != nil {
		log.Error("Failed to count customers", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	if err := db.Model(&model.Order{}).Where("tenant_id IN ?", tenantIDs).Count(&totalOrders).Error; err != nil {
		log.Error("Failed to count orders", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	if err := db.Model(&model.Order{}).Where("tenant_id IN ?", tenantIDs).
		Select("COALESCE(SUM(total_price), 0)").Scan(&totalSales).Error; err != nil {
		log.Error("Failed to sum sales", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"totalCustomers": totalCustomers,
		"totalOrders":    totalOrders,
		"totalSales":     totalSales,
		"conversionRate": ratio(float64(totalOrders), float64(totalCustomers)),
	})
}

// GetSalesOverTime handles the sales time-series query
func GetSalesOverTime(c echo.Context) error {
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
		return c.JSON(http.StatusOK, []echo.Map{})
	}

	// Interval comes from a closed whitelist; it is spliced into the SQL as
	// a literal, everything else binds as a parameter.
	interval := c.QueryParam("interval")
	switch interval {
	case "day", "month", "year":
	default:
		interval = "day"
	}

	start, end := parseDateRange(c.QueryParam("range"), c.QueryParam("startDate"), c.QueryParam("endDate"))

	sql := "SELECT DATE_TRUNC('" + interval + "', COALESCE(processed_at, created_at)) AS date, " +
		"SUM(total_price) AS sales FROM orders WHERE tenant_id IN ?"
	args := []interface{}{tenantIDs}
	if start != nil && end != nil {
		sql += " AND COALESCE(processed_at, created_at) BETWEEN ? AND ?"
		args = append(args, *start, *end)
	}
	sql += " GROUP BY date ORDER BY date ASC"

	defer prometheus.TrackDBOperation("dashboard_sales_over_time")(time.Now())
	var points []struct {
		Date  time.Time `json:"date"`
		Sales float64   `json:"sales"`
	}
	if err := database.GetDB().Raw(sql, args...).Scan(&points).Error; err != nil {
		log.Error("Failed to query sales over time", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	if points == nil {
		return c.JSON(http.StatusOK, []echo.Map{})
	}
	return c.JSON(http.StatusOK, points)
}

// parseDateRange resolves either an explicit start/end pair or a trailing
// "Nd" window into day-aligned bounds. Unusable input means no bound.
func parseDateRange(rangeParam, startDate, endDate string) (*time.Time, *time.Time) {
	if startDate != "" && endDate != "" {
		start, err1 := time.Parse("2006-01-02", startDate)
		end, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return nil, nil
		}
		endOfDay := end.Add(24*time.Hour - time.Nanosecond)
		return &start, &endOfDay
	}

	if m := rangeDaysPattern.FindStringSubmatch(rangeParam); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil || days <= 0 {
			return nil, nil
		}
		now := time.Now()
		end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))
		return &start, &end
	}

	return nil, nil
}

// GetTopCustomers handles the top-spenders list
func GetTopCustomers(c echo.Context) error {
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
		return c.JSON(http.StatusOK, []echo.Map{})
	}

	defer prometheus.TrackDBOperation("dashboard_top_customers")(time.Now())
	var customers []model.Customer
	result := database.GetDB().
		Select("id", "first_name", "last_name", "email", "total_spent", "orders_count").
		Where("tenant_id IN ?", tenantIDs).
		Order("total_spent DESC").
		Limit(5).
		Find(&customers)
	if result.Error != nil {
		log.Error("Failed to query top customers", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, customers)
}

// GetSalesByProduct handles per-product sales aggregation from order line items
func GetSalesByProduct(c echo.Context) error {
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
		return c.JSON(http.StatusOK, []echo.Map{})
	}

	defer prometheus.TrackDBOperation("dashboard_sales_by_product")(time.Now())
	var orders []model.Order
	result := database.GetDB().
		Select("line_items").
		Where("tenant_id IN ?", tenantIDs).
		Find(&orders)
	if result.Error != nil {
		log.Error("Failed to load orders", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	type productSales struct {
		Name     string  `json:"name"`
		Sales    float64 `json:"sales"`
		Quantity int     `json:"quantity"`
	}
	totals := map[string]*productSales{}
	for _, order := range orders {
		if len(order.LineItems) == 0 {
			continue
		}
		var items []shopify.LineItem
		if err := json.Unmarshal(order.LineItems, &items); err != nil {
			// Line items are an opaque projection; skip shapes we don't recognize
			continue
		}
		for _, item := range items {
			entry, ok := totals[item.Title]
			if !ok {
				entry = &productSales{Name: item.Title}
				totals[item.Title] = entry
			}
			price, _ := strconv.ParseFloat(item.Price, 64)
			entry.Sales += price * float64(item.Quantity)
			entry.Quantity += item.Quantity
		}
	}

	ranked := make([]productSales, 0, len(totals))
	for _, entry := range totals {
		ranked = append(ranked, *entry)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Sales > ranked[j].Sales })
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	return c.JSON(http.StatusOK, ranked)
}

// GetRecentOrders handles the latest-orders list
func GetRecentOrders(c echo.Context) error {
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
		return c.JSON(http.StatusOK, []echo.Map{})
	}

	defer prometheus.TrackDBOperation("dashboard_recent_orders")(time.Now())
	var orders []model.Order
	result := database.GetDB().
		Preload("Customer").
		Where("tenant_id IN ?", tenantIDs).
		Order("created_at DESC").
		Limit(20).
		Find(&orders)
	if result.Error != nil {
		log.Error("Failed to query recent orders", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, orders)
}

// GetAbandonedStats handles abandoned checkout totals and the abandonment rate
func GetAbandonedStats(c echo.Context) error {
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
			"count":            0,
			"totalLostRevenue": 0,
			"abandonmentRate":  0,
		})
	}

	defer prometheus.TrackDBOperation("dashboard_abandoned_stats")(time.Now())
	db := database.GetDB()

	var count, totalOrders int64
	var lostRevenue float64
	if err := db.Model(&model.AbandonedCheckout{}).Where("tenant_id IN ?", tenantIDs).Count(&count).Error; err != nil {
		log.Error("Failed to count abandoned checkouts", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	if err := db.Model(&model.AbandonedCheckout{}).Where("tenant_id IN ?", tenantIDs).
		Select("COALESCE(SUM(total_price), 0)").Scan(&lostRevenue).Error; err != nil {
		log.Error("Failed to sum lost revenue", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	if err := db.Model(&model.Order{}).Where("tenant_id IN ?", tenantIDs).Count(&totalOrders).Error; err != nil {
		log.Error("Failed to count orders", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	// Abandonment rate: abandoned / (abandoned + completed orders)
	return c.JSON(http.StatusOK, echo.Map{
		"count":            count,
		"totalLostRevenue": lostRevenue,
		"abandonmentRate":  ratio(float64(count), float64(count+totalOrders)),
	})
}
