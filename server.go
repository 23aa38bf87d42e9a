package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/workflow"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("stocktier", func(fl validator.FieldLevel) bool {
			_, err := models.ParseStockTier(fl.Field().String())
			return err == nil
		})
	}
}

// plantContextMiddleware copies the request's plant scope headers into the
// context every model call reads from.
func plantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if plantId := strings.TrimSpace(c.GetHeader("x-plant-id")); plantId != "" {
			ctx = utils.SetPlantIdInContext(ctx, plantId)
		}
		if station := strings.TrimSpace(c.GetHeader("x-station-code")); station != "" {
			ctx = utils.SetStationCodeInContext(ctx, station)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrLotExhausted),
		errors.Is(err, models.ErrLotInUse),
		errors.Is(err, models.ErrBundleShipped),
		errors.Is(err, models.ErrAlreadyShipped),
		errors.Is(err, models.ErrNotShipped),
		errors.Is(err, models.ErrNothingToShip),
		errors.Is(err, models.ErrNothingToUnbundle),
		errors.Is(err, models.ErrSequenceExhausted):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFromError(err), gin.H{"error": err.Error()})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

func createPlantHandler(c *gin.Context) {
	var input models.NewPlant
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	plant, err := models.CreatePlant(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plant)
}

func createMaterialHandler(c *gin.Context) {
	var input models.NewMaterial
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	material, err := models.CreateMaterial(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, material)
}

func listMaterialHandler(c *gin.Context) {
	name := utils.NilIfEmpty(strings.TrimSpace(c.Query("name")))
	materials, err := models.ListMaterial(c.Request.Context(), name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func listProductHandler(c *gin.Context) {
	name := utils.NilIfEmpty(strings.TrimSpace(c.Query("name")))
	products, err := models.ListProduct(c.Request.Context(), name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func createRecipeHandler(c *gin.Context) {
	var input models.NewRecipe
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	recipe, err := models.CreateRecipe(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recipe)
}

func listRecipeHandler(c *gin.Context) {
	productId, ok := pathId(c, "id")
	if !ok {
		return
	}
	recipes, err := models.ListRecipe(c.Request.Context(), productId)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipes)
}

func materialRequirementsHandler(c *gin.Context) {
	productId, ok := pathId(c, "id")
	if !ok {
		return
	}
	plannedQty, err := utils.ParseDecimal(c.Query("planned_qty"))
	if err != nil || !plannedQty.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "planned_qty must be a positive decimal"})
		return
	}
	processCode := utils.NilIfEmpty(strings.TrimSpace(c.Query("process_code")))
	requirements, err := models.GetMaterialRequirements(c.Request.Context(), productId, processCode, plannedQty)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, requirements)
}

func nextSequenceHandler(c *gin.Context) {
	var req models.SequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	number, err := models.NextSequenceNumber(c.Request.Context(), req.Prefix, req.ScopeKey, req.Width)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": number})
}

func nextSequenceBatchHandler(c *gin.Context) {
	var req struct {
		Requests []models.SequenceRequest `json:"requests" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	numbers, err := models.NextSequenceNumbers(c.Request.Context(), req.Requests)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": numbers})
}

func peekSequenceHandler(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("prefix"))
	scopeKey := strings.TrimSpace(c.Query("scope_key"))
	if prefix == "" || scopeKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix and scope_key are required"})
		return
	}
	last, err := models.PeekSequenceNumber(c.Request.Context(), prefix, scopeKey)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_number": last})
}

// checkSequenceRequest carries Reported as a pointer: 0 is a meaningful
// report (always a duplicate) and must not fail required-field binding.
type checkSequenceRequest struct {
	Prefix   string `json:"prefix" binding:"required"`
	ScopeKey string `json:"scope_key" binding:"required"`
	Reported *int   `json:"reported" binding:"required"`
}

func checkSequenceHandler(c *gin.Context) {
	var req checkSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	result, err := models.CheckReportedSequence(c.Request.Context(), req.Prefix, req.ScopeKey, *req.Reported)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func resetSequenceHandler(c *gin.Context) {
	var req struct {
		Prefix   string `json:"prefix" binding:"required"`
		ScopeKey string `json:"scope_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := models.ResetSequence(c.Request.Context(), req.Prefix, req.ScopeKey); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func purgeSequenceHandler(c *gin.Context) {
	var req struct {
		ScopeKeyBefore string `json:"scope_key_before" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	purged, err := models.PurgeSequences(c.Request.Context(), req.ScopeKeyBefore)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

func receiveStockHandler(c *gin.Context) {
	var input models.NewStockReceipt
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	lot, err := models.ReceiveStockLot(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func transferStockHandler(c *gin.Context) {
	var input models.NewStockTransfer
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	record, err := models.TransferStockLot(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func cancelTransferHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	record, err := models.CancelStockTransfer(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func resetStockLotHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lot, err := models.ResetStockLot(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func listStockLotsHandler(c *gin.Context) {
	var tier *models.StockTier
	if v := strings.TrimSpace(c.Query("tier")); v != "" {
		parsed, err := models.ParseStockTier(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tier = &parsed
	}
	processCode := utils.NilIfEmpty(strings.TrimSpace(c.Query("process_code")))
	var materialId *int
	if v := strings.TrimSpace(c.Query("material_id")); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "material_id must be a positive integer"})
			return
		}
		materialId = &id
	}
	lots, err := models.ListStockLots(c.Request.Context(), tier, processCode, materialId)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lots)
}

func consumeStockHandler(c *gin.Context) {
	var req struct {
		MaterialId    int             `json:"material_id" binding:"required"`
		Qty           decimal.Decimal `json:"qty"`
		Tier          string          `json:"tier" binding:"required"`
		ProcessCode   string          `json:"process_code"`
		AllowNegative bool            `json:"allow_negative"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	tier, err := models.ParseStockTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := workflow.ConsumeStockForPlant(c.Request.Context(), &workflow.ConsumeRequest{
		MaterialId:    req.MaterialId,
		Qty:           req.Qty,
		Tier:          tier,
		ProcessCode:   req.ProcessCode,
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func createProductionLotHandler(c *gin.Context) {
	var input models.NewProductionLot
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	result, err := workflow.CreateProductionLot(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func completeProductionLotHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req struct {
		ActualQty decimal.Decimal `json:"actual_qty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	lot, err := workflow.CompleteProductionLot(c.Request.Context(), id, req.ActualQty)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func cancelProductionLotHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lot, err := workflow.CancelProductionLot(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func getProductionLotHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lot, err := models.GetProductionLot(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func listProductionLotsHandler(c *gin.Context) {
	var status *models.ProductionLotStatus
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		s := models.ProductionLotStatus(v)
		status = &s
	}
	lots, err := models.ListProductionLots(c.Request.Context(), status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lots)
}

func listConsumptionsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	consumptions, err := models.ListLotConsumptions(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, consumptions)
}

func createBundleHandler(c *gin.Context) {
	var input models.NewBundle
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	bundle, err := models.CreateBundle(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bundle)
}

func createSetBundleHandler(c *gin.Context) {
	var input models.NewSetBundle
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	bundle, err := models.CreateSetBundle(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bundle)
}

func getBundleHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	bundle, err := models.GetBundle(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func listBundlesHandler(c *gin.Context) {
	var status *models.BundleStatus
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		parsed, err := models.ParseBundleStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = &parsed
	}
	bundles, err := models.ListBundles(c.Request.Context(), status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundles)
}

func addBundleItemHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewBundleItem
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	bundle, err := models.AddBundleItem(c.Request.Context(), id, &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func removeBundleItemHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	itemId, ok := pathId(c, "itemId")
	if !ok {
		return
	}
	bundle, err := models.RemoveBundleItem(c.Request.Context(), id, itemId)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func shipBundleHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	bundle, err := models.ShipBundle(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func shipBundleItemHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	itemId, ok := pathId(c, "itemId")
	if !ok {
		return
	}
	bundle, err := models.ShipBundleItem(c.Request.Context(), id, itemId)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func cancelBundleItemShipmentHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	itemId, ok := pathId(c, "itemId")
	if !ok {
		return
	}
	bundle, err := models.CancelBundleItemShipment(c.Request.Context(), id, itemId)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func unbundleBundleHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	bundle, releasedLotIds, err := models.UnbundleBundle(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundle": bundle, "released_lot_ids": releasedLotIds})
}

func bundleStatsHandler(c *gin.Context) {
	stats, err := models.GetBundleStats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func listShippedItemsHandler(c *gin.Context) {
	items, err := models.ListShippedBundleItems(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func registerRoutes(r *gin.Engine) {
	r.POST("/plants", createPlantHandler)

	r.POST("/materials", createMaterialHandler)
	r.GET("/materials", listMaterialHandler)
	r.POST("/products", createProductHandler)
	r.GET("/products", listProductHandler)
	r.POST("/recipes", createRecipeHandler)
	r.GET("/products/:id/recipes", listRecipeHandler)
	r.GET("/products/:id/requirements", materialRequirementsHandler)

	r.POST("/sequences/next", nextSequenceHandler)
	r.POST("/sequences/next-batch", nextSequenceBatchHandler)
	r.GET("/sequences/peek", peekSequenceHandler)
	r.POST("/sequences/check", checkSequenceHandler)
	r.POST("/sequences/reset", resetSequenceHandler)
	r.POST("/sequences/purge", purgeSequenceHandler)

	r.POST("/stock/receipts", receiveStockHandler)
	r.POST("/stock/transfers", transferStockHandler)
	r.POST("/stock/transfers/:id/cancel", cancelTransferHandler)
	r.DELETE("/stock/lots/:id", resetStockLotHandler)
	r.GET("/stock/lots", listStockLotsHandler)
	r.POST("/stock/consume", consumeStockHandler)

	r.POST("/production-lots", createProductionLotHandler)
	r.GET("/production-lots", listProductionLotsHandler)
	r.GET("/production-lots/:id", getProductionLotHandler)
	r.GET("/production-lots/:id/consumptions", listConsumptionsHandler)
	r.POST("/production-lots/:id/complete", completeProductionLotHandler)
	r.POST("/production-lots/:id/cancel", cancelProductionLotHandler)

	r.POST("/bundles", createBundleHandler)
	r.POST("/bundles/set", createSetBundleHandler)
	r.GET("/bundles", listBundlesHandler)
	r.GET("/bundles/stats", bundleStatsHandler)
	r.GET("/bundles/:id", getBundleHandler)
	r.POST("/bundles/:id/items", addBundleItemHandler)
	r.DELETE("/bundles/:id/items/:itemId", removeBundleItemHandler)
	r.POST("/bundles/:id/ship", shipBundleHandler)
	r.POST("/bundles/:id/items/:itemId/ship", shipBundleItemHandler)
	r.POST("/bundles/:id/items/:itemId/cancel-ship", cancelBundleItemShipmentHandler)
	r.POST("/bundles/:id/unbundle", unbundleBundleHandler)
	r.GET("/bundle-items/shipped", listShippedItemsHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe sees an open port.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-plant-id", "x-station-code", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(plantContextMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerValidations()
	registerRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
