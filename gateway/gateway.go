package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// AuditTrail reads the audit documents written by the services.
type AuditTrail interface {
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

// Services are the handlers' collaborators. Health and Audit may be nil.
type Services struct {
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Catalog   *service.CatalogService
	Inventory *service.InventoryService
	Carts     *service.CartService
	Users     *service.UserService
	Promos    *service.PromoService
	Stock     *events.Broadcaster
	Audit     AuditTrail
	Health    func(ctx context.Context) map[string]error
}

type Gateway struct {
	config   *config.ServerConfig
	services Services
	logger   *zap.Logger
	router   *gin.Engine
	closing  chan struct{}
}

func NewGateway(cfg *config.ServerConfig, logger *zap.Logger, services Services) *Gateway {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	useJSONNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	g := &Gateway{
		config:   cfg,
		services: services,
		logger:   logger.Named("gateway"),
		router:   router,
		closing:  make(chan struct{}),
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) setupRoutes() {
	g.router.GET("/health", g.health)

	v1 := g.router.Group("/api/v1")
	admin := g.requireAdmin()

	orders := v1.Group("/orders")
	{
		orders.POST("", g.createOrder)
		orders.GET("", g.listOrders)
		orders.GET("/items/:item_id", g.getOrderItem)
		orders.PUT("/items/:item_id", g.updateOrderItem)
		orders.DELETE("/items/:item_id", g.deleteOrderItem)
		orders.GET("/:id", g.getOrder)
		orders.PUT("/:id", g.updateOrder)
		orders.DELETE("/:id", g.deleteOrder)
		orders.GET("/:id/items", g.listOrderItems)
		orders.POST("/:id/items", g.addOrderItem)
	}

	payments := v1.Group("/payments")
	{
		payments.POST("", g.createPayment)
		payments.GET("", g.listPayments)
		payments.POST("/create-checkout-session", g.createCheckoutSession)
		payments.POST("/webhook", g.stripeWebhook)
		payments.GET("/:id", g.getPayment)
		payments.PUT("/:id", g.updatePayment)
		payments.DELETE("/:id", g.deletePayment)
	}

	categories := v1.Group("/categories")
	{
		categories.GET("", g.listCategories)
		categories.GET("/:id", g.getCategory)
		categories.POST("", admin, g.createCategory)
		categories.PUT("/:id", admin, g.updateCategory)
		categories.DELETE("/:id", admin, g.deleteCategory)
	}

	tags := v1.Group("/tags")
	{
		tags.GET("", g.listTags)
		tags.GET("/:id", g.getTag)
		tags.POST("", admin, g.createTag)
		tags.PUT("/:id", admin, g.updateTag)
		tags.DELETE("/:id", admin, g.deleteTag)
	}

	products := v1.Group("/products")
	{
		products.GET("", g.listProducts)
		products.GET("/search", g.searchProducts)
		products.GET("/variants", g.listVariants)
		products.GET("/variants/:variant_id", g.getVariant)
		products.GET("/variants/:variant_id/barcode", g.variantBarcode)
		products.GET("/:id", g.getProduct)

		products.POST("", admin, g.createProduct)
		products.PUT("/:id", admin, g.updateProduct)
		products.DELETE("/:id", admin, g.deleteProduct)
		products.POST("/:id/variants", admin, g.addVariant)
		products.PUT("/variants/:variant_id", admin, g.updateVariant)
		products.DELETE("/variants/:variant_id", admin, g.deleteVariant)
		products.POST("/variants/:variant_id/attributes", admin, g.addVariantAttribute)
		products.DELETE("/variants/attributes/:attribute_id", admin, g.deleteVariantAttribute)
		products.POST("/variants/:variant_id/images", admin, g.addVariantImage)
		products.DELETE("/variants/images/:image_id", admin, g.deleteVariantImage)
	}

	inventories := v1.Group("/inventories")
	{
		inventories.GET("", g.listInventories)
		inventories.GET("/stream", g.streamStock)
		inventories.GET("/:id", g.getInventory)
		inventories.GET("/:id/products", g.listInventoryProducts)
		inventories.GET("/products/:item_id", g.getInventoryProduct)

		inventories.POST("", admin, g.createInventory)
		inventories.PUT("/:id", admin, g.updateInventory)
		inventories.DELETE("/:id", admin, g.deleteInventory)
		inventories.POST("/:id/products", admin, g.addInventoryProduct)
		inventories.POST("/:id/adjust", admin, g.adjustStock)
		inventories.PUT("/products/:item_id", admin, g.updateInventoryProduct)
		inventories.DELETE("/products/:item_id", admin, g.deleteInventoryProduct)
	}

	carts := v1.Group("/carts", g.optionalUser())
	{
		carts.GET("", g.getCart)
		carts.GET("/:id", g.getCartByID)
		carts.POST("", g.createCart)
		carts.POST("/:id/items", g.addCartItem)
		carts.DELETE("/items/:item_id", g.removeCartItem)
		carts.DELETE("/:id/items", g.clearCart)
		carts.DELETE("/:id", g.deleteCart)
	}

	promos := v1.Group("/promocodes")
	{
		promos.GET("", g.listPromoCodes)
		promos.GET("/redeem/:code", g.redeemPromoCode)
		promos.GET("/:id", g.getPromoCode)
		promos.POST("", admin, g.createPromoCode)
		promos.PUT("/:id", admin, g.updatePromoCode)
		promos.DELETE("/:id", admin, g.deletePromoCode)
	}

	currencies := v1.Group("/currencies")
	{
		currencies.GET("", g.listCurrencies)
		currencies.GET("/:id", g.getCurrency)
		currencies.POST("", admin, g.createCurrency)
		currencies.PUT("/:id", admin, g.updateCurrency)
		currencies.DELETE("/:id", admin, g.deleteCurrency)
	}

	users := v1.Group("/users")
	{
		users.POST("/register", g.register)
		users.POST("/login", g.login)
		users.POST("/refresh", g.refresh)
		users.POST("/verify-email", g.verifyEmail)
		users.POST("/verify-email/resend", g.resendVerification)
		users.POST("/password-reset", g.requestPasswordReset)
		users.POST("/password-reset/confirm", g.confirmPasswordReset)

		me := users.Group("/me", g.requireUser())
		me.GET("", g.me)
		me.PUT("", g.updateMe)
		me.GET("/addresses", g.listAddresses)
		me.POST("/addresses", g.addAddress)
		me.PUT("/addresses/:address_id", g.updateAddress)
		me.DELETE("/addresses/:address_id", g.deleteAddress)
		users.POST("/logout", g.requireUser(), g.logout)
	}

	admins := v1.Group("/admin/users", admin)
	{
		admins.GET("", g.listUsers)
		admins.GET("/:id", g.getUser)
		admins.PUT("/:id/role", g.setUserRole)
		admins.PUT("/:id/active", g.setUserActive)
		admins.DELETE("/:id", g.deleteUser)
	}
	v1.GET("/admin/audit/:entity_id", admin, g.auditTrail)

	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

type auditQuery struct {
	Limit int64 `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (g *Gateway) auditTrail(c *gin.Context) {
	if g.services.Audit == nil {
		respond(c, http.StatusNotFound, "Audit log is not enabled", nil)
		return
	}
	var q auditQuery
	if !g.bindQuery(c, &q) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	logs, err := g.services.Audit.GetAuditLogs(c.Request.Context(), c.Param("entity_id"), q.Limit)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Audit log retrieved successfully", logs)
}

func (g *Gateway) health(c *gin.Context) {
	if g.services.Health == nil {
		ok(c, "ok", gin.H{"status": "ok"})
		return
	}

	checks := gin.H{}
	healthy := true
	for name, err := range g.services.Health(c.Request.Context()) {
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		respond(c, http.StatusServiceUnavailable, "degraded", checks)
		return
	}
	ok(c, "ok", checks)
}

// Run serves HTTP until ctx is done, then drains in-flight requests.
func (g *Gateway) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", g.config.Host, g.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("Gateway starting", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	close(g.closing)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	g.logger.Info("Gateway stopped")
	return nil
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
