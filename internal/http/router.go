package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mini-oms/internal/http/middleware"
	"mini-oms/internal/logging"
	"mini-oms/internal/service"
)

type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Services struct {
	Auth     service.AuthService
	Products service.ProductService
	Orders   service.OrderService
	Payments service.PaymentService
	Health   HealthChecker
}

func NewRouter(svc Services, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", IdempotencyHeader, "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.Logging(log))

	r.GET("/healthz", func(c *gin.Context) {
		if svc.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "up"})
			return
		}
		stats := svc.Health.Health(c.Request.Context())
		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		logging.From(c).Debug("health check", "status", stats["status"])
		c.JSON(status, stats)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := NewAuthHandler(svc.Auth)
	products := NewProductHandler(svc.Products)
	orders := NewOrderHandler(svc.Orders)
	payments := NewPaymentHandler(svc.Payments)

	requireAuth := middleware.RequireAuth(svc.Auth)
	admin := middleware.RequireAdmin()

	api := r.Group("/api")
	{
		api.POST("/auth/register", auth.Register)
		api.POST("/auth/login", auth.Login)

		api.GET("/products", products.List)
		api.GET("/products/:id", products.Get)
		api.POST("/products", requireAuth, admin, products.Create)
		api.PUT("/products/:id", requireAuth, admin, products.Update)
		api.DELETE("/products/:id", requireAuth, admin, products.Delete)

		o := api.Group("/orders", requireAuth)
		o.GET("", orders.List)
		o.POST("", orders.Create)
		o.GET("/stats", admin, orders.Stats)
		o.GET("/:id", orders.Get)
		o.POST("/:id/cancel", orders.Cancel)
		o.POST("/:id/complete", admin, orders.Complete)

		p := api.Group("/payments", requireAuth)
		p.POST("", payments.Create)
		p.GET("/order/:orderId", payments.ForOrder)
		p.POST("/:id/verify", admin, payments.Verify)
		p.POST("/:id/reject", admin, payments.Reject)
	}

	return r
}
