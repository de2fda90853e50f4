package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/identity"
	"github.com/mamadbah2/gymledger/internal/server/handlers"
)

// CallerHeader names the staff member performing a request.
const CallerHeader = "X-User-ID"

// New wires the Gin engine with required routes and middlewares. webhook may
// be nil when chat commands are disabled.
func New(handler *handlers.Handler, webhook *handlers.WebhookHandler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))
	r.Use(callerMiddleware())

	r.POST("/sales", handler.RecordSale)
	r.POST("/payments", handler.RecordPayment)
	r.GET("/products/:id", handler.GetProduct)
	r.PUT("/products/:id", handler.PutProduct)
	r.GET("/aggregates/:month", handler.GetAggregate)
	r.POST("/aggregates/replay", handler.ReplayOutbox)
	r.POST("/reconcile/:month", handler.ReconcileMonth)
	r.GET("/reports/financial", handler.FinancialReport)
	if webhook != nil {
		r.GET("/webhook", webhook.Verify)
		r.POST("/webhook", webhook.Receive)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if caller := c.GetHeader(CallerHeader); caller != "" {
			c.Request = c.Request.WithContext(identity.WithCaller(c.Request.Context(), caller))
		}
		c.Next()
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("caller", identity.CallerOr(c.Request.Context(), identity.Anonymous)))
	}
}
