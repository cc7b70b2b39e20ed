package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"price-tracker-service/middleware"
	"price-tracker-service/ratelimit"
)

// Setup builds the operational HTTP surface: health and metrics. Product
// routes live in the consumer-facing API, not in this service.
func Setup(budget *ratelimit.BudgetTracker) *gin.Engine {
	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	config.AllowMethods = []string{"GET", "OPTIONS"}
	r.Use(cors.New(config))

	r.Use(middleware.PrometheusMiddleware("price-tracker-service"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":          "healthy",
			"service":         "price-tracker-service",
			"budgetExhausted": budget.IsExhausted(),
			"budgetRemaining": budget.Remaining(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
