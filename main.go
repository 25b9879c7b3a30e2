package main

import (
	"net/http"
	"os"

	"food-delivery-client/config"
	"food-delivery-client/handlers"
	"food-delivery-client/logging"
	"food-delivery-client/middleware"
	"food-delivery-client/models"
	"food-delivery-client/routes"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		logging.New("info", "json").WithError(err).Fatal("Failed to load .env")
	}
	cfg, err := config.LoadServer()
	if err != nil {
		logging.New("info", "json").WithError(err).Fatal("Invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Set Gin mode
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.DebugMode)
	}

	db, err := config.OpenDB(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	err = db.AutoMigrate(
		&models.Account{},
		&models.RefreshToken{},
		&models.PasswordReset{},
		&models.Merchant{},
		&models.CatalogItem{},
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := handlers.SeedAdmin(db, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.WithError(err).Fatal("Failed to seed admin account")
		}
	}

	tokens := middleware.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	h := handlers.New(db, tokens, log)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.Metrics(prometheus.DefaultRegisterer))

	// CORS middleware for frontend integration
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "Food Delivery Auth API",
			"version": "1.0.0",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.SetupRoutes(r, h, middleware.NewRateLimiter(cfg.AuthRateLimit, log))

	log.WithField("port", cfg.Port).Info("Server running")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}
