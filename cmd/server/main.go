package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/djei/backend/internal/database"
	"github.com/djei/backend/internal/logger"
	mW "github.com/djei/backend/internal/middleware"
	"github.com/djei/backend/internal/services"
)

// @title DJEI Backend API
// @version 1.0
// @description Backend-for-frontend API for the DJEI music-event platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("catalog.client_id", "CATALOG_CLIENT_ID")
	viper.BindEnv("catalog.client_secret", "CATALOG_CLIENT_SECRET")
	viper.BindEnv("catalog.base_url", "CATALOG_BASE_URL")
	viper.BindEnv("catalog.auth_url", "CATALOG_AUTH_URL")
	viper.BindEnv("payments.secret_key", "PAYMENTS_SECRET_KEY")
	viper.BindEnv("payments.base_url", "PAYMENTS_BASE_URL")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.pretty", "LOG_PRETTY")

	appLogger := logger.Init()

	if err := viper.ReadInConfig(); err != nil {
		appLogger.Warn().Err(err).Msg("Config file not found, using defaults")
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewTokenLedgerService(db, redisClient, appLogger)
	tokenService := services.NewTokenService(ledgerService, appLogger)
	profileService := services.NewProfileService(db, appLogger)
	catalogService := services.NewCatalogService(redisClient, appLogger)
	paymentService := services.NewPaymentService(appLogger)

	rateLimiter := mW.NewRateLimiter(rate.Limit(20), 40)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogging(appLogger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(rateLimiter.Middleware())

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	// Serve OpenAPI spec
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// All routes require an authenticated caller; token issuance is
		// owned by the external identity provider.
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/tokens/balance", tokenService.GetBalance)
			r.Post("/tokens/purchase", tokenService.Purchase)
			r.Post("/tokens/bid", tokenService.Bid)
			r.Get("/tokens/transactions", tokenService.ListTransactions)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)
				r.Post("/tokens/admin/adjust", tokenService.AdminAdjust)
			})

			r.Post("/profiles/{role}", profileService.AssignRole)
			r.Get("/profiles/me", profileService.GetMyProfile)
			r.Patch("/profiles/me", profileService.UpdateMyProfile)

			r.Get("/catalog/search", catalogService.Search)
			r.Get("/catalog/tracks/{trackId}", catalogService.GetTrack)
			r.Get("/catalog/recommendations", catalogService.Recommendations)

			r.Post("/payments/intent", paymentService.CreateIntent)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info().Str("port", port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("Server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	appLogger.Info().Msg("Server stopped")
}
