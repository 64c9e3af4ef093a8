package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foundermatch/backend/docs"
	"github.com/foundermatch/backend/internal/config"
	"github.com/foundermatch/backend/internal/database"
	"github.com/foundermatch/backend/internal/gateway"
	"github.com/foundermatch/backend/internal/handlers"
	mW "github.com/foundermatch/backend/internal/middleware"
	"github.com/foundermatch/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title FounderMatch Credits API
// @version 1.0
// @description Credit economy engine: checkout-to-credit pipeline and credit-gated unlocks
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

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.checkout_base_url", "GATEWAY_CHECKOUT_BASE_URL")
	viper.BindEnv("gateway.key_id", "GATEWAY_KEY_ID")
	viper.BindEnv("gateway.key_secret", "GATEWAY_KEY_SECRET")
	viper.BindEnv("gateway.max_retries", "GATEWAY_MAX_RETRIES")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("pricing.inr_minor_per_credit", "PRICING_INR_MINOR_PER_CREDIT")
	viper.BindEnv("pricing.usd_minor_per_credit", "PRICING_USD_MINOR_PER_CREDIT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("gateway.base_url", "https://api.razorpay.com")
	viper.SetDefault("gateway.max_retries", 3)

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "FounderMatch Credits API"
	docs.SwaggerInfo.Description = "Credit economy engine: checkout-to-credit pipeline and credit-gated unlocks"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize stores
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:         viper.GetString("gateway.base_url"),
		CheckoutBaseURL: viper.GetString("gateway.checkout_base_url"),
		KeyID:           viper.GetString("gateway.key_id"),
		KeySecret:       viper.GetString("gateway.key_secret"),
		MaxRetries:      viper.GetUint64("gateway.max_retries"),
	})

	pricing := config.LoadPricingTable()
	ledgerService := services.NewCreditLedgerService(db)
	unlockService := services.NewUnlockService(db, redisClient, ledgerService)
	checkoutService := services.NewCheckoutService(db, redisClient, ledgerService, gatewayClient, pricing)

	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	unlockHandler := handlers.NewUnlockHandler(unlockService)
	creditsHandler := handlers.NewCreditsHandler(ledgerService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
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
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/checkout/start", checkoutHandler.StartCheckout)
			r.Post("/checkout/complete", checkoutHandler.CompleteCheckout)
			r.Get("/checkout/orders/{orderId}", checkoutHandler.GetOrder)

			r.Get("/credits/balance", creditsHandler.GetBalance)
			r.Get("/credits/history", creditsHandler.GetHistory)

			r.Get("/unlocks", unlockHandler.ListUnlocks)
			r.Get("/unlocks/check", unlockHandler.CheckUnlocked)
			r.Post("/unlocks", unlockHandler.Unlock)
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
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
