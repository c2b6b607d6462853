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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/transitpay/backend/internal/database"
	"github.com/transitpay/backend/internal/fare"
	"github.com/transitpay/backend/internal/gateway"
	mW "github.com/transitpay/backend/internal/middleware"
	"github.com/transitpay/backend/internal/services"
)

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
	viper.BindEnv("database.run_migrations", "DATABASE_RUN_MIGRATIONS")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("gateway.secret_key", "PAYSTACK_SECRET_KEY")
	viper.BindEnv("gateway.base_url", "PAYSTACK_BASE_URL")
	viper.BindEnv("gateway.callback_url", "PAYSTACK_CALLBACK_URL")
	viper.BindEnv("gateway.currency", "SETTLEMENT_CURRENCY")

	viper.BindEnv("fare.tiers", "FARE_TIERS")
	viper.BindEnv("jwt.terminal_secret", "JWT_TERMINAL_SECRET")
	viper.BindEnv("settlement.operator_bic", "SETTLEMENT_OPERATOR_BIC")
	viper.BindEnv("settlement.operator_account", "SETTLEMENT_OPERATOR_ACCOUNT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Fare tier table
	viper.SetDefault("fare.tiers", fare.DefaultTableSpec)
	fareTable, err := fare.ParseTable(viper.GetString("fare.tiers"))
	if err != nil {
		log.Fatalf("Invalid fare tier configuration: %v", err)
	}

	// Initialize stores
	db := database.InitDatabase()
	defer db.Close()

	if viper.GetBool("database.run_migrations") {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	paystack := gateway.NewPaystackClient()
	walletService := services.NewWalletService(db, redisClient)
	tripService := services.NewTripService(db, redisClient, walletService, fareTable)
	topupService := services.NewTopupService(db, walletService, paystack)
	cardService := services.NewCardService(db, redisClient)
	settlementService := services.NewSettlementService(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cards/register", cardService.Register)
		r.Get("/cards/{cardId}", cardService.GetCard)
		r.Get("/cards/{cardId}/balance", cardService.GetBalance)
		r.Get("/cards/{cardId}/trips", tripService.ListTrips)
		r.Get("/cards/{cardId}/ledger", walletService.ListLedger)

		r.Post("/cards/{cardId}/topup", topupService.InitializeTopup)
		r.Get("/payments/callback", topupService.PaymentCallback)
		r.Post("/payments/webhook", topupService.PaymentWebhook)

		r.Post("/settlement/export", settlementService.ExportSettlement)

		// Fare-gate terminals only
		r.Group(func(r chi.Router) {
			r.Use(mW.TerminalAuth)

			r.Post("/taps/in", tripService.TapIn)
			r.Post("/taps/out", tripService.TapOut)
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
