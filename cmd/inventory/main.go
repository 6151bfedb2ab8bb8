package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/varlamzhordania/terrapura.net/internal/catalog"
	"github.com/varlamzhordania/terrapura.net/internal/inventory"
	"github.com/varlamzhordania/terrapura.net/internal/messaging"
	"github.com/varlamzhordania/terrapura.net/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "inventory", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var lowStockEvents *messaging.Producer
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		lowStockEvents = messaging.NewProducer(brokers, "inventory.low_stock")
		defer func() { _ = lowStockEvents.Close() }()
	}

	repo := inventory.NewRepository(db)
	handler := inventory.NewHandler(repo, lowStockEvents, logger)

	catalogRepo := catalog.NewRepository(db)
	catalogHandler := catalog.NewHandler(catalogRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items", handler.HandleListItems)
	mux.HandleFunc("POST /items", handler.HandleCreateItem)
	mux.HandleFunc("GET /items/{itemId}", handler.HandleGetItem)
	mux.HandleFunc("POST /items/{itemId}/add", handler.HandleAddStock)
	mux.HandleFunc("POST /items/{itemId}/remove", handler.HandleRemoveStock)
	mux.HandleFunc("POST /items/{itemId}/adjust", handler.HandleAdjustStock)
	mux.HandleFunc("PATCH /items/{itemId}/threshold", handler.HandleSetThreshold)
	mux.HandleFunc("GET /items/{itemId}/transactions", handler.HandleListTransactions)
	mux.HandleFunc("GET /alerts", handler.HandleListAlerts)
	mux.HandleFunc("DELETE /alerts/{alertId}", handler.HandleDismissAlert)
	mux.HandleFunc("POST /alerts/{alertId}/notified", handler.HandleMarkAlertNotified)

	// Catalog reads ride along with the inventory service.
	mux.HandleFunc("GET /herbs", catalogHandler.HandleListHerbs)
	mux.HandleFunc("GET /herbs/{slug}", catalogHandler.HandleGetHerb)
	mux.HandleFunc("GET /partners", catalogHandler.HandleListPartners)
	mux.HandleFunc("GET /partners/{partnerId}", catalogHandler.HandleGetPartner)
	mux.HandleFunc("GET /partners/{partnerId}/bases", catalogHandler.HandleListBases)
	mux.HandleFunc("GET /currencies", catalogHandler.HandleListCurrencies)
	mux.HandleFunc("GET /rates/{base}/{target}", catalogHandler.HandleGetRate)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting inventory service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
