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

	"github.com/varlamzhordania/terrapura.net/internal/inventory"
	"github.com/varlamzhordania/terrapura.net/internal/messaging"
	"github.com/varlamzhordania/terrapura.net/internal/orders"
	"github.com/varlamzhordania/terrapura.net/internal/telemetry"
	"github.com/varlamzhordania/terrapura.net/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", "0.1.0")
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

	var placedEvents, processingEvents, lowStockEvents *messaging.Producer
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		placedEvents = messaging.NewProducer(brokers, "order.placed")
		processingEvents = messaging.NewProducer(brokers, "order.processing")
		lowStockEvents = messaging.NewProducer(brokers, "inventory.low_stock")
		defer func() {
			_ = placedEvents.Close()
			_ = processingEvents.Close()
			_ = lowStockEvents.Close()
		}()
	}

	repo := orders.NewRepository(db)
	invRepo := inventory.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	service := orders.NewService(db, repo, invRepo, walletRepo, processingEvents, lowStockEvents, logger)
	handler := orders.NewHandler(repo, service, placedEvents, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", handler.HandleList)
	mux.HandleFunc("POST /orders", handler.HandleCreate)
	mux.HandleFunc("GET /orders/{id}", handler.HandleGet)
	mux.HandleFunc("POST /orders/{id}/process", handler.HandleProcess)
	mux.HandleFunc("POST /orders/{id}/approve", handler.HandleApprove)
	mux.HandleFunc("POST /orders/{id}/release-escrow", handler.HandleReleaseEscrow)
	mux.HandleFunc("PATCH /orders/{id}/status", handler.HandleUpdateStatus)
	mux.HandleFunc("GET /orders/{id}/shipment", handler.HandleGetShipment)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
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
