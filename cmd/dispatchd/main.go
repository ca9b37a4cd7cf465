package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/dispatch"
	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/internal/events"
	"github.com/quickbite/dispatch/internal/orderstore"
	"github.com/quickbite/dispatch/internal/tracking"
	"github.com/quickbite/dispatch/internal/websocket"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	dbDSN := getEnv("DB_DSN", "")
	kafkaBrokers := getEnv("KAFKA_BROKERS", "")
	port := getEnv("DISPATCH_PORT", "8080")

	var store orderstore.Store
	if dbDSN != "" {
		db, err := sql.Open("postgres", dbDSN)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open database")
		}
		defer db.Close()

		for i := 0; i < 30; i++ {
			if err := db.Ping(); err == nil {
				logger.Info("Database connection established")
				break
			}
			logger.Info("Waiting for database...")
			time.Sleep(2 * time.Second)
		}

		pg := orderstore.NewPostgres(db, logger)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			logger.WithError(err).Fatal("Failed to create tables")
		}
		store = pg
	} else {
		logger.Info("DB_DSN not set, using in-memory order store")
		store = orderstore.NewMemory(logger)
	}

	bus := eventbus.New(logger)

	hub := websocket.NewHub(logger)
	go hub.Run()
	detachHub := hub.AttachBus(bus)
	defer detachHub()

	if kafkaBrokers != "" {
		relay, err := events.NewRelay(kafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka relay")
		}
		defer relay.Close()
		detachRelay := relay.Attach(bus)
		defer detachRelay()
	} else {
		logger.Info("KAFKA_BROKERS not set, event relay disabled")
	}

	coordinator := dispatch.NewCoordinator(store, bus, logger)
	reporter := tracking.NewReporter(bus, logger)
	handler := dispatch.NewHandler(coordinator, reporter, logger)

	router := mux.NewRouter()
	handler.Register(router)
	router.HandleFunc("/api/ws", hub.HandleWebSocket)
	router.Use(dispatch.LoggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting dispatch service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
