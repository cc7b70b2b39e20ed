package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/singleflight"

	"price-tracker-service/api"
	"price-tracker-service/cache"
	"price-tracker-service/config"
	"price-tracker-service/metrics"
	"price-tracker-service/ratelimit"
	"price-tracker-service/store"
	"price-tracker-service/upstream"
	"price-tracker-service/worker"
)

func main() {
	cfg := config.Load()

	metrics.Init("price-tracker-service", "1.0.0", os.Getenv("ENVIRONMENT"))

	// Connect to MongoDB
	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	if err := mongoClient.Ping(context.Background(), nil); err != nil {
		log.Fatal("MongoDB ping error:", err)
	}
	log.Println("Connected to MongoDB successfully")

	db := mongoClient.Database(cfg.Database)

	// Wire the fetch/cache pipeline
	productStore := store.New(db)
	budget := ratelimit.NewBudgetTracker(cfg.RateSafetyBuffer)
	client := upstream.NewClient(cfg.ProductAPIBaseURL, cfg.ProductAPIKey, cfg.UpstreamTimeout, budget)
	coordinator := cache.NewCoordinator(productStore, client, new(singleflight.Group), cfg.StaleCutoffHour, cfg.UpstreamTimeout)

	// Create and start the refresh worker
	refreshWorker, err := worker.NewWorker(cfg, coordinator, productStore)
	if err != nil {
		log.Fatal("Failed to create worker:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := refreshWorker.Start(ctx); err != nil {
		log.Fatal("Failed to start worker:", err)
	}

	// Setup HTTP server (health + metrics)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Setup(budget),
	}

	go func() {
		log.Printf("Price tracker service starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down price tracker service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refreshWorker.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Price tracker service stopped")
}
