package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the price tracker service.
type Config struct {
	HTTPAddr string

	MongoURI string
	Database string

	NATSUrl string

	ProductAPIBaseURL string
	ProductAPIKey     string
	UpstreamTimeout   time.Duration

	// StaleCutoffHour is the UTC hour of the upstream daily price batch.
	// Records last updated before the most recent cutoff are stale.
	StaleCutoffHour int

	// RateSafetyBuffer is the remaining-quota floor below which outgoing
	// upstream calls are blocked until the reported reset.
	RateSafetyBuffer int

	RefreshInterval    time.Duration
	RefreshParallelism int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// Load collects configuration from the environment with defaults. Required
// values without a usable default are fatal, matching the other services.
func Load() *Config {
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		log.Fatal("MONGO_URI is not set")
	}

	apiKey := os.Getenv("PRODUCT_API_KEY")
	if apiKey == "" {
		log.Fatal("PRODUCT_API_KEY is not set")
	}

	return &Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		MongoURI: mongoURI,
		Database: getenv("MONGO_DATABASE", "productsdb"),

		NATSUrl: getenv("NATS_URL", "nats://localhost:4222"),

		ProductAPIBaseURL: getenv("PRODUCT_API_BASE_URL", "https://api.grocerydata.example.com/v1"),
		ProductAPIKey:     apiKey,
		UpstreamTimeout:   durenvs("UPSTREAM_TIMEOUT_SEC", 30),

		StaleCutoffHour:  atoienv("STALE_CUTOFF_HOUR", 17),
		RateSafetyBuffer: atoienv("RATE_SAFETY_BUFFER", 100),

		RefreshInterval:    durenvs("REFRESH_INTERVAL_SEC", 6*3600),
		RefreshParallelism: atoienv("REFRESH_PARALLELISM", 4),
	}
}
