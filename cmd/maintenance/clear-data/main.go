package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/database"
)

func main() {
	var (
		store       string
		filePath    string
		redisAddr   string
		dbURLFlag   string
		bookingID   string
		clearAudits bool
	)
	flag.StringVar(&store, "store", "", "fallback store to clear: file, redis or postgres (overrides FALLBACK_STORE)")
	flag.StringVar(&filePath, "file", "", "snapshot file path (overrides FALLBACK_FILE_PATH)")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address (overrides REDIS_ADDR)")
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&bookingID, "booking", "", "only drop the snapshot of this booking")
	flag.BoolVar(&clearAudits, "audits", false, "also truncate the payment audit table")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	store = firstNonEmpty(store, os.Getenv("FALLBACK_STORE"), config.FallbackStoreFile)
	filePath = firstNonEmpty(filePath, os.Getenv("FALLBACK_FILE_PATH"), "data/booking_snapshots.json")
	redisAddr = firstNonEmpty(redisAddr, os.Getenv("REDIS_ADDR"), "localhost:6379")
	dbURL := firstNonEmpty(dbURLFlag, os.Getenv("DATABASE_URL"))

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var db *database.PostgresDB
	if store == config.FallbackStorePostgres || clearAudits {
		if dbURL == "" {
			log.Fatal("DATABASE_URL is not set and -database-url was not provided")
		}

		// Build minimal database config without loading full app config
		var err error
		db, err = database.NewConnection(config.DatabaseConfig{
			URL:                dbURL,
			Driver:             firstNonEmpty(os.Getenv("DATABASE_DRIVER"), "postgres"),
			MaxConnections:     2,
			MaxIdleConnections: 1,
		}, logger)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
	}

	var storage database.SnapshotStorage
	switch store {
	case config.FallbackStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		defer client.Close()
		storage = database.NewRedisSnapshotStorage(client)
	case config.FallbackStorePostgres:
		storage = database.NewPostgresSnapshotStorage(db)
	case config.FallbackStoreFile:
		storage = database.NewFileSnapshotStorage(filePath)
	default:
		log.Fatalf("invalid store %q (must be 'file', 'redis' or 'postgres')", store)
	}

	fallbackStore := database.NewFallbackStore(storage, database.DefaultSnapshotCapacity, logger)

	if bookingID != "" {
		removed, err := fallbackStore.Remove(ctx, bookingID)
		if err != nil {
			log.Fatalf("failed to remove fallback snapshot: %v", err)
		}
		if removed {
			fmt.Printf("Removed fallback snapshot of booking %s from %s store.\n", bookingID, store)
		} else {
			fmt.Printf("No fallback snapshot of booking %s in %s store.\n", bookingID, store)
		}
	} else {
		cleared, err := fallbackStore.Clear(ctx)
		if err != nil {
			log.Fatalf("failed to clear fallback snapshots: %v", err)
		}
		fmt.Printf("Cleared %d fallback snapshot(s) from %s store.\n", cleared, store)
	}

	if clearAudits {
		if _, err := db.ExecContext(ctx, `TRUNCATE TABLE booking_payment_audits`); err != nil {
			log.Fatalf("failed to truncate payment audits: %v", err)
		}

		var count int
		if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM booking_payment_audits`); err != nil {
			log.Fatalf("failed to count payment audits: %v", err)
		}
		fmt.Printf("Payment audit table truncated (%d rows remaining).\n", count)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
