// Command checkdb verifies that the configured store and Redis are reachable.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"bloodbooth/internal/cache"
	"bloodbooth/internal/config"
	"bloodbooth/internal/database"
	"bloodbooth/internal/repository"
)

func main() {
	if err := run(); err != nil {
		log.Printf("connection check failed: %v", err)
		os.Exit(1)
	}
	fmt.Println("\nEverything looks good, the server can start.")
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Printf("Checking %s store...\n", cfg.StoreDriver)

	var repo repository.DonationRequestRepository
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		fmt.Printf("Connecting to: %s\n", redactURI(cfg.MongoURI))
		client, err := repository.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		mongoRepo := repository.NewMongoDonationRequestRepository(client, cfg.MongoDatabase)
		defer func() { _ = mongoRepo.Disconnect(context.Background()) }()

		if err := mongoRepo.Ping(ctx); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
		fmt.Printf("Database: %s\n", cfg.MongoDatabase)

		collections, err := mongoRepo.Collections(ctx)
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}
		fmt.Printf("Collections (%d):\n", len(collections))
		for _, name := range collections {
			fmt.Printf("  - %s\n", name)
		}
		repo = mongoRepo

	default:
		if cfg.StoreDriver == config.StoreDriverPostgres {
			fmt.Printf("Connecting to: %s:%s/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		} else {
			fmt.Printf("Opening: %s\n", cfg.SQLitePath)
		}
		db, err := database.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}()
		if err := database.Ping(ctx, db); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		fmt.Printf("Database: %s\n", db.Dialector.Name())
		repo = repository.NewDonationRequestRepository(db)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count donation requests: %w", err)
	}
	fmt.Printf("Total donation requests: %d\n", count)

	cache.InitRedis(cfg.RedisURL)
	defer cache.Close()
	if cache.GetClient() == nil {
		fmt.Println("Redis: unavailable (cache and events disabled, rate limiting falls back to memory)")
	} else {
		fmt.Println("Redis: ok")
	}
	return nil
}

// redactURI drops credentials from a connection string.
func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid uri>"
	}
	u.User = nil
	return u.String()
}
