package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	config "github.com/NordCoder/Pingwatch/internal/config/pingwatch"
	pg "github.com/NordCoder/Pingwatch/internal/repository/postgres"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("PINGWATCH_CONFIG"), "path to a yaml config file")
	flag.Parse()

	dbURL := os.Getenv("DB_DSN")
	if dbURL == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		dbURL = cfg.DB.URL
	}
	if dbURL == "" {
		log.Fatal("DB_DSN is empty and db.url is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := pg.Migrate(ctx, dbURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations: up OK")
}
