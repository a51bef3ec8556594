package main

import (
	"context"
	"flag"
	"log"
	"os"

	"OIWatch/internal/di"
	"OIWatch/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s symbols=%s data_dir=%s", cfg.Environment, cfg.Symbols.Source, cfg.Store.DataDir)

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.ClickHouse.Enabled {
		log.Printf("clickhouse: mirror ready - table: %s.%s", cfg.ClickHouse.Database, cfg.ClickHouse.Table)
	}
	if cfg.Notify.Kafka.Enabled {
		log.Printf("kafka: alerts brokers=%v topic=%s", cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic)
	}

	// Run application (blocks until signal)
	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
