package main

import (
	"flag"
	"log"
	"os"

	"github.com/vijayshreepathak/QuantAlert/internal/di"
	"github.com/vijayshreepathak/QuantAlert/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s provider=%s rules=%s", cfg.Environment, cfg.Feed.Provider, cfg.Rules.Driver)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
