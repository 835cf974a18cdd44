package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"PollPulse/internal/di"
	"PollPulse/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	check := flag.Bool("check", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *check {
		fmt.Printf("config ok: env=%s store=%s port=%d kafka=%t clickhouse=%t\n",
			cfg.Environment, cfg.Store.Type, cfg.Server.Port, cfg.Kafka.Enabled, cfg.ClickHouse.Enabled)
		return
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("poll backend initialization failed: %v", err)
	}

	// blocks until SIGINT/SIGTERM, then drains streams before stopping
	if err := app.Run(); err != nil {
		log.Printf("poll backend error: %v", err)
		os.Exit(1)
	}
}
