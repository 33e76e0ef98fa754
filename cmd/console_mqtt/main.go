package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/activity_tracker/internal/app"
	"github.com/relabs-tech/activity_tracker/internal/config"
)

func main() {
	configPath := flag.String("config", "./activity_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting activity console (MQTT subscriber)")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
