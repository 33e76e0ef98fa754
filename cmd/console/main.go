// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/activity_tracker/internal/app"
	"github.com/relabs-tech/activity_tracker/internal/config"
)

func main() {
	configPath := flag.String("config", "./activity_config.txt", "path to configuration file")
	switchEvery := flag.Duration("switch", 0, "flip the mock gait between walking and running at this period (0 = never)")
	flag.Parse()

	log.Println("starting activity tracker (mock console)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunMockConsole(cfg, *switchEvery); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
