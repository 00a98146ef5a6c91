// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nishisan-dev/sink-replicator/internal/config"
	"github.com/nishisan-dev/sink-replicator/internal/daemon"
	"github.com/nishisan-dev/sink-replicator/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/sink-replicator/sink.yaml", "path to sink config file")
	flag.Parse()

	cfg, err := config.LoadSinkConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	logger.Info("starting sink client",
		"address", cfg.Sink.Address,
		"mode", string(cfg.Sink.Mode),
	)

	if err := daemon.Run(cfg, logger); err != nil {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}
