// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/logging"
)

func main() {
	configPath := flag.String("config", "./step_config.txt", "path to configuration file (empty for defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logger.Info("starting step-computer producer (accelerometer → steps → MQTT)", "source", cfg.Source)

	src, interval, closeSrc, err := app.OpenSource(cfg, logger)
	if err != nil {
		logger.Error("failed to open sample source", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// Unblocks a source waiting on the port.
		<-ctx.Done()
		_ = closeSrc()
	}()

	err = app.RunStepProducer(ctx, cfg, src, interval, logger)
	stop()
	if err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}
