package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tgmirror/internal/config"
)

func main() {
	dataDir := flag.String("data-dir", "", "data directory, remembered for future runs")
	flag.Parse()
	if *dataDir != "" {
		if err := config.PersistDataDir(*dataDir); err != nil {
			fmt.Fprintln(os.Stderr, "persist data dir:", err)
			os.Exit(1)
		}
	}

	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, log)
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("mirror stopped", zap.Error(err))
	}
}
