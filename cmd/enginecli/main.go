// Command enginecli is the process entrypoint: load configuration, wire the
// engine, run it until signalled, and drain its report channel to stdout.
// This mirrors the teacher's cmd/main.go shape (load config, dial client,
// construct the domain object, run, range over reportChan) generalized from
// one hardcoded strategy run to the full discovery/quote/execute loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/basearb/engine"
	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/logging"
)

func main() {
	// A missing .env is fine in deployed environments where the process
	// environment is already populated; only report unexpected read errors.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: .env load: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	factoryTablePath := os.Getenv("FACTORY_TABLE_PATH")
	if factoryTablePath == "" {
		factoryTablePath = "configs/factories.yaml"
	}
	factories, err := config.LoadFactoryTable(factoryTablePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "factory table: %v\n", err)
		os.Exit(1)
	}

	logs, err := logging.NewStreams(
		os.Getenv("LOG_PATH_GENERAL"),
		os.Getenv("LOG_PATH_ERRORS"),
		os.Getenv("LOG_PATH_TRADES"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logs.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, factories, logs)
	if err != nil {
		logs.Errors.Sugar().Fatalf("engine init: %v", err)
	}

	reportChan := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Run(ctx, reportChan)
	}()

	for update := range reportChan {
		fmt.Println(update)
	}

	if err := <-errCh; err != nil {
		logs.Errors.Sugar().Errorf("engine run: %v", err)
		os.Exit(1)
	}
}
