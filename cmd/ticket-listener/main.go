package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ticketscan/internal/config"
	"ticketscan/internal/listener"
	"ticketscan/internal/logging"
	"ticketscan/internal/ocr"
	"ticketscan/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	must(err)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	engine := ocr.NewEngine(ocr.ConfigFrom(cfg), logger)
	engine.CheckPreprocess()
	svc := listener.NewService(db, cfg, engine, logger)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
