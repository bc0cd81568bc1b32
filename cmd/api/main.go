package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hydronet/telemetry/internal/api"
	"github.com/hydronet/telemetry/internal/config"
	"github.com/hydronet/telemetry/internal/store"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer st.Close()

	srv := api.New(cfg, st)
	log.Printf("REST API listening on %s", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
