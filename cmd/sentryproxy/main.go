package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sentryproxy/internal/config"
	"sentryproxy/internal/logging"
	"sentryproxy/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-file>\n", os.Args[0])
		return 1
	}
	configPath := os.Args[1]

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log := logging.New(envOr("SENTRYPROXY_LOG_LEVEL", "info"), envOr("SENTRYPROXY_LOG_FORMAT", "console"))

	srv, err := server.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		log.Errorf("server error: %v", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
