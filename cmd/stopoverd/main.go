// cmd/stopoverd starts the broker's HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/labteral/stopover/internal/api"
	"github.com/labteral/stopover/internal/broker"
	"github.com/labteral/stopover/internal/config"
	"github.com/labteral/stopover/internal/logging"
)

const banner = `
  ___ _
 / __| |_ ___ _ __  _____ _____ _ _
 \__ \  _/ _ \ '_ \/ _ \ V / -_) '_|
 |___/\__\___/ .__/\___/\_/\___|_|
             |_|
`

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("STOPOVER_CONFIG", "./config.yaml"), "path to the broker's YAML config file")
	logLevel := flag.String("log-level", config.GetEnvOrDefault("STOPOVER_LOG_LEVEL", "info"), "zap log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if err := requireActiveSentinel(cfg.Global.DataDir); err != nil {
		logger.Fatal("streams directory is not active", zap.Error(err))
	}

	metricsRegistry := prometheus.NewRegistry()
	b := broker.New(cfg, logger, metricsRegistry)
	b.Run()

	server := api.NewServer(b, logger, metricsRegistry, cfg.Global.Port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_ = server.Shutdown(ctx)
		b.Shutdown()
		os.Exit(0)
	}()

	fmt.Print(banner)
	fmt.Printf("stopover listening on :%d (data dir %s)\n\n", cfg.Global.Port, cfg.Global.DataDir)

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// requireActiveSentinel refuses to start serving a streams directory that
// hasn't been explicitly marked active, the same safeguard the original
// broker enforces before binding its listener.
func requireActiveSentinel(dataDir string) error {
	_, err := os.Stat(filepath.Join(dataDir, "streams", ".active"))
	return err
}
