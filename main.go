// main.go
// Service entry point: loads config, initializes logging, then runs the websocket
// relay, the session authority and the HTTP surface until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erilali/vossync/internal/api"
	"github.com/erilali/vossync/internal/authority"
	"github.com/erilali/vossync/internal/config"
	"github.com/erilali/vossync/internal/hub"
	"github.com/erilali/vossync/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Global logger for non-hub components
var serverLogger *logger.Logger

func main() {
	configPath := flag.String("config", "vossync.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Logger)
	serverLogger = logger.NewLogger("server")
	serverLogger.Info("Logger initialized with configuration")
	serverLogger.WithFields(map[string]interface{}{
		"level":       cfg.Logger.Level,
		"log_to_file": cfg.Logger.LogToFile,
		"log_to_json": cfg.Logger.LogToJSON,
		"file_path":   cfg.Logger.FilePath,
		"transport":   cfg.Transport.Kind,
		"relay":       cfg.Relay.Enabled,
		"authority":   cfg.Authority.Enabled,
	}).Info("Configuration details")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		serverLogger.Fatalf("Server stopped: %v", err)
	}
	serverLogger.Info("Server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	var relay *hub.Hub
	if cfg.Relay.Enabled {
		relay = hub.NewHub(logger.NewLogger("hub"))
		go relay.Run()
		defer relay.Stop()
	}

	var (
		auth   *authority.Authority
		status api.StatusReporter
	)
	if cfg.Authority.Enabled {
		adapter, err := cfg.Transport.NewAdapter(logger.NewLogger("transport"))
		if err != nil {
			return err
		}
		auth = authority.New(adapter, cfg.Authority.Options(), logger.NewLogger("authority"))
		if s, ok := adapter.(api.StatusReporter); ok {
			status = s
		}
	}

	server := api.NewServer(cfg.Relay.Addr, relay, auth, status, logger.NewLogger("api"))
	serveErr := make(chan error, 1)
	if cfg.Relay.Enabled {
		ln, err := net.Listen("tcp", cfg.Relay.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Relay.Addr, err)
		}
		go func() { serveErr <- server.Serve(ln) }()
	}

	// With the websocket transport the authority dials this process's own relay,
	// so it connects after the listener is up.
	if auth != nil {
		connectCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		err := auth.Start(connectCtx, cfg.Transport.Endpoint())
		cancel()
		if err != nil {
			return fmt.Errorf("start authority: %w", err)
		}
		defer auth.Stop()
		go auth.Run(ctx)
	}

	if !cfg.Relay.Enabled {
		<-ctx.Done()
		return nil
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
		return errors.New("http server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLogger.Warnf("HTTP shutdown: %v", err)
	}
	return nil
}
