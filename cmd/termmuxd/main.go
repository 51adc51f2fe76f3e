package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/backend/local"
	"github.com/agentshell/termmux/internal/backend/remote"
	"github.com/agentshell/termmux/internal/config"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional TOML config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
	}
	defer logger.Sync()

	channel, err := buildChannel(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize backend", zap.Error(err))
	}

	srv := server.New(cfg, logger, channel)
	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}

func buildChannel(cfg *config.Config, logger *logging.Logger) (backend.Channel, error) {
	switch cfg.Backend.Mode {
	case "local", "":
		var opts []local.Option
		if cfg.Backend.Shell != "" {
			opts = append(opts, local.WithShell(cfg.Backend.Shell))
		}
		return local.New(logger, opts...), nil
	case "remote":
		if cfg.Backend.Address == "" {
			return nil, fmt.Errorf("remote backend requires TERMMUX_BACKEND_ADDR")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return remote.Dial(ctx, cfg.Backend.Address, logger)
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
	}
}
