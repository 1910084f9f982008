// Plexus node daemon.
//
// Usage:
//
//	plexusd                  Run a node
//	plexusd --help           Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/plexus-mesh/plexus/config"
	plog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = filepath.Join(logsDir, "plexus-node.log."+time.Now().Format("2006-01-02"))
	}
	if err := plog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: log file unavailable, logging to console only: %v\n", err)
	}
	logger := plog.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commands := make(chan node.NodeCommand, 16)

	svc, err := node.New(ctx, cfg, commands)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start node")
		os.Exit(1)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- svc.Run(ctx)
	}()

	logger.Info().
		Str("model", cfg.Engine.Model).
		Strs("listen", cfg.P2P.ListenAddrs).
		Msg("node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		commands <- node.NodeCommand{Kind: node.CmdShutdown}
		<-runErr
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("node run loop exited with error")
			svc.Close()
			os.Exit(1)
		}
	}

	if err := svc.Close(); err != nil {
		logger.Warn().Err(err).Msg("error during shutdown")
	}
	logger.Info().Msg("goodbye")
}
