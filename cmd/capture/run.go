package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/video-system/go-frame-grabber/pkg/api"
	"github.com/video-system/go-frame-grabber/pkg/capture"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "capture continuously from the configured channels",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to config file",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override the API port",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := capture.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.IsSet("port") {
		cfg.API.Port = c.Int("port")
	}

	logger, err := newLogger(c, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	manager, err := capture.NewManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		apiServer = api.NewServer(api.ServerConfig{
			Host:    cfg.API.Host,
			Port:    cfg.API.Port,
			Manager: manager,
			Version: version,
			Logger:  logger,
		})
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("API server error", "error", err)
				cancel()
			}
		}()
	}

	// Wait for shutdown
	manager.Wait()

	manager.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}

	if err := manager.GetError(); err != nil {
		logger.Warn("capture stopped with errors", "error", err)
		return nil
	}
	logger.Info("capture stopped")
	return nil
}
