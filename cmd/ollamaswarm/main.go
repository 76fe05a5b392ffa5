// Package main is the entry point for the swarm router.
//
// @title                       ollamaswarm API
// @version                     1.0
// @description                 Registry and health-aware reverse proxy for a swarm of Ollama servers.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"ollamaswarm/config"
	_ "ollamaswarm/cmd/ollamaswarm/docs"
	"ollamaswarm/internal/app"
	"ollamaswarm/internal/logging"
	"ollamaswarm/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flags := pflag.NewFlagSet("ollamaswarm", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to the YAML config file")
	envFile := flags.String("env-file", "", "dotenv file loaded before the environment is read (default .env)")
	logFormat := flags.String("log-format", "", "log format: auto, json, text or pretty (overrides config)")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn or error (overrides config)")
	port := flags.String("port", "", "listen port (overrides config)")
	versionFlag := flags.Bool("version", false, "print version information and exit")
	_ = flags.Parse(os.Args[1:])

	if *versionFlag {
		fmt.Println(version.Info())
		return
	}

	// Until the config is read, log with whatever the flags ask for.
	logging.Setup(logging.Options{Format: *logFormat, Level: *logLevel})

	result, err := config.LoadWithOptions(context.Background(), config.Options{
		ConfigPath: *configPath,
		EnvFile:    *envFile,
	})
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := result.Config

	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	logging.Setup(logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})

	slog.Info("starting ollamaswarm",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)
	if result.Path != "" {
		slog.Info("config file loaded", "path", result.Path)
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- application.Start(":" + cfg.Server.Port)
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "error", err)
			exitCode = 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = application.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		slog.Error("shutdown error", "error", err)
		exitCode = 1
	}
	if exitCode != 0 {
		stop()
		os.Exit(exitCode)
	}
}
