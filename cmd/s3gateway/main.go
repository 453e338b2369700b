package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/s3gateway/internal/config"
	"github.com/piwi3910/s3gateway/internal/server"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags. Zero values leave the configured value alone.
	configPath := flag.String("config", "", "Path to configuration file")
	dataDir := flag.String("data", "", "Data directory path")
	backend := flag.String("backend", "", "Engine backend (memory, badger, nats)")
	s3Port := flag.Int("s3-port", 0, "S3 API port")
	adminPort := flag.Int("admin-port", 0, "Admin API port")
	debug := flag.Bool("debug", false, "Enable debug logging")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("s3gateway %s\n", version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", buildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(*configPath, config.Options{
		DataDir:   *dataDir,
		Backend:   *backend,
		S3Port:    *s3Port,
		AdminPort: *adminPort,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *printConfig {
		data, err := cfg.YAML()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to render configuration")
		}

		_, _ = os.Stdout.Write(data)
		os.Exit(0)
	}

	// Configure logging
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}

		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("node_id", cfg.NodeID).
		Msg("Starting s3gateway")

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("s3gateway shutdown complete")
}
