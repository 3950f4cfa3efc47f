package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"github.com/gravitas-games/hacksim/internal/config"
	"github.com/gravitas-games/hacksim/internal/logger"
	"github.com/gravitas-games/hacksim/internal/server"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	Config  string        `short:"c" long:"config" env:"CONFIG_PATH" description:"Path to YAML configuration" default:"./configs/server.yaml"`
	Address string        `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Override listen address (host:port)"`
	Version bool          `short:"v" long:"version" description:"Print version and exit"`
	Log     logger.Config `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func parseOptions() *options {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.NamespaceDelimiter = "-"
	parser.EnvNamespace = "HACKSIM"

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Println("hacksim", version)
		os.Exit(0)
	}

	return &opts
}

func main() {
	opts := parseOptions()
	logger.Setup(opts.Log)

	log.Info().Str("version", version).Msg("Starting intrusion simulation server...")

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal().Err(err).Str("path", opts.Config).Msg("Failed to load configuration")
	}
	log.Info().Str("path", opts.Config).Msg("Configuration loaded")

	addr := cfg.Addr()
	if opts.Address != "" {
		addr = opts.Address
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Server listening")
		if err := srv.Start(addr); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatal().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down...")
	}

	if err := srv.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Server stopped")
}
