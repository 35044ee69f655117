package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/app"
	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/hue"
)

const (
	pairTimeout     = 60 * time.Second
	discoverTimeout = 15 * time.Second
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	pair := flag.Bool("pair", false, "Pair with the bridge (press its link button) and store the username")
	discover := flag.Bool("discover", false, "Print bridges found on the network and exit")
	flag.Parse()

	if *discover {
		setupLogging("info", false, true)
		if err := runDiscover(); err != nil {
			log.Fatal().Err(err).Msg("Discovery failed")
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting huesync")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if *pair {
		pairCtx, cancel := context.WithTimeout(ctx, pairTimeout)
		address, err := application.Pair(pairCtx)
		cancel()
		application.Stop()
		if err != nil {
			log.Fatal().Err(err).Msg("Pairing failed")
		}
		fmt.Printf("Paired with %s\n", address)
		return
	}

	if err := application.Start(ctx); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func runDiscover() error {
	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	bridges, err := hue.Discover(ctx)
	if err != nil {
		return err
	}
	if len(bridges) == 0 {
		fmt.Println("No bridges found")
		return nil
	}

	transport := hue.NewHTTPTransport(5*time.Second, 0)
	defer transport.Close()
	for _, b := range bridges {
		if info, ok := hue.CheckBridgeAvailability(ctx, transport, b.Address); ok {
			b.Name = info.Name
		}
		fmt.Printf("%-16s %-18s %s\n", b.Address, b.ID, b.Name)
	}
	return nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
