package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/circlelabs/circle"
	"github.com/circlelabs/circle/config"
	"github.com/circlelabs/circle/event"
	"github.com/circlelabs/circle/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "circled:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bus := event.NewBus(registry)

	contract, err := buildContract(cfg.Circle, logger, bus)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, contract, logger, registry)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func buildContract(cfg config.CircleConfig, logger zerolog.Logger, bus *event.Bus) (*circle.Contract, error) {
	if cfg.Name == "" || cfg.Creator == "" {
		return nil, fmt.Errorf("circle name and creator must be configured")
	}
	required, err := uint256.FromDecimal(cfg.RequiredEscrow)
	if err != nil {
		return nil, fmt.Errorf("parsing required escrow: %w", err)
	}
	deposit := required
	if cfg.CreatorDeposit != "" {
		if deposit, err = uint256.FromDecimal(cfg.CreatorDeposit); err != nil {
			return nil, fmt.Errorf("parsing creator deposit: %w", err)
		}
	}
	rules := circle.Rules{
		VotingPeriod:  cfg.VotingPeriod.Std(),
		Quorum:        circle.Percent(cfg.QuorumPercent),
		Threshold:     circle.Percent(cfg.ThresholdPercent),
		AllowEndEarly: cfg.AllowEndEarly,
	}
	return circle.New(cfg.Name, required, rules, cfg.Creator, deposit,
		circle.WithLogger(logger),
		circle.WithEventBus(bus),
		circle.WithNonVotingMembers(cfg.NonVotingMembers...),
	)
}
