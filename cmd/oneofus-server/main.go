// Package main runs the one of us membership API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/config"
	"github.com/gear-foundation/one-of-us/internal/passkey"
	membershipsvc "github.com/gear-foundation/one-of-us/services/membership"
	"github.com/gear-foundation/one-of-us/services/membership/migrations"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg config.Server, logger zerolog.Logger) error {
	svcCfg := membershipsvc.Config{
		CORSOrigins:   cfg.Origins(),
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		GaugeSchedule: cfg.GaugeSchedule,
		Logger:        logger,
	}

	if cfg.DatabaseURL != "" {
		db, err := membershipsvc.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Apply(ctx, db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		svcCfg.Store = membershipsvc.NewPostgresStore(db)
		logger.Info().Msg("using postgres member store")
	} else {
		svcCfg.Store = membershipsvc.NewMemoryStore(nil)
		logger.Warn().Msg("DATABASE_URL not set, members are kept in memory")
	}

	if cfg.ProgramID != "" {
		client, err := chain.NewClient(chain.Config{RPCURL: cfg.RPCURL, Logger: logger})
		if err != nil {
			return err
		}
		program, err := chain.ParseProgramAddress(cfg.ProgramID)
		if err != nil {
			return err
		}
		enc, err := chain.ParseCountEncoding(cfg.CountEncoding)
		if err != nil {
			return err
		}
		svcCfg.ChainCount = chain.NewCountReader(chain.CountReaderConfig{
			Client:   client,
			Registry: chain.NewRegistry(program),
			Encoding: enc,
			Logger:   logger,
		})
	} else {
		logger.Warn().Msg("PROGRAM_ID not set, chain count disabled")
	}

	if cfg.RedisURL != "" {
		bus, err := passkey.NewRedisBusFromURL(cfg.RedisURL, "oneofus", logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		svcCfg.Bus = bus
	}

	svc, err := membershipsvc.New(svcCfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", membershipsvc.Version).Msg("membership service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	return nil
}
