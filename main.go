package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rng-u01/internal/config"
	"rng-u01/internal/journal"
	"rng-u01/internal/logging"
	"rng-u01/internal/runner"
)

func main() {
	boot := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("config")
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, logging.Format(cfg.Log.Format))
	if err != nil {
		boot.Fatal().Err(err).Msg("logger")
	}

	backend, err := runner.OpenBackend(cfg.Backend)
	if err != nil {
		log.Fatal().Err(err).Msg("backend")
	}
	store, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		// An unreadable journal file has been moved aside; start a new one.
		log.Warn().Err(err).Msg("journal not loaded")
		if store, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN); err != nil {
			log.Fatal().Err(err).Msg("journal")
		}
	}
	defer store.Close()
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("work dir")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newServer(cfg, runner.New(backend, store, log), store, log).routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("backend", backend.Name()).Str("journal", cfg.Journal.Driver).Msg("rng-u01 server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		store.Close()
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
