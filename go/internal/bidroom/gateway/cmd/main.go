package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nexahaul/bidroom/go/internal/bidroom/archive"
	"github.com/nexahaul/bidroom/go/internal/bidroom/config"
	"github.com/nexahaul/bidroom/go/internal/bidroom/gateway"
	"github.com/nexahaul/bidroom/go/internal/bidroom/health"
	"github.com/nexahaul/bidroom/go/internal/bidroom/registry"
	"github.com/nexahaul/bidroom/go/internal/bidroom/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("BIDROOM_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Setup logging
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("bid room server failed")
	}
	log.Info().Msg("bid room server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := clockwork.NewRealClock()
	checker := health.NewChecker(clock, 5*time.Second)

	var (
		sinks   []gateway.Sink
		workers []func(context.Context) error
	)

	if cfg.NATS.Enabled {
		rl, err := relay.Connect(ctx, cfg.Relay())
		if err != nil {
			return fmt.Errorf("failed to start event relay: %w", err)
		}
		defer rl.Close()
		checker.Register("nats", rl.Check)
		sinks = append(sinks, rl)
		workers = append(workers, rl.Run)
	}

	if cfg.Archive.Enabled {
		db, err := setupDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := archive.Migrate(ctx, db, cfg.Archive.Table); err != nil {
			return err
		}
		checker.Register("archive", db.PingContext)

		repo := archive.NewRepository(db, cfg.Archive.Table)
		writer := archive.NewWriter(repo, clock, cfg.ArchiveWriter())
		sinks = append(sinks, writer)
		workers = append(workers, writer.Run)
	}

	connections := gateway.NewConnectionManager(cfg.ConnectionSettings(), sinks...)
	rooms := registry.New(cfg.Registry(), clock, connections)
	defer rooms.Close()

	seeds, err := cfg.Seeds()
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		if _, err := rooms.GetOrCreate(seed.ID, seed.StartingPrice); err != nil {
			return fmt.Errorf("failed to seed room %s: %w", seed.ID, err)
		}
	}

	server := gateway.NewServer(cfg.GatewayServer(), connections, rooms, clock)
	server.SetReadiness(checker)
	handler, err := server.Handler()
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return rooms.RunJanitor(gctx) })
	for _, work := range workers {
		work := work
		g.Go(func() error { return work(gctx) })
	}

	g.Go(func() error {
		log.Info().
			Str("addr", httpServer.Addr).
			Int("seed_rooms", len(seeds)).
			Bool("nats", cfg.NATS.Enabled).
			Bool("archive", cfg.Archive.Enabled).
			Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		return nil
	})

	return g.Wait()
}

func setupDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database.Target()).Msg("connected to archive database")
	return db, nil
}
