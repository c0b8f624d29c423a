package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bulkwars/api"
	"bulkwars/bus"
	"bulkwars/config"
	"bulkwars/db"
	"bulkwars/engine"
	"bulkwars/metrics"
	"bulkwars/ws"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(settings)

	rules, err := settings.Game.Rules()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid game rules")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	sinks := []engine.Sink{collector}
	handlers := &api.Handlers{Metrics: collector.Handler()}

	// Optional backends. A missing URL disables the sink, a failed connect
	// is logged and the game runs without it.
	var archive *db.Archive
	if settings.DatabaseURL != "" {
		archive, err = db.OpenArchive(ctx, settings.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("PostgreSQL unavailable, round archive disabled")
			archive = nil
		} else {
			sinks = append(sinks, archive)
			handlers.Rounds = archive
			handlers.Postgres = archive
		}
	}

	var mirror *db.Mirror
	if settings.RedisURL != "" {
		mirror, err = db.OpenMirror(ctx, db.RedisOptions{
			Addr:     settings.RedisURL,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, session mirror disabled")
			mirror = nil
		} else {
			sinks = append(sinks, mirror)
			handlers.Redis = mirror
		}
	}

	var publisher *bus.Publisher
	if settings.NATSURL != "" {
		publisher, err = bus.Connect(settings.NATSURL)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, event bus disabled")
			publisher = nil
		} else {
			sinks = append(sinks, publisher)
			handlers.NATS = publisher
		}
	}

	hub := ws.NewHub(ws.DefaultConfig())
	collector.WatchHub(hub)

	eng := engine.New(rules, hub, engine.Options{
		Clock:     clockwork.NewRealClock(),
		Strict:    settings.Strict,
		Sinks:     sinks,
		QueueSize: config.CommandQueueSize,
	})
	handlers.Session = eng

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler(eng))
	handlers.Register(mux)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   settings.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:    settings.Addr(),
		Handler: corsHandler.Handler(mux),
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Dur("round", rules.RoundDuration).
			Dur("candle", rules.CandleDuration).
			Int("sinks", len(sinks)).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	hub.Close()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped with error")
	}

	if archive != nil {
		archive.Close()
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			log.Error().Err(err).Msg("redis close failed")
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("nats close failed")
		}
	}
	log.Info().Msg("server stopped")
}

func setupLogging(s *config.Settings) {
	level, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if s.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
