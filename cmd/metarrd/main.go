package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/jsaddiction/Metarr-sub001/internal/api"
	"github.com/jsaddiction/Metarr-sub001/internal/config"
	"github.com/jsaddiction/Metarr-sub001/internal/events"
	"github.com/jsaddiction/Metarr-sub001/internal/handlers/enrich"
	"github.com/jsaddiction/Metarr-sub001/internal/handlers/maintenance"
	"github.com/jsaddiction/Metarr-sub001/internal/handlers/player"
	"github.com/jsaddiction/Metarr-sub001/internal/handlers/publish"
	"github.com/jsaddiction/Metarr-sub001/internal/handlers/scan"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
	"github.com/jsaddiction/Metarr-sub001/internal/scheduler"
	"github.com/jsaddiction/Metarr-sub001/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
		workers = flag.Int("workers", 0, "number of worker goroutines (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *workers > 0 {
		cfg.Queue.Workers = *workers
	}

	setupLogging(cfg.Logging)

	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open job store")
	}
	defer closeStore()

	svc := worker.NewService(store, worker.Config{
		Workers:          cfg.Queue.Workers,
		PollMin:          cfg.Queue.PollIntervalMin,
		PollMax:          cfg.Queue.PollIntervalMax,
		StaleAfter:       cfg.Queue.StaleClaimAfter,
		BreakerThreshold: cfg.Queue.BreakerThreshold,
		BreakerCooldown:  cfg.Queue.BreakerCooldown,
	})

	for _, h := range []worker.Handler{
		scan.New(cfg.Library.Providers),
		enrich.New(cfg.Library.ProviderURL, cfg.Library.NotifyTargets),
		publish.New(),
		player.New(),
		maintenance.New(store, cfg.Queue.FinishedRetention),
	} {
		if err := svc.Register(h); err != nil {
			log.Fatal().Err(err).Msg("register handler")
		}
	}

	if cfg.AMQP.Enabled {
		pub, err := events.NewPublisher(events.Config{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("connect amqp")
		}
		defer pub.Close()
		svc.Subscribe(pub.HandleTransition)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start queue service")
	}

	scheduleStore, _ := store.(queue.ScheduleStore)
	if scheduleStore != nil {
		sched := scheduler.NewService(scheduleStore, svc, cfg.Queue.ScheduleInterval)
		go sched.Start(ctx)
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(svc, store, scheduleStore),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	svc.Stop(cfg.Queue.ShutdownGrace)
}

func setupLogging(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

func openStore(cfg config.DatabaseConfig) (queue.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return queue.NewMemoryStore(), func() {}, nil

	case "postgres":
		db, err := queue.OpenPostgres(context.Background(), queue.PostgresConfig{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			SSLMode:         cfg.SSLMode,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := queue.EnsurePostgresSchema(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return queue.NewPostgresStore(db), func() { db.Close() }, nil

	case "sqlite":
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(1) // SQLite single writer
		if err := queue.EnsureSchema(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return queue.NewSQLiteStore(db), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
