package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/api"
	"github.com/cytokine/backend/internal/clients"
	"github.com/cytokine/backend/internal/config"
	"github.com/cytokine/backend/internal/database"
	"github.com/cytokine/backend/internal/fleet"
	"github.com/cytokine/backend/internal/lobby"
	"github.com/cytokine/backend/internal/match"
	"github.com/cytokine/backend/internal/middleware"
	"github.com/cytokine/backend/internal/migrations"
	"github.com/cytokine/backend/internal/notify"
	"github.com/cytokine/backend/internal/probe"
	"github.com/cytokine/backend/internal/redis"
	"github.com/cytokine/backend/internal/scheduler"
	"github.com/cytokine/backend/internal/store"
	"github.com/cytokine/backend/internal/supervisor"
	"github.com/cytokine/backend/internal/ws"
)

func newLogger(cfg *config.Config) *logrus.Entry {
	logger := logrus.New()
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logrus.NewEntry(logger).WithField("service", "cytokine")
}

func openStore(cfg *config.Config, log *logrus.Entry) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory store; state is lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	if cfg.MigrateOnStart {
		log.Info("running database migrations on startup")
		if err := migrations.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir, log); err != nil {
			return nil, nil, err
		}
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgres(db), func() { db.Close() }, nil
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer closeStore()

	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	dispatcher := notify.NewDispatcher(
		time.Duration(cfg.NotifyTimeoutSeconds)*time.Second,
		log.WithField("component", "notify"),
		notify.NewRedisSink(rdb),
	)
	sched := scheduler.New(ctx, log.WithField("component", "scheduler"))
	defer sched.Stop()

	matchOpts := match.Options{
		Probe:               probe.New(time.Duration(cfg.ProbeTimeoutSeconds)*time.Second, log.WithField("component", "probe")),
		ResultFetchAttempts: cfg.ResultFetchAttempts,
		ResultFetchInterval: cfg.ResultFetchInterval(),
		SweepJitter:         cfg.SweepJitter(),
	}
	if fc := fleet.NewClient(cfg, log.WithField("component", "fleet")); fc != nil {
		matchOpts.Fleet = fc
		log.WithField("host", cfg.LighthouseHost).Info("server provisioning enabled")
	} else {
		log.Warn("LIGHTHOUSE_HOST not set; matches go live without a provisioned server")
	}

	lobbies := lobby.NewService(st, dispatcher, sched, log.WithField("component", "lobby"), lobby.Options{
		DefaultExpiry: cfg.LobbyDefaultExpirySeconds,
		SweepJitter:   cfg.SweepJitter(),
	})
	matches := match.NewService(st, dispatcher, sched, log.WithField("component", "match"), matchOpts)
	lobbies.BindMatches(matches)
	matches.BindLobbies(lobbies)

	if cfg.MonitoringEnabled {
		host, _ := os.Hostname()
		owner := host + "-" + uuid.NewString()
		supervisor.Start(ctx,
			&supervisor.Worker{
				Name:     "lobbies",
				Sweeper:  lobbies,
				Interval: cfg.MonitoringInterval(),
				Lease:    redis.NewLease(rdb, "cytokine:sweep:", owner),
				Log:      log.WithField("component", "supervisor"),
			},
			&supervisor.Worker{
				Name:     "matches",
				Sweeper:  matches,
				Interval: cfg.MonitoringInterval(),
				Lease:    redis.NewLease(rdb, "cytokine:sweep:", owner),
				Log:      log.WithField("component", "supervisor"),
			},
		)
	}

	hub := ws.NewHub(log.WithField("component", "ws"))
	go hub.Run(ctx)
	ws.StartEventSubscriber(ctx, rdb, hub)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LogMiddleware(log.WithField("component", "http")))
	router.Use(middleware.CORSMiddleware(cfg, log))

	api.SetupRoutes(router, api.Services{
		Clients: clients.NewService(st, cfg.JWTSecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute, log.WithField("component", "clients")),
		Lobbies: lobbies,
		Matches: matches,
		Hub:     hub,
	}, cfg, log.WithField("component", "api"))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("starting cytokine server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
