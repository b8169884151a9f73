package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetlink/config"
	"fleetlink/engine"
	"fleetlink/fleetstate"
	"fleetlink/health"
	"fleetlink/httpapi"
	"fleetlink/metric"
	"fleetlink/persist"
	"fleetlink/store"
	"fleetlink/transport"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "fleetlink.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for api.password_hash and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fleetlinkd", Version)
		return
	}
	if *hashPassword != "" {
		hash, err := httpapi.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	metrics := metric.New()

	// Database: the dispatch and robot-event log. The backbone runs without
	// it; only the audit trail is lost.
	var db *store.DB
	if d, err := store.Open(&cfg.Database); err != nil {
		log.Warn("database unavailable, running without dispatch log", "error", err)
	} else {
		db = d
		defer db.Close()
		log.Info("database open", "driver", cfg.Database.Driver)
	}

	// Redis mirror of the fleet picture, optional the same way.
	var mirror fleetstate.Mirror
	if cfg.Redis.Address != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis not available, running without fleet mirror", "error", err)
			redisClient.Close()
		} else {
			log.Info("redis connected", "address", cfg.Redis.Address)
			mirror = fleetstate.NewRedisStore(redisClient)
			defer redisClient.Close()
		}
		cancel()
	}

	fleet := fleetstate.NewManager(db, mirror, log.With("component", "fleetstate"))

	mqttClient := transport.NewClient(&cfg.MQTT, metrics, log.With("component", "transport"))

	persistStore, err := persist.NewStore(&cfg.Persistence, metrics, log.With("component", "persist"))
	if err != nil {
		log.Error("open persistence store failed", "dir", cfg.Persistence.Directory, "error", err)
		os.Exit(1)
	}

	healthTopic := fmt.Sprintf("%s/%s/%s/healthcheck",
		cfg.Protocol.BasePrefix, cfg.Protocol.Manufacturer, cfg.MQTT.ClientID)
	monitor := health.NewMonitor(&cfg.Health, mqttClient, healthTopic, metrics, log.With("component", "health"))

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Transport: mqttClient,
		Health:    monitor,
		Persist:   persistStore,
		Fleet:     fleet,
		DB:        db,
		Metrics:   metrics,
		Logger:    log.With("component", "engine"),
	})
	if err := eng.Start(); err != nil {
		log.Error("engine start failed", "error", err)
		os.Exit(1)
	}
	defer eng.Stop()

	handler, stopWeb := httpapi.NewRouter(eng, metrics, log.With("component", "httpapi"))

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	go func() {
		log.Info("api server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("fleetlinkd ready", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
