// Package main is the entry point of the presence daemon.
//
// The daemon watches scan batches for the study-room beacon, keeps the
// study-session clock, delivers reminders and records every completed
// session. An optional HTTP API exposes presence, check-in and history.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/beacon-presence/config"
	"github.com/alem-hub/beacon-presence/internal/application/command"
	"github.com/alem-hub/beacon-presence/internal/application/monitor"
	"github.com/alem-hub/beacon-presence/internal/application/query"
	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
	"github.com/alem-hub/beacon-presence/internal/domain/presence"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	domainscan "github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/external/telegram"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/messaging"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/notify"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/observability"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/scan"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/scheduler"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/beacon-presence/internal/interface/http"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	target, err := cfg.Beacon.Target()
	if err != nil {
		return fmt.Errorf("invalid beacon identity: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	logOpts.Format = logger.Format(cfg.Observability.LogFormat)
	logOpts.AddSource = cfg.App.Debug
	logOpts.Service = cfg.App.Name
	log := logger.Setup(logOpts)

	log.Info("starting presence daemon",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"beacon", target.String(),
		"device", cfg.App.DeviceID,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	health := httpapi.NewHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (scan feed, mirror, pub/sub)
	// ─────────────────────────────────────────────────────────────────────────
	var cache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			if cfg.Scan.Driver == config.ScanDriverRedis {
				return fmt.Errorf("redis is required by the scan feed: %w", err)
			}
			log.Warn("Redis unavailable, continuing without it", logger.Err(err))
			cache = nil
		} else {
			defer func() {
				log.Info("closing Redis connection...")
				_ = cache.Close()
			}()
			health.AddCheck("redis", cache.Ping)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. POSTGRESQL (optional remote session store)
	// ─────────────────────────────────────────────────────────────────────────
	var sessionRepo *postgres.SessionRepository
	if cfg.Database.Enabled() {
		log.Info("connecting to database...")
		dbConn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()

		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		health.AddCheck("postgres", dbConn.Ping)
		sessionRepo = postgres.NewSessionRepository(dbConn)
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SQLITE (preferences and session outbox)
	// ─────────────────────────────────────────────────────────────────────────
	store, err := sqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer func() {
		log.Info("closing local store...")
		_ = store.Close()
	}()
	health.AddCheck("sqlite", store.Ping)

	var outbox *sqlite.SessionOutbox
	if cfg.SQLite.OutboxEnabled {
		outbox = sqlite.NewSessionOutbox(store)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. KAFKA (optional session stream)
	// ─────────────────────────────────────────────────────────────────────────
	var stream *messaging.SessionStream
	if cfg.Kafka.Enabled {
		stream, err = messaging.NewSessionStream(messaging.SessionStreamConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("failed to create session stream: %w", err)
		}
		defer func() {
			log.Info("closing session stream...")
			_ = stream.Close()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SESSION RECORDERS
	// ─────────────────────────────────────────────────────────────────────────
	var recorders []notify.NamedRecorder
	if outbox != nil {
		recorders = append(recorders, notify.NamedRecorder{Name: "sqlite", Recorder: outbox})
	}
	if sessionRepo != nil {
		recorders = append(recorders, notify.NamedRecorder{
			Name:     "postgres",
			Recorder: notify.NewResilientRecorder("postgres", sessionRepo, metrics.BreakerStateChanged, log),
		})
	}
	if stream != nil {
		recorders = append(recorders, notify.NamedRecorder{
			Name:     "kafka",
			Recorder: notify.NewResilientRecorder("kafka", stream, metrics.BreakerStateChanged, log),
		})
	}
	var recorder session.Recorder
	if len(recorders) > 0 {
		recorder = notify.NewMultiRecorder(recorders...)
	} else {
		log.Warn("no session recorder configured, sessions will not be stored")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. REMINDER SINKS
	// ─────────────────────────────────────────────────────────────────────────
	var sinks []notify.NamedSink
	for _, name := range cfg.Notify.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, notify.NamedSink{Name: name, Sink: notify.NewLogSink(log)})
		case config.SinkRedis:
			if cache == nil {
				log.Warn("redis reminder sink requested without Redis, skipping")
				continue
			}
			publisher := redis.NewReminderPublisher(cache, cfg.Notify.Channel)
			sinks = append(sinks, notify.NamedSink{
				Name: name,
				Sink: notify.NewResilientSink(name, publisher, metrics.BreakerStateChanged, log),
			})
		case config.SinkTelegram:
			tgCfg := telegram.DefaultClientConfig(cfg.Notify.TelegramToken)
			tgCfg.Logger = log
			tg, err := telegram.NewReminderSink(telegram.NewClient(tgCfg), cfg.Notify.TelegramChatID)
			if err != nil {
				return fmt.Errorf("failed to create telegram sink: %w", err)
			}
			sinks = append(sinks, notify.NamedSink{
				Name: name,
				Sink: notify.NewResilientSink(name, tg, metrics.BreakerStateChanged, log),
			})
		}
	}
	var sink reminder.Sink
	if len(sinks) > 0 {
		sink = notify.NewFanOutSink(sinks...)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	localBus := messaging.DefaultInMemoryEventBusConfig()
	localBus.Logger = log
	localBus.Metrics = metrics
	localBus.AsyncMode = true

	var bus interface {
		shared.EventPublisher
		Close() error
	}
	if cache != nil {
		bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(cache.Client()),
			ChannelName:    cfg.Redis.EventChannel,
			InstanceID:     cfg.App.DeviceID,
			LocalBusConfig: localBus,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(localBus)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. SCAN SOURCE
	// ─────────────────────────────────────────────────────────────────────────
	source, err := scanSource(cfg.Scan, cache, metrics, log)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. PREFERENCES
	// ─────────────────────────────────────────────────────────────────────────
	var prefs preferences.Store = sqlite.NewPreferences(store)
	if cfg.Redis.PreferencesEnabled && cache != nil {
		prefs = redis.NewPreferencesStore(cache, cfg.App.DeviceID)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. PRESENCE MIRROR
	// ─────────────────────────────────────────────────────────────────────────
	var mirror presence.Mirror
	if cache != nil && cfg.Redis.MirrorEnabled {
		if cfg.Redis.PseudonymKey == "" {
			log.Warn("REDIS_PSEUDONYM_KEY is empty, presence mirror disabled")
		} else {
			mirror = redis.NewPresenceMirror(cache, redis.NewPseudonymizer(cfg.Redis.PseudonymKey), redis.PresenceMirrorConfig{
				TTL:    cfg.Redis.MirrorTTL,
				Logger: log,
			})
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 14. MONITOR
	// ─────────────────────────────────────────────────────────────────────────
	monitorCfg := monitor.DefaultConfig(target)
	monitorCfg.CheckInterval = cfg.Presence.CheckInterval
	monitorCfg.AbsenceThreshold = cfg.Presence.AbsenceThreshold
	monitorCfg.ClockInterval = cfg.Presence.ClockInterval
	monitorCfg.ReminderInterval = cfg.Presence.ReminderInterval
	monitorCfg.Workers = cfg.Presence.Workers
	monitorCfg.QueueSize = cfg.Presence.QueueSize
	monitorCfg.SideEffectTimeout = cfg.Presence.SideEffectTimeout
	monitorCfg.Logger = log

	mon, err := monitor.New(monitorCfg, monitor.Deps{
		Source:      source,
		Preferences: prefs,
		Recorder:    recorder,
		Sink:        sink,
		Bus:         bus,
		Mirror:      mirror,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	defer func() {
		log.Info("stopping monitor...")
		_ = mon.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 15. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	var history session.Query
	switch {
	case sessionRepo != nil:
		history = sessionRepo
	case outbox != nil:
		history = outbox
	}

	checkIn := command.NewCheckInHandler(prefs, mon, bus, log)
	forceSilent := command.NewForceSilentReminderHandler(mon)
	getPresence := query.NewGetPresenceHandler(mon)
	var listSessions *query.ListSessionsHandler
	if history != nil {
		listSessions = query.NewListSessionsHandler(history, cfg.App.Location)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 16. SCHEDULED JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:   log,
		Location: cfg.App.Location,
		Metrics:  metrics,
	})
	if outbox != nil && sessionRepo != nil && cfg.Jobs.OutboxSyncInterval > 0 {
		target := notify.NewOutboxTarget("postgres", sessionRepo, metrics.BreakerStateChanged, log)
		job := jobs.NewOutboxSyncJob(outbox, target, jobs.OutboxSyncConfig{Target: "postgres", Logger: log})
		if err := sched.Register(job, scheduler.Every(cfg.Jobs.OutboxSyncInterval)); err != nil {
			return fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
	}
	if history != nil && cfg.Jobs.DailySummaryCron != "" {
		cron, err := scheduler.ParseCronExpression(cfg.Jobs.DailySummaryCron)
		if err != nil {
			return fmt.Errorf("invalid daily summary schedule: %w", err)
		}
		job := jobs.NewDailySummaryJob(prefs, history, bus, jobs.DailySummaryConfig{
			Location: cfg.App.Location,
			Logger:   log,
		})
		if err := sched.Register(job, cron); err != nil {
			return fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		log.Info("stopping scheduler...")
		_ = sched.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 17. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	var serverErr <-chan error
	var server *httpapi.Server
	if cfg.HTTP.Enabled {
		httpCfg := httpapi.DefaultConfig()
		httpCfg.Addr = cfg.HTTP.Addr
		httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		httpCfg.Debug = cfg.App.Debug

		server = httpapi.NewServer(httpCfg, httpapi.Dependencies{
			GetPresence:    getPresence,
			ListSessions:   listSessions,
			CheckIn:        checkIn,
			ForceSilent:    forceSilent,
			CurrentStudent: prefs.StudentID,
			Health:         health,
			Metrics:        metrics,
			Logger:         log,
		})
		serverErr = server.StartAsync()
		log.Info("HTTP API listening", "addr", httpCfg.Addr)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 18. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("presence daemon is running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case <-mon.Done():
		log.Info("monitor stopped, shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.MaxConns = int32(c.MaxOpenConns)
	pc.MinConns = int32(c.MaxIdleConns)
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.QueryTimeout = c.QueryTimeout
	return pc
}

// scanSource builds the configured scan source.
func scanSource(c config.ScanConfig, cache *redis.Cache, metrics *observability.Metrics, log *slog.Logger) (domainscan.Source, error) {
	switch c.Driver {
	case config.ScanDriverRedis:
		if cache == nil {
			return nil, errors.New("scan driver redis requires Redis")
		}
		return scan.NewRedisFeed(cache, scan.RedisFeedConfig{
			BatchKey:    c.BatchKey,
			StatusKey:   c.StatusKey,
			PollTimeout: c.PollTimeout,
			Backoff:     retry.ScanFeedBackoff(),
			Metrics:     metrics,
			Logger:      log,
		}), nil

	case config.ScanDriverFile:
		var r io.Reader = os.Stdin
		if c.FilePath != "" && c.FilePath != "-" {
			f, err := os.Open(c.FilePath)
			if err != nil {
				return nil, fmt.Errorf("open scan file: %w", err)
			}
			r = f
		}
		return scan.NewReplaySource(r, scan.ReplayConfig{
			Interval: c.ReplayInterval,
			Metrics:  metrics,
			Logger:   log,
		}), nil

	default:
		return nil, fmt.Errorf("unknown scan driver %q", c.Driver)
	}
}
