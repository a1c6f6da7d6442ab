// Command server starts the loopcast playback control service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"loopcast/internal/api"
	"loopcast/internal/auth"
	"loopcast/internal/engine"
	"loopcast/internal/events"
	"loopcast/internal/observability/logging"
	"loopcast/internal/observability/metrics"
	"loopcast/internal/server"
	"loopcast/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	uploadsDir := flag.String("uploads-dir", "", "directory for uploaded video files")
	backupsDir := flag.String("backups-dir", "", "directory for datastore snapshots")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "operator session lifetime")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired session sweeps")
	queueDriver := flag.String("queue-driver", "", "event queue driver (memory or redis)")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the event queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the event queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the event queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the event queue")
	queueRedisStream := flag.String("queue-redis-stream", "", "Redis stream key for playback events")
	queueRedisGroup := flag.String("queue-redis-group", "", "Redis consumer group for playback events")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the event queue")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	operatorUsername := flag.String("operator-username", "", "operator account name")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe-path", "", "path to the ffprobe binary")
	uptimeInterval := flag.Duration("uptime-interval", 0, "interval between uptime counter refreshes")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("LOOPCAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("LOOPCAST_LOG_FORMAT")),
	})

	listenAddr := resolveListenAddr(*addr, os.Getenv("LOOPCAST_ADDR"))
	uploads := resolvePath(*uploadsDir, os.Getenv("LOOPCAST_UPLOADS_DIR"), "data/uploads")
	backups := resolvePath(*backupsDir, os.Getenv("LOOPCAST_BACKUPS_DIR"), "data/backups")

	dsn := strings.TrimSpace(firstNonEmpty(*postgresDSN, os.Getenv("LOOPCAST_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("LOOPCAST_STORAGE_DRIVER"), dsn)
	if err != nil {
		logger.Error("invalid storage configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "postgres":
		store, err = storage.NewPostgresRepository(dsn)
		if err != nil {
			logger.Error("failed to open Postgres datastore", "error", err)
			os.Exit(1)
		}
	default:
		dataFile := resolvePath(*dataPath, os.Getenv("LOOPCAST_DATA"), "data/store.json")
		store, err = storage.NewJSONRepository(dataFile)
		if err != nil {
			logger.Error("failed to open JSON datastore", "error", err)
			os.Exit(1)
		}
	}

	sessions, sessionStoreCloser, err := buildSessionManager(sessionManagerConfig{
		Driver:  firstNonEmpty(*sessionStoreDriver, os.Getenv("LOOPCAST_SESSION_STORE")),
		DSN:     firstNonEmpty(*sessionPostgresDSN, os.Getenv("LOOPCAST_SESSION_POSTGRES_DSN"), dsn),
		Storage: driver,
		TTL:     resolveDuration(*sessionTTL, "LOOPCAST_SESSION_TTL", 24*time.Hour),
	})
	if err != nil {
		logger.Error("failed to initialise session store", "error", err)
		os.Exit(1)
	}

	queue, err := buildQueue(queueConfig{
		Driver:     firstNonEmpty(*queueDriver, os.Getenv("LOOPCAST_QUEUE_DRIVER")),
		Addr:       firstNonEmpty(*queueRedisAddr, os.Getenv("LOOPCAST_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("LOOPCAST_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*queueRedisUsername, os.Getenv("LOOPCAST_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*queueRedisPassword, os.Getenv("LOOPCAST_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*queueRedisStream, os.Getenv("LOOPCAST_QUEUE_REDIS_STREAM")),
		Group:      firstNonEmpty(*queueRedisGroup, os.Getenv("LOOPCAST_QUEUE_REDIS_GROUP")),
		MasterName: firstNonEmpty(*queueRedisMasterName, os.Getenv("LOOPCAST_QUEUE_REDIS_SENTINEL_MASTER")),
		Logger:     logging.WithComponent(logger, "events"),
	})
	if err != nil {
		logger.Error("failed to initialise event queue", "error", err)
		os.Exit(1)
	}

	recorder := metrics.Default()

	supervisor := engine.NewSupervisor(
		logging.WithComponent(logger, "supervisor"),
		nil,
		engine.WithBinary(firstNonEmpty(*ffmpegPath, os.Getenv("LOOPCAST_FFMPEG_PATH"))),
	)
	eng, err := engine.New(engine.Config{
		Repository: store,
		Queue:      queue,
		Metrics:    recorder,
		Logger:     logging.WithComponent(logger, "engine"),
		Supervisor: supervisor,
		UploadsDir: uploads,
	})
	if err != nil {
		logger.Error("failed to initialise playback engine", "error", err)
		os.Exit(1)
	}

	processor := api.NewMediaProcessor(api.MediaProcessorConfig{
		Store:      store,
		Prober:     &api.FFProbe{Binary: firstNonEmpty(*ffprobePath, os.Getenv("LOOPCAST_FFPROBE_PATH"))},
		Metrics:    recorder,
		Logger:     logging.WithComponent(logger, "media"),
		UploadsDir: uploads,
	})
	processor.Start()

	opUsername := firstNonEmpty(*operatorUsername, os.Getenv("LOOPCAST_OPERATOR_USERNAME"), api.DefaultOperatorUsername)
	if password := strings.TrimSpace(os.Getenv("LOOPCAST_OPERATOR_PASSWORD")); password != "" {
		if _, err := store.EnsureOperator(opUsername, password); err != nil {
			logger.Error("failed to provision operator account", "error", err)
			os.Exit(1)
		}
		logger.Info("operator authentication enabled", "username", opUsername)
	}

	handler := &api.Handler{
		Store:            store,
		Sessions:         sessions,
		Engine:           eng,
		Processor:        processor,
		Metrics:          recorder,
		Logger:           logging.WithComponent(logger, "api"),
		UploadsDir:       uploads,
		BackupsDir:       backups,
		OperatorUsername: opUsername,
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("LOOPCAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("LOOPCAST_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "LOOPCAST_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "LOOPCAST_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "LOOPCAST_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "LOOPCAST_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("LOOPCAST_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("LOOPCAST_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "LOOPCAST_RATE_REDIS_TIMEOUT", 0),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("LOOPCAST_CORS_ORIGINS"))),
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	uptimeStop := engine.StartUptimeReporter(workerCtx, logging.WithComponent(logger, "uptime"), store,
		resolveDuration(*uptimeInterval, "LOOPCAST_UPTIME_INTERVAL", engine.DefaultUptimeInterval))
	purgeStop := startSessionPurgeWorker(workerCtx, logger, sessions,
		resolveDuration(*sessionPurgeInterval, "LOOPCAST_SESSION_PURGE_INTERVAL", time.Hour))
	eventStop := startEventLogWorker(workerCtx, logging.WithComponent(logger, "events"), queue)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		logger.Info("loopcast control API listening", "addr", listenAddr, "storage", driver)
		logger.Info("metrics endpoint available", "path", "/metrics")
		return srv.Run(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	workerCancel()
	uptimeStop()
	purgeStop()
	eventStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop playback engine", "error", err)
	}
	processor.Stop()

	if closer, ok := queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close event queue", "error", err)
		}
	}
	if sessionStoreCloser != nil {
		if err := sessionStoreCloser(shutdownCtx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

type sessionManagerConfig struct {
	Driver  string
	DSN     string
	Storage string
	TTL     time.Duration
}

func buildSessionManager(cfg sessionManagerConfig) (*auth.SessionManager, func(context.Context) error, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.Storage == "postgres" && cfg.DSN != "" {
			driver = "postgres"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return auth.NewSessionManager(cfg.TTL), nil, nil
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, nil, fmt.Errorf("session store %q requires a Postgres DSN", driver)
		}
		store, err := auth.NewPostgresSessionStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		manager := auth.NewSessionManager(cfg.TTL, auth.WithStore(store))
		return manager, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

type queueConfig struct {
	Driver     string
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	Stream     string
	Group      string
	MasterName string
	Logger     *slog.Logger
}

func buildQueue(cfg queueConfig) (events.Queue, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.Addr != "" || len(cfg.Addrs) > 0 {
			driver = "redis"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return events.NewMemoryQueue(128), nil
	case "redis":
		return events.NewRedisQueue(events.RedisQueueConfig{
			Addr:       cfg.Addr,
			Addrs:      cfg.Addrs,
			Username:   cfg.Username,
			Password:   cfg.Password,
			Stream:     cfg.Stream,
			Group:      cfg.Group,
			MasterName: cfg.MasterName,
			Logger:     cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}
}

// startEventLogWorker mirrors playback events into the log so operators can
// follow the stream lifecycle without a queue consumer of their own.
func startEventLogWorker(ctx context.Context, logger *slog.Logger, queue events.Queue) func() {
	if queue == nil {
		return func() {}
	}
	sub := queue.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				logger.Info("playback event",
					"type", string(event.Type),
					"slot", event.Slot,
					"video_id", event.VideoID,
					"status", event.Status,
					"detail", event.Detail)
			}
		}
	}()
	return func() {
		sub.Close()
		<-done
	}
}

func resolveListenAddr(flagValue, envValue string) string {
	if addr := strings.TrimSpace(flagValue); addr != "" {
		return addr
	}
	if addr := strings.TrimSpace(envValue); addr != "" {
		return addr
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, dsn string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagValue, envValue)))
	switch driver {
	case "":
		if dsn != "" {
			return "postgres", nil
		}
		return "json", nil
	case "json":
		return "json", nil
	case "postgres":
		if dsn == "" {
			return "", fmt.Errorf("storage driver %q requires a Postgres DSN", driver)
		}
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func resolvePath(flagValue, envValue, fallback string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(envValue); path != "" {
		return path
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return fallback
}
