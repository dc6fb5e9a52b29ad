package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	apihttp "feedstream/internal/api/http"
	"feedstream/internal/app"
	"feedstream/internal/domain/ports"
	"feedstream/internal/metrics"
	mongorepo "feedstream/internal/repository/mongo"
	redisrepo "feedstream/internal/repository/redis"
	"feedstream/internal/storage/memory"
	"feedstream/internal/telemetry"
	"feedstream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

type stores struct {
	positions ports.PositionStore
	places    ports.FeedStateStore
	redis     *goredis.Client
}

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "feedstream",
		Endpoint:    cfg.OTELEndpoint,
		SampleRate:  cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "feedstream"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("positionStore", cfg.PositionStore),
		slog.Int("pageSize", cfg.FeedPageSize),
		slog.Int("prefetchWifi", cfg.FeedPrefetchWifi),
		slog.Int("prefetchCellular", cfg.FeedPrefetchCellular),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	posts := mongorepo.NewPostRepository(mongoClient, cfg.MongoDatabase, cfg.MongoPostsCollection)
	if err := posts.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	st, err := openStores(ctx, cfg, mongoClient, logger)
	if err != nil {
		logger.Error("position store init failed",
			slog.String("positionStore", cfg.PositionStore),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	pageUC := &usecase.LoadFeedPage{Source: posts, PageSize: cfg.FeedPageSize, Logger: logger}

	scheduler := cron.New()
	if cfg.PositionRetention() > 0 && strings.TrimSpace(cfg.PositionPruneSchedule) != "" {
		pruneUC := usecase.PrunePositions{Store: st.positions, Retention: cfg.PositionRetention(), Logger: logger}
		if _, err := pruneUC.Schedule(scheduler, cfg.PositionPruneSchedule); err != nil {
			logger.Warn("position prune schedule rejected",
				slog.String("schedule", cfg.PositionPruneSchedule),
				slog.String("error", err.Error()),
			)
		}
	}
	scheduler.Start()

	sessionCfg := apihttp.DefaultSessionConfig()
	sessionCfg.Feed = cfg.FeedConfig()
	sessionCfg.PageSize = cfg.FeedPageSize
	sessionCfg.Hydrate = cfg.PositionHydrate

	handler := apihttp.NewServer(pageUC,
		apihttp.WithPositionStore(st.positions),
		apihttp.WithFeedStateStore(st.places),
		apihttp.WithSessionConfig(sessionCfg),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(float64(cfg.HTTPRateLimit), cfg.HTTPRateBurst),
		apihttp.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	<-scheduler.Stop().Done()
	if st.redis != nil {
		if err := st.redis.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// openStores selects where playback positions and feed places live.
func openStores(ctx context.Context, cfg app.Config, mongoClient *mongo.Client, logger *slog.Logger) (stores, error) {
	switch cfg.PositionStore {
	case "mongo":
		positions := mongorepo.NewPositionRepository(mongoClient, cfg.MongoDatabase)
		if err := positions.EnsureIndexes(ctx); err != nil {
			logger.Warn("position indexes failed", slog.String("error", err.Error()))
		}
		return stores{
			positions: positions,
			places:    mongorepo.NewFeedStateRepository(mongoClient, cfg.MongoDatabase),
		}, nil
	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return stores{}, err
		}
		client := goredis.NewClient(opts)
		store := redisrepo.NewStore(client, "")
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return stores{}, err
		}
		return stores{positions: store, places: store, redis: client}, nil
	default:
		if cfg.PositionStore != "memory" {
			logger.Warn("unknown position store, using memory", slog.String("positionStore", cfg.PositionStore))
		}
		store := memory.NewStore()
		// Places still survive restarts through mongo.
		return stores{
			positions: store,
			places:    mongorepo.NewFeedStateRepository(mongoClient, cfg.MongoDatabase),
		}, nil
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
