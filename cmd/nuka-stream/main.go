package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-stream/internal/api"
	"github.com/nidhogg/nuka-stream/internal/clock"
	"github.com/nidhogg/nuka-stream/internal/config"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/ingest"
	"github.com/nidhogg/nuka-stream/internal/memory"
	"github.com/nidhogg/nuka-stream/internal/sink"
	pgstore "github.com/nidhogg/nuka-stream/internal/store"
	"github.com/nidhogg/nuka-stream/internal/stream"
	"github.com/nidhogg/nuka-stream/internal/window"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const purgeInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/nuka-stream.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting Nuka Stream...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem(logger.Named("clock"))
	s := stream.New(cfg.StreamConfig(), window.DefaultOptions(), clk, ids.UUID{}, logger.Named("stream"))
	hub := sink.NewHub(cfg.Sinks.QueueSize, cfg.SinkTimeout(), logger.Named("sink"))

	// Redis is shared by the stream sink and the collector ingest.
	var rdb *redis.Client
	if cfg.Sinks.Redis.Enabled || cfg.Ingest.Redis.Enabled {
		rdb, err = sink.DialRedis(ctx, cfg.Database.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable, running without redis sink and ingest", zap.Error(err))
		} else {
			defer rdb.Close()
		}
	}
	if rdb != nil && cfg.Sinks.Redis.Enabled {
		rc := cfg.Sinks.Redis
		hub.Register(sink.NewRedisSink(rdb, rc.Prefix, rc.MaxLen, logger.Named("redis")), rc.MinPriority)
	}

	var archive api.MessageArchive
	var pg *pgstore.Store
	if pc := cfg.Sinks.Postgres; pc.Enabled {
		pg, err = pgstore.New(ctx, cfg.Database.Postgres.DSN, logger.Named("store"))
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without message archive", zap.Error(err))
		} else {
			dir := pc.MigrationsDir
			if dir == "" {
				dir = "migrations"
			}
			if err := pg.Migrate(ctx, dir); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
			defer pg.Close()
			hub.Register(pg.Archive(), pc.MinPriority)
			archive = pg
			cancelPurge := clk.Every(purgeInterval, func() {
				if _, err := pg.PurgeExpired(ctx, clk.Now()); err != nil {
					logger.Warn("purge expired messages failed", zap.Error(err))
				}
			})
			defer cancelPurge()
		}
	}

	if cfg.Sinks.Neo4j.Enabled {
		db := cfg.Database.Neo4j
		graph, err := memory.NewGraph(db.URI, db.User, db.Password, logger.Named("graph"))
		if err == nil {
			err = graph.EnsureSchema(ctx)
			if err != nil {
				graph.Close()
			}
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without context graph", zap.Error(err))
		} else {
			hub.Register(graph, cfg.Sinks.Neo4j.MinPriority)
		}
	}

	if sc := cfg.Sinks.Slack; sc.Enabled && sc.BotToken != "" {
		client := slack.New(sc.BotToken)
		hub.Register(sink.NewSlackSink(client, sc.Channel, sc.PerMinute, logger.Named("slack")), sc.MinPriority)
	}

	if dc := cfg.Sinks.Discord; dc.Enabled && dc.BotToken != "" {
		ds, err := sink.NewDiscordSink(dc.BotToken, dc.ChannelID, dc.PerMinute, logger.Named("discord"))
		if err != nil {
			logger.Warn("Discord sink disabled", zap.Error(err))
		} else {
			hub.Register(ds, dc.MinPriority)
		}
	}

	unsubscribe := s.Subscribe(hub.Enqueue)
	defer unsubscribe()

	handler := api.NewHandler(s, archive, hub.Sinks, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Start()

	// The hub outlives the stream so the final flush still reaches the sinks.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(hubCtx)
	})
	if rdb != nil && cfg.Ingest.Redis.Enabled {
		ic := cfg.Ingest.Redis
		src := ingest.NewRedisSource(rdb, ic.Stream, ic.StartID, logger.Named("ingest"))
		g.Go(func() error {
			return src.Run(gctx, s)
		})
	}
	g.Go(func() error {
		logger.Info("Nuka Stream listening", zap.Int("port", cfg.Server.Port), zap.Strings("sinks", hub.Sinks()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Nuka Stream...")
		if err := s.Stop(); err != nil {
			logger.Warn("final flush failed", zap.Error(err))
		}
		stopHub()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Nuka Stream exited with error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
