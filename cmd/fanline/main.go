package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haileyok/fanline"
	"github.com/haileyok/fanline/internal/cache"
	"github.com/haileyok/fanline/internal/realtime"
	"github.com/haileyok/fanline/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:   "fanline",
		Usage:  "hybrid fan-out timeline engine",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				EnvVars: []string{"FANLINE_ADDR"},
				Value:   ":8080",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				EnvVars: []string{"FANLINE_METRICS_ADDR"},
				Value:   ":8000",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"FANLINE_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:     "postgres-url",
				EnvVars:  []string{"FANLINE_POSTGRES_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				EnvVars: []string{"FANLINE_REDIS_ADDR"},
				Value:   "localhost:6379",
			},
			&cli.StringFlag{
				Name:    "redis-pass",
				EnvVars: []string{"FANLINE_REDIS_PASS"},
			},
			&cli.Int64Flag{
				Name:    "node-id",
				EnvVars: []string{"FANLINE_NODE_ID"},
				Value:   1,
			},
			&cli.IntFlag{
				Name:    "push-threshold",
				EnvVars: []string{"FANLINE_PUSH_THRESHOLD"},
				Value:   10_000,
			},
			&cli.IntFlag{
				Name:    "cache-capacity",
				EnvVars: []string{"FANLINE_CACHE_CAPACITY"},
				Value:   800,
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				EnvVars: []string{"FANLINE_CACHE_TTL"},
				Value:   5 * time.Minute,
			},
			&cli.IntFlag{
				Name:    "fanout-retry-max",
				EnvVars: []string{"FANLINE_FANOUT_RETRY_MAX"},
				Value:   3,
			},
			&cli.IntFlag{
				Name:    "fanout-workers",
				EnvVars: []string{"FANLINE_FANOUT_WORKERS"},
				Value:   32,
			},
			&cli.DurationFlag{
				Name:    "pull-fetch-timeout",
				EnvVars: []string{"FANLINE_PULL_FETCH_TIMEOUT"},
				Value:   150 * time.Millisecond,
			},
		},
		ErrWriter: os.Stderr,
	}

	app.Run(os.Args)
}

var run = func(cmd *cli.Context) error {
	ctx, cancel := context.WithCancel(cmd.Context)
	defer cancel()

	var level slog.Level
	switch cmd.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	pool, err := pgxpool.New(ctx, cmd.String("postgres-url"))
	if err != nil {
		return err
	}
	defer pool.Close()

	pg := store.NewPostgres(&store.PostgresArgs{
		Pool:   pool,
		Node:   cmd.Int64("node-id"),
		Logger: l,
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cmd.String("redis-addr"),
		Password: cmd.String("redis-pass"),
	})
	defer rdb.Close()

	tc := cache.NewRedis(&cache.RedisArgs{
		Client:   rdb,
		Capacity: cmd.Int("cache-capacity"),
		TTL:      cmd.Duration("cache-ttl"),
		Logger:   l,
	})

	hub, err := realtime.NewHub(&realtime.HubArgs{Logger: l})
	if err != nil {
		return err
	}

	engine, err := fanline.New(ctx, &fanline.Args{
		Logger:    l,
		Cache:     tc,
		Posts:     pg,
		Graph:     pg,
		Transport: hub,
		Config: fanline.Config{
			PushThreshold:    cmd.Int("push-threshold"),
			CacheCapacity:    cmd.Int("cache-capacity"),
			FanoutRetryMax:   cmd.Int("fanout-retry-max"),
			FanoutWorkers:    cmd.Int("fanout-workers"),
			PullFetchTimeout: cmd.Duration("pull-fetch-timeout"),
		},
	})
	if err != nil {
		return err
	}

	srv := newServer(&serverArgs{
		Logger:      l,
		Addr:        cmd.String("addr"),
		MetricsAddr: cmd.String("metrics-addr"),
		Engine:      engine,
		Store:       pg,
		Hub:         hub,
	})

	go func() {
		exitSignals := make(chan os.Signal, 1)
		signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)

		sig := <-exitSignals

		l.Info("received os exit signal", "signal", sig)
		cancel()
	}()

	if err := srv.run(ctx); err != nil {
		l.Error("server failed", "error", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer closeCancel()

	return engine.Close(closeCtx)
}
