package fanline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Engine is the timeline fan-out and caching core. It owns no HTTP
// surface and no durable state; everything durable arrives through the
// accessor interfaces handed to New.
type Engine struct {
	logger    *slog.Logger
	cache     TimelineCache
	posts     PostStore
	graph     FollowGraph
	transport RealtimeTransport

	cfg Config

	baseCtx context.Context
	cancel  context.CancelFunc

	jobs     chan fanoutJob
	workerWG sync.WaitGroup
	limiter  ratelimit.Limiter

	notifier *notifier

	mu     sync.Mutex
	closed bool

	// background tracks cache rebuild goroutines so Close can drain them.
	background sync.WaitGroup
}

type Config struct {
	// PushThreshold is the max follower count eligible for push fan-out.
	PushThreshold int
	// CacheCapacity is the max entries kept per cached timeline.
	CacheCapacity int
	// FanoutRetryMax is the total attempts per follower insert.
	FanoutRetryMax int
	// FanoutRetryBase is the first backoff interval between attempts.
	FanoutRetryBase time.Duration
	// PullFetchTimeout bounds each pull-side followee fetch.
	PullFetchTimeout time.Duration
	// FanoutWorkers is the size of the apply pool.
	FanoutWorkers int
	// CacheWriteRate paces cache writes, per second across the pool.
	CacheWriteRate int
	NotifyWorkers  int
	NotifyQueue    int
	// MaxPageSize clamps read limits.
	MaxPageSize int
}

func DefaultConfig() Config {
	return Config{
		PushThreshold:    10_000,
		CacheCapacity:    800,
		FanoutRetryMax:   3,
		FanoutRetryBase:  100 * time.Millisecond,
		PullFetchTimeout: 150 * time.Millisecond,
		FanoutWorkers:    32,
		CacheWriteRate:   5_000,
		NotifyWorkers:    8,
		NotifyQueue:      4_096,
		MaxPageSize:      100,
	}
}

type Args struct {
	Logger    *slog.Logger
	Cache     TimelineCache
	Posts     PostStore
	Graph     FollowGraph
	Transport RealtimeTransport
	Config    Config
}

func New(ctx context.Context, args *Args) (*Engine, error) {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}
	if args.Cache == nil || args.Posts == nil || args.Graph == nil {
		return nil, fmt.Errorf("cache, posts, and graph accessors are required")
	}

	cfg := args.Config
	def := DefaultConfig()
	if cfg.PushThreshold <= 0 {
		cfg.PushThreshold = def.PushThreshold
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = def.CacheCapacity
	}
	if cfg.FanoutRetryMax <= 0 {
		cfg.FanoutRetryMax = def.FanoutRetryMax
	}
	if cfg.FanoutRetryBase <= 0 {
		cfg.FanoutRetryBase = def.FanoutRetryBase
	}
	if cfg.PullFetchTimeout <= 0 {
		cfg.PullFetchTimeout = def.PullFetchTimeout
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = def.FanoutWorkers
	}
	if cfg.CacheWriteRate <= 0 {
		cfg.CacheWriteRate = def.CacheWriteRate
	}
	if cfg.NotifyWorkers <= 0 {
		cfg.NotifyWorkers = def.NotifyWorkers
	}
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = def.NotifyQueue
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}

	baseCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		logger:    args.Logger,
		cache:     args.Cache,
		posts:     args.Posts,
		graph:     args.Graph,
		transport: args.Transport,
		cfg:       cfg,
		baseCtx:   baseCtx,
		cancel:    cancel,
		jobs:      make(chan fanoutJob, cfg.FanoutWorkers*64),
		limiter:   ratelimit.New(cfg.CacheWriteRate),
	}

	e.notifier = newNotifier(&notifierArgs{
		Logger:    args.Logger,
		Transport: args.Transport,
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueue,
	})

	for i := 0; i < cfg.FanoutWorkers; i++ {
		e.workerWG.Add(1)
		go e.fanoutWorker()
	}

	return e, nil
}

// Close stops accepting dispatches, drains the apply pool and the
// notification queue, then cancels background work.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.jobs)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		e.background.Wait()
		e.notifier.close()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}

	e.cancel()
	e.logger.Info("engine closed")

	return nil
}

func (e *Engine) enqueue(job fanoutJob) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}

	e.jobs <- job
	return true
}
