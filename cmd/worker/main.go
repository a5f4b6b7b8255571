package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"killboard/internal/config"
	"killboard/internal/feed"
	"killboard/internal/killmail"
	"killboard/internal/logging"
	"killboard/internal/queue"
	"killboard/internal/storage"
	"killboard/internal/tracker"
	"killboard/internal/universe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config load failed: %v", err)
		os.Exit(1)
	}

	pool, err := storage.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Errorf("db connection failed: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Errorf("invalid redis url: %v", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	httpClient := &http.Client{Timeout: time.Duration(cfg.TTW+10) * time.Second}

	limiter := feed.NewLimiter(redisClient, cfg.MinInterval(), cfg.MaxWaitTolerance, cfg.LockTimeout)
	poller := feed.NewClient(httpClient, limiter, cfg.RedisQURL, cfg.QueueID, cfg.TTW)

	esi := universe.NewESIClient(&http.Client{Timeout: 30 * time.Second}, cfg.ESIBaseURL)
	resolver := universe.NewResolver(pool, esi)

	staging := killmail.NewStaging(redisClient, cfg.StagingTTL)
	store := storage.NewKillmailStore(pool, resolver)
	orgs := storage.NewTrackedOrgStore(pool)
	q := queue.NewRedisQueue(redisClient)

	fetcher := tracker.NewFetcher(poller, staging, orgs, q, redisClient, cfg.TrackerQueue, cfg.MaxPerCycle)
	proc := tracker.NewProcessor(staging, store, orgs, cfg.TaskTimeout)

	backfillSource := feed.NewBackfillClient(&http.Client{Timeout: 30 * time.Second}, redisClient, cfg.ZKBCacheTTL, cfg.ZKBBaseURL, cfg.ESIBaseURL)
	backfiller := tracker.NewBackfiller(backfillSource, fetcher)

	go runCycles(ctx, fetcher, cfg.CycleInterval)
	go func() {
		if err := q.Consume(ctx, cfg.BackfillQueue, func(payload []byte) error {
			return backfiller.Handle(ctx, payload)
		}); err != nil && ctx.Err() == nil {
			logger.Errorf("backfill consumption ended: %v", err)
		}
	}()

	handler := func(payload []byte) error {
		return proc.Handle(ctx, payload)
	}

	if cfg.WorkerCount > 1 {
		logger.Infof("starting concurrent consumption with %d workers", cfg.WorkerCount)
		if err := q.ConsumeConcurrent(ctx, cfg.TrackerQueue, cfg.WorkerCount, cfg.JobBufferSize, handler); err != nil && ctx.Err() == nil {
			logger.Errorf("queue consumption ended: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Infof("starting single-threaded consumption")
		if err := q.Consume(ctx, cfg.TrackerQueue, handler); err != nil && ctx.Err() == nil {
			logger.Errorf("queue consumption ended: %v", err)
			os.Exit(1)
		}
	}
}

// runCycles drives the feed polling loop on a fixed interval. A cycle that
// ends early, on an empty feed or the shutdown flag, waits out the rest of
// its interval.
func runCycles(ctx context.Context, fetcher *tracker.Fetcher, interval time.Duration) {
	logger := logging.Component("cycle")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := fetcher.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Errorf("cycle failed after %d events: %v", n, err)
		} else if n > 0 {
			logger.Infof("cycle fanned out %d events", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
