package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"killboard/internal/api"
	"killboard/internal/config"
	"killboard/internal/logging"
	"killboard/internal/queue"
	"killboard/internal/roster"
	"killboard/internal/stats"
	"killboard/internal/storage"
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

	provider, err := storage.SelectMembershipProvider(pool, cfg.RosterProvider)
	if err != nil {
		logger.Errorf("roster provider selection failed: %v", err)
		os.Exit(1)
	}
	chars := storage.NewCharacterRepo(pool)
	rosters := roster.NewCachedBuilder(roster.NewBuilder(provider, chars), cfg.APICacheTTL)

	reader := storage.NewKillmailReader(pool)
	orgs := storage.NewTrackedOrgStore(pool)
	engine := stats.NewEngine(cfg.FameThreshold)
	cache := api.NewResponseCache(redisClient, cfg.APICacheTTL)

	srv := api.NewServer(reader, rosters, engine, api.TrackedEntityResolver(orgs), cache, orgs)
	srv.EnableBackfill(queue.NewRedisQueue(redisClient), cfg.BackfillQueue)

	logger.Infof("listening on %s", cfg.ListenAddr)
	if err := api.ListenAndServe(ctx, cfg.ListenAddr, srv.Router()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("server ended: %v", err)
		os.Exit(1)
	}
}
