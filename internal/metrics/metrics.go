package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KillmailsFetched counts killmails received from the RedisQ feed.
	KillmailsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "killboard_killmails_fetched_total",
		Help: "Killmails received from the zKillboard RedisQ feed.",
	})

	// KillmailsStored counts killmails persisted for the first time.
	KillmailsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "killboard_killmails_stored_total",
		Help: "Killmails written to the durable store.",
	})

	// DuplicateKillmails counts idempotent no-op store attempts.
	DuplicateKillmails = promauto.NewCounter(prometheus.CounterOpts{
		Name: "killboard_killmails_duplicate_total",
		Help: "Store attempts that found the killmail already persisted.",
	})

	// RateLimited counts 429 responses from the feed.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "killboard_feed_rate_limited_total",
		Help: "HTTP 429 responses received from the feed endpoint.",
	})

	// PollSkips counts polls skipped without a network call, by reason.
	PollSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killboard_feed_poll_skips_total",
		Help: "Feed polls skipped before issuing a request.",
	}, []string{"reason"})

	// PollWait observes how long a poll waited before issuing its request.
	PollWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "killboard_feed_poll_wait_seconds",
		Help:    "Time spent waiting out the rate limit before a feed request.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// TrackerJobs counts per-organization tracker job outcomes.
	TrackerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killboard_tracker_jobs_total",
		Help: "Tracker job outcomes by organization type and result.",
	}, []string{"org_type", "result"})
)
