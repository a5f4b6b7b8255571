package tracker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"killboard/internal/killmail"
	"killboard/internal/logging"
	"killboard/internal/storage"
)

// ShutdownFlagKey is set in Redis by an operator to drain the fetch loop
// between events without killing the process.
const ShutdownFlagKey = "killboard:worker:shutdown"

// Poller produces the next killmail from the feed, or nil when nothing is
// available this attempt.
type Poller interface {
	Poll(ctx context.Context) (*killmail.Killmail, error)
}

// Stager holds killmails between fetch and per-organization processing.
type Stager interface {
	Put(ctx context.Context, km *killmail.Killmail) error
}

// OrgLister returns the currently tracked organizations.
type OrgLister interface {
	List(ctx context.Context) ([]storage.TrackedOrg, error)
}

// Publisher enqueues tracker jobs.
type Publisher interface {
	Publish(ctx context.Context, queueName string, job any) error
}

// Fetcher drives one polling cycle: pull events from the feed, stage them,
// and fan out one job per tracked organization.
type Fetcher struct {
	poller      Poller
	staging     Stager
	orgs        OrgLister
	publisher   Publisher
	redis       *redis.Client
	queueName   string
	maxPerCycle int
	log         logging.Interface
}

// NewFetcher wires a polling cycle driver.
func NewFetcher(poller Poller, staging Stager, orgs OrgLister, publisher Publisher, redisClient *redis.Client, queueName string, maxPerCycle int) *Fetcher {
	return &Fetcher{
		poller:      poller,
		staging:     staging,
		orgs:        orgs,
		publisher:   publisher,
		redis:       redisClient,
		queueName:   queueName,
		maxPerCycle: maxPerCycle,
		log:         logging.Component("fetcher"),
	}
}

// RunCycle polls the feed until the queue reports empty, the per-cycle bound
// is hit, the shutdown flag is set, or the context ends. It returns the number
// of events fanned out.
func (f *Fetcher) RunCycle(ctx context.Context) (int, error) {
	orgs, err := f.orgs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracked orgs: %w", err)
	}
	if len(orgs) == 0 {
		f.log.Debugf("no tracked organizations, skipping cycle")
		return 0, nil
	}

	fetched := 0
	for fetched < f.maxPerCycle {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		stop, err := f.shutdownRequested(ctx)
		if err != nil {
			f.log.Warnf("shutdown flag check failed: %v", err)
		} else if stop {
			f.log.Infof("shutdown flag set, ending cycle after %d events", fetched)
			return fetched, nil
		}

		km, err := f.poller.Poll(ctx)
		if err != nil {
			return fetched, fmt.Errorf("poll feed: %w", err)
		}
		if km == nil {
			return fetched, nil
		}
		if err := f.fanOut(ctx, km, orgs); err != nil {
			return fetched, err
		}
		fetched++
	}
	f.log.Infof("cycle bound reached at %d events", fetched)
	return fetched, nil
}

func (f *Fetcher) fanOut(ctx context.Context, km *killmail.Killmail, orgs []storage.TrackedOrg) error {
	if err := f.staging.Put(ctx, km); err != nil {
		return fmt.Errorf("stage killmail %d: %w", km.ID, err)
	}
	for _, org := range orgs {
		job := Job{
			JobID:      uuid.NewString(),
			KillmailID: km.ID,
			OrgType:    org.Type,
			OrgID:      org.OrgID,
		}
		if err := f.publisher.Publish(ctx, f.queueName, job); err != nil {
			return fmt.Errorf("publish job for %s %d: %w", org.Type, org.OrgID, err)
		}
	}
	f.log.Debugf("fanned out killmail %d to %d organizations", km.ID, len(orgs))
	return nil
}

func (f *Fetcher) shutdownRequested(ctx context.Context) (bool, error) {
	n, err := f.redis.Exists(ctx, ShutdownFlagKey).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
