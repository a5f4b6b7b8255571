package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"killboard/internal/feed"
	"killboard/internal/killmail"
	"killboard/internal/storage"
)

type fakePoller struct {
	killmails []*killmail.Killmail
	polls     int
}

func (p *fakePoller) Poll(context.Context) (*killmail.Killmail, error) {
	p.polls++
	if len(p.killmails) == 0 {
		return nil, nil
	}
	km := p.killmails[0]
	p.killmails = p.killmails[1:]
	return km, nil
}

type fakeStager struct {
	staged []int64
}

func (s *fakeStager) Put(_ context.Context, km *killmail.Killmail) error {
	s.staged = append(s.staged, km.ID)
	return nil
}

type fakeOrgs struct {
	orgs []storage.TrackedOrg
}

func (o *fakeOrgs) List(context.Context) ([]storage.TrackedOrg, error) { return o.orgs, nil }

type publishedJob struct {
	queue string
	job   Job
}

type fakePublisher struct {
	jobs []publishedJob
}

func (p *fakePublisher) Publish(_ context.Context, queueName string, job any) error {
	p.jobs = append(p.jobs, publishedJob{queue: queueName, job: job.(Job)})
	return nil
}

func newTestFetcher(t *testing.T, poller *fakePoller, orgs []storage.TrackedOrg, maxPerCycle int) (*Fetcher, *fakeStager, *fakePublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	staging := &fakeStager{}
	publisher := &fakePublisher{}
	f := NewFetcher(poller, staging, &fakeOrgs{orgs: orgs}, publisher, client, "jobs", maxPerCycle)
	return f, staging, publisher, mr
}

func feedKillmails(ids ...int64) []*killmail.Killmail {
	kms := make([]*killmail.Killmail, len(ids))
	for i, id := range ids {
		kms[i] = stagedKillmail(id, 2001)
	}
	return kms
}

func trackedOrgs() []storage.TrackedOrg {
	return []storage.TrackedOrg{
		{OrgID: 2001, Type: storage.OrgCorporation},
		{OrgID: 3001, Type: storage.OrgAlliance},
	}
}

func TestRunCycleFansOutPerOrg(t *testing.T) {
	poller := &fakePoller{killmails: feedKillmails(1, 2)}
	f, staging, publisher, _ := newTestFetcher(t, poller, trackedOrgs(), 400)

	n, err := f.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RunCycle() = %d, want 2", n)
	}
	if len(staging.staged) != 2 {
		t.Errorf("staged = %v, want both killmails", staging.staged)
	}
	// One job per (event, organization) pair.
	if len(publisher.jobs) != 4 {
		t.Fatalf("published %d jobs, want 4", len(publisher.jobs))
	}
	seen := make(map[int64]map[int64]bool)
	for _, pj := range publisher.jobs {
		if pj.queue != "jobs" {
			t.Errorf("job published to %q, want jobs", pj.queue)
		}
		if pj.job.JobID == "" {
			t.Error("job without an ID")
		}
		if seen[pj.job.KillmailID] == nil {
			seen[pj.job.KillmailID] = make(map[int64]bool)
		}
		if seen[pj.job.KillmailID][pj.job.OrgID] {
			t.Errorf("duplicate job for killmail %d org %d", pj.job.KillmailID, pj.job.OrgID)
		}
		seen[pj.job.KillmailID][pj.job.OrgID] = true
	}
}

func TestRunCycleStopsOnEmptyFeed(t *testing.T) {
	poller := &fakePoller{}
	f, _, publisher, _ := newTestFetcher(t, poller, trackedOrgs(), 400)

	n, err := f.RunCycle(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("RunCycle() = %d, %v; want 0, nil", n, err)
	}
	if poller.polls != 1 {
		t.Errorf("polls = %d, want 1", poller.polls)
	}
	if len(publisher.jobs) != 0 {
		t.Errorf("published %d jobs, want none", len(publisher.jobs))
	}
}

func TestRunCycleHonorsBound(t *testing.T) {
	poller := &fakePoller{killmails: feedKillmails(1, 2, 3, 4, 5)}
	f, _, _, _ := newTestFetcher(t, poller, trackedOrgs(), 3)

	n, err := f.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if n != 3 {
		t.Errorf("RunCycle() = %d, want the 3-event bound", n)
	}
}

func TestRunCycleHonorsShutdownFlag(t *testing.T) {
	poller := &fakePoller{killmails: feedKillmails(1, 2, 3)}
	f, _, _, mr := newTestFetcher(t, poller, trackedOrgs(), 400)

	if err := mr.Set(ShutdownFlagKey, "1"); err != nil {
		t.Fatalf("set shutdown flag: %v", err)
	}

	n, err := f.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if n != 0 {
		t.Errorf("RunCycle() = %d, want 0 with the shutdown flag set", n)
	}
	if poller.polls != 0 {
		t.Errorf("polls = %d, want 0", poller.polls)
	}
}

func TestRunCycleSkipsWithoutTrackedOrgs(t *testing.T) {
	poller := &fakePoller{killmails: feedKillmails(1)}
	f, _, _, _ := newTestFetcher(t, poller, nil, 400)

	n, err := f.RunCycle(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("RunCycle() = %d, %v; want 0, nil", n, err)
	}
	if poller.polls != 0 {
		t.Error("no tracked organizations means no feed polls")
	}
}

type fakeSingleFetcher struct {
	killmails map[int64]*killmail.Killmail
}

func (f *fakeSingleFetcher) FetchSingle(_ context.Context, id int64) (*killmail.Killmail, error) {
	km, ok := f.killmails[id]
	if !ok {
		return nil, feed.ErrKillmailUnavailable
	}
	return km, nil
}

func TestBackfillFansOut(t *testing.T) {
	f, staging, publisher, _ := newTestFetcher(t, &fakePoller{}, trackedOrgs(), 400)
	single := &fakeSingleFetcher{killmails: map[int64]*killmail.Killmail{77: stagedKillmail(77, 2001)}}
	b := NewBackfiller(single, f)

	if err := b.Handle(context.Background(), []byte(`{"killmail_id": 77}`)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(staging.staged) != 1 || staging.staged[0] != 77 {
		t.Errorf("staged = %v, want [77]", staging.staged)
	}
	if len(publisher.jobs) != 2 {
		t.Errorf("published %d jobs, want one per org", len(publisher.jobs))
	}
}

func TestBackfillUnavailableIsDropped(t *testing.T) {
	f, _, publisher, _ := newTestFetcher(t, &fakePoller{}, trackedOrgs(), 400)
	b := NewBackfiller(&fakeSingleFetcher{}, f)

	if err := b.Handle(context.Background(), []byte(`{"killmail_id": 404}`)); err != nil {
		t.Errorf("Handle() on unavailable killmail = %v, want nil", err)
	}
	if len(publisher.jobs) != 0 {
		t.Error("unavailable killmail must not fan out")
	}
}

func TestBackfillRejectsBadRequest(t *testing.T) {
	f, _, _, _ := newTestFetcher(t, &fakePoller{}, trackedOrgs(), 400)
	b := NewBackfiller(&fakeSingleFetcher{}, f)

	if err := b.Handle(context.Background(), []byte(`{"killmail_id":`)); err == nil {
		t.Error("unparseable request should error")
	}
	if err := b.Handle(context.Background(), []byte(`{"killmail_id": 0}`)); err == nil {
		t.Error("request without a killmail ID should error")
	}
}

// failingPoller exercises error propagation out of a cycle.
type failingPoller struct{}

func (failingPoller) Poll(context.Context) (*killmail.Killmail, error) {
	return nil, errors.New("queue id misconfigured")
}

func TestRunCyclePropagatesPollErrors(t *testing.T) {
	f, _, _, _ := newTestFetcher(t, &fakePoller{}, trackedOrgs(), 400)
	f.poller = failingPoller{}

	if _, err := f.RunCycle(context.Background()); err == nil {
		t.Error("configuration errors from the poller must surface")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) error {
	return errors.New("redis gone")
}

func TestRunCyclePropagatesPublishErrors(t *testing.T) {
	poller := &fakePoller{killmails: feedKillmails(1)}
	f, _, _, _ := newTestFetcher(t, poller, trackedOrgs(), 400)
	f.publisher = failingPublisher{}

	_, err := f.RunCycle(context.Background())
	if err == nil {
		t.Fatal("publish failures must surface")
	}
	if !strings.Contains(err.Error(), "corporation 2001") {
		t.Errorf("error %q should name the organization", err)
	}
}

func TestRunCycleStopsOnContextCancel(t *testing.T) {
	poller := &fakePoller{killmails: feedKillmails(1, 2, 3)}
	f, _, _, _ := newTestFetcher(t, poller, trackedOrgs(), 400)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunCycle() = %v, want context.Canceled", err)
	}
}
