package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"killboard/internal/killmail"
	"killboard/internal/logging"
	"killboard/internal/metrics"
	"killboard/internal/storage"
)

// StagingReader fetches staged killmails by ID.
type StagingReader interface {
	Get(ctx context.Context, id int64) (*killmail.Killmail, error)
}

// Store persists killmails and hands back the persisted record. created is
// false when the killmail was already present.
type Store interface {
	Store(ctx context.Context, km *killmail.Killmail) (stored *storage.StoredKillmail, created bool, err error)
}

// Toucher records that a tracked organization was processed.
type Toucher interface {
	Touch(ctx context.Context, orgType storage.OrgType, orgID int64) error
}

// Processor handles tracker jobs pulled from the queue. A returned error
// sends the job back through the queue's retry machinery.
type Processor struct {
	staging     StagingReader
	store       Store
	orgs        Toucher
	taskTimeout time.Duration
	log         logging.Interface
}

// NewProcessor wires a job processor.
func NewProcessor(staging StagingReader, store Store, orgs Toucher, taskTimeout time.Duration) *Processor {
	return &Processor{
		staging:     staging,
		store:       store,
		orgs:        orgs,
		taskTimeout: taskTimeout,
		log:         logging.Component("processor"),
	}
}

// Handle processes one queue payload: load the staged killmail, confirm it
// still matches the job's organization, and persist it. A killmail that
// expired from staging or no longer matches is dropped without error so the
// queue does not retry work that can never succeed differently.
func (p *Processor) Handle(ctx context.Context, payload []byte) error {
	job, err := DecodeJob(payload)
	if err != nil {
		// A payload that cannot decode will never decode. Let the queue
		// retry it into the DLQ where it can be inspected.
		return fmt.Errorf("decode job: %w", err)
	}
	if !job.OrgType.Valid() {
		return fmt.Errorf("job %s: bad org type %q", job.JobID, job.OrgType)
	}

	ctx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	km, err := p.staging.Get(ctx, job.KillmailID)
	if errors.Is(err, killmail.ErrNotStaged) {
		p.log.Warnf("job %s: killmail %d no longer staged, dropping", job.JobID, job.KillmailID)
		metrics.TrackerJobs.WithLabelValues(string(job.OrgType), "expired").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("job %s: load staged killmail %d: %w", job.JobID, job.KillmailID, err)
	}

	if !p.matches(km, job) {
		p.log.Debugf("job %s: killmail %d does not involve %s %d", job.JobID, job.KillmailID, job.OrgType, job.OrgID)
		metrics.TrackerJobs.WithLabelValues(string(job.OrgType), "unmatched").Inc()
		return nil
	}

	_, created, err := p.store.Store(ctx, km)
	if err != nil {
		metrics.TrackerJobs.WithLabelValues(string(job.OrgType), "error").Inc()
		return fmt.Errorf("job %s: store killmail %d: %w", job.JobID, job.KillmailID, err)
	}
	if created {
		metrics.KillmailsStored.Inc()
		metrics.TrackerJobs.WithLabelValues(string(job.OrgType), "stored").Inc()
		p.log.Infof("job %s: stored killmail %d for %s %d", job.JobID, job.KillmailID, job.OrgType, job.OrgID)
	} else {
		metrics.DuplicateKillmails.Inc()
		metrics.TrackerJobs.WithLabelValues(string(job.OrgType), "duplicate").Inc()
	}

	if err := p.orgs.Touch(ctx, job.OrgType, job.OrgID); err != nil {
		// The killmail is stored. Losing the bookkeeping timestamp is not
		// worth re-running the whole job.
		p.log.Warnf("job %s: touch %s %d: %v", job.JobID, job.OrgType, job.OrgID, err)
	}
	return nil
}

func (p *Processor) matches(km *killmail.Killmail, job Job) bool {
	switch job.OrgType {
	case storage.OrgCorporation:
		return km.MatchesCorporation(job.OrgID)
	case storage.OrgAlliance:
		return km.MatchesAlliance(job.OrgID)
	}
	return false
}
