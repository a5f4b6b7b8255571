package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"killboard/internal/feed"
	"killboard/internal/killmail"
	"killboard/internal/logging"
)

// SingleFetcher retrieves one killmail by ID from the detail endpoints.
type SingleFetcher interface {
	FetchSingle(ctx context.Context, id int64) (*killmail.Killmail, error)
}

// BackfillRequest asks for one killmail the live feed never delivered, for
// example one reported by a member after the fact.
type BackfillRequest struct {
	KillmailID int64 `json:"killmail_id"`
}

// Backfiller consumes backfill requests and pushes the fetched killmails
// through the same stage-and-fan-out path as live events.
type Backfiller struct {
	single  SingleFetcher
	fetcher *Fetcher
	log     logging.Interface
}

// NewBackfiller wires a backfill consumer.
func NewBackfiller(single SingleFetcher, fetcher *Fetcher) *Backfiller {
	return &Backfiller{single: single, fetcher: fetcher, log: logging.Component("backfill")}
}

// Handle processes one backfill request. A killmail the upstream does not
// know is dropped, retrying cannot make it appear.
func (b *Backfiller) Handle(ctx context.Context, payload []byte) error {
	var req BackfillRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode backfill request: %w", err)
	}
	if req.KillmailID <= 0 {
		return fmt.Errorf("backfill request without killmail id")
	}

	km, err := b.single.FetchSingle(ctx, req.KillmailID)
	if errors.Is(err, feed.ErrKillmailUnavailable) {
		b.log.Warnf("killmail %d unavailable upstream, dropping backfill", req.KillmailID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("backfill killmail %d: %w", req.KillmailID, err)
	}

	orgs, err := b.fetcher.orgs.List(ctx)
	if err != nil {
		return fmt.Errorf("list tracked orgs: %w", err)
	}
	if len(orgs) == 0 {
		b.log.Warnf("killmail %d backfilled with no tracked organizations", req.KillmailID)
		return nil
	}
	return b.fetcher.fanOut(ctx, km, orgs)
}
