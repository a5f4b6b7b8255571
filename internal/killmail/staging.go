package killmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stagingKeyPrefix = "killboard:staging:"

// ErrNotStaged is returned when a killmail is not (or no longer) in the
// temporary store.
var ErrNotStaged = errors.New("killmail not found in staging store")

// Staging is the short-TTL temporary store that holds a raw killmail between
// fetch and final persistence. It is shared by all workers so the per-org
// tracker jobs can re-read the payload without re-fetching it.
type Staging struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStaging builds a Redis-backed staging store.
func NewStaging(client *redis.Client, ttl time.Duration) *Staging {
	return &Staging{client: client, ttl: ttl}
}

// Put writes the killmail under its external ID with the staging TTL.
func (s *Staging) Put(ctx context.Context, km *Killmail) error {
	data, err := km.Encode()
	if err != nil {
		return fmt.Errorf("encode killmail %d: %w", km.ID, err)
	}
	if err := s.client.Set(ctx, stagingKey(km.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("stage killmail %d: %w", km.ID, err)
	}
	return nil
}

// Get reads a staged killmail by ID. Returns ErrNotStaged when the entry is
// missing or expired.
func (s *Staging) Get(ctx context.Context, id int64) (*Killmail, error) {
	data, err := s.client.Get(ctx, stagingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("killmail %d: %w", id, ErrNotStaged)
	}
	if err != nil {
		return nil, fmt.Errorf("read staged killmail %d: %w", id, err)
	}
	return Decode(data)
}

// Delete removes a staged killmail.
func (s *Staging) Delete(ctx context.Context, id int64) error {
	return s.client.Del(ctx, stagingKey(id)).Err()
}

func stagingKey(id int64) string {
	return fmt.Sprintf("%s%d", stagingKeyPrefix, id)
}
