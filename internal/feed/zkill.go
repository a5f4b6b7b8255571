package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"killboard/internal/killmail"
	"killboard/internal/logging"
)

const zkbCachePrefix = "killboard:zkb:response:"

// ErrKillmailUnavailable is returned when the detail endpoints have no data
// for the requested killmail ID.
var ErrKillmailUnavailable = errors.New("feed: killmail not available upstream")

// BackfillClient fetches a single historical killmail by ID: the zKillboard
// API supplies the content hash, the ESI detail endpoint the full body.
// Responses are cached in Redis separately from the staging store.
type BackfillClient struct {
	http     *http.Client
	cache    *redis.Client
	cacheTTL time.Duration
	zkbURL   string
	esiURL   string
	log      logging.Interface
}

// NewBackfillClient builds a backfill client against the given API bases.
func NewBackfillClient(httpClient *http.Client, cache *redis.Client, cacheTTL time.Duration, zkbURL, esiURL string) *BackfillClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &BackfillClient{
		http:     httpClient,
		cache:    cache,
		cacheTTL: cacheTTL,
		zkbURL:   zkbURL,
		esiURL:   esiURL,
		log:      logging.Component("backfill"),
	}
}

type zkbListEntry struct {
	KillmailID int64        `json:"killmail_id"`
	ZKB        killmail.ZKB `json:"zkb"`
}

// FetchSingle returns the full killmail for an external ID.
func (c *BackfillClient) FetchSingle(ctx context.Context, id int64) (*killmail.Killmail, error) {
	cacheKey := fmt.Sprintf("%s%d", zkbCachePrefix, id)
	if data, err := c.cache.Get(ctx, cacheKey).Bytes(); err == nil {
		return killmail.Decode(data)
	}

	entry, err := c.lookupHash(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.ZKB.Hash == nil {
		return nil, fmt.Errorf("killmail %d: %w", id, ErrKillmailUnavailable)
	}

	km, err := c.fetchDetail(ctx, entry.KillmailID, *entry.ZKB.Hash)
	if err != nil {
		return nil, err
	}
	km.ZKB = entry.ZKB

	if data, err := km.Encode(); err == nil {
		if err := c.cache.Set(ctx, cacheKey, data, c.cacheTTL).Err(); err != nil {
			c.log.Warnf("caching killmail %d failed: %v", id, err)
		}
	}
	return km, nil
}

func (c *BackfillClient) lookupHash(ctx context.Context, id int64) (*zkbListEntry, error) {
	u := fmt.Sprintf("%s/killID/%d/", c.zkbURL, id)
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("zkillboard lookup for %d: %w", id, err)
	}

	var entries []zkbListEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode zkillboard response for %d: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("killmail %d: %w", id, ErrKillmailUnavailable)
	}
	return &entries[0], nil
}

func (c *BackfillClient) fetchDetail(ctx context.Context, id int64, hash string) (*killmail.Killmail, error) {
	u := fmt.Sprintf("%s/killmails/%d/%s/", c.esiURL, id, hash)
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("esi killmail detail for %d: %w", id, err)
	}

	// The detail endpoint returns the bare killmail body: wrap it in the
	// envelope shape the shared parser understands.
	wrapped := append([]byte(`{"package":{"killmail":`), body...)
	wrapped = append(wrapped, []byte(`}}`)...)
	km, err := killmail.ParsePackage(wrapped)
	if err != nil {
		return nil, err
	}
	if km == nil {
		return nil, fmt.Errorf("killmail %d: %w", id, ErrKillmailUnavailable)
	}
	return km, nil
}

func (c *BackfillClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
}
