package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"killboard/internal/killmail"
	"killboard/internal/logging"
	"killboard/internal/metrics"
)

const (
	userAgent           = "killboard (server operator contact in headers)"
	defaultRetryAfter   = 5 * time.Second
	maxResponseBodySize = 4 << 20
)

// Configuration errors are the only ones Poll surfaces to the caller; every
// per-cycle problem (network, decode, 429) degrades to "no killmail".
var (
	ErrQueueIDMissing = errors.New("feed: no queue ID configured")
	ErrQueueIDInvalid = errors.New("feed: queue ID must not contain commas")
)

// Client pulls killmails one at a time from the zKillboard RedisQ long-poll
// endpoint, honoring the shared rate limiter.
type Client struct {
	http      *http.Client
	limiter   *Limiter
	redisqURL string
	queueID   string
	ttw       int
	log       logging.Interface
}

// NewClient builds a feed client. ttw is the server-side long-poll wait in
// seconds.
func NewClient(httpClient *http.Client, limiter *Limiter, redisqURL, queueID string, ttw int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 35 * time.Second}
	}
	return &Client{
		http:      httpClient,
		limiter:   limiter,
		redisqURL: redisqURL,
		queueID:   queueID,
		ttw:       ttw,
		log:       logging.Component("feed"),
	}
}

// Poll fetches at most one killmail. A nil killmail with a nil error means
// the queue had nothing for us this cycle (or the poll was skipped to respect
// the rate budget); the caller just tries again on its next schedule.
func (c *Client) Poll(ctx context.Context) (*killmail.Killmail, error) {
	if c.queueID == "" {
		return nil, ErrQueueIDMissing
	}
	if strings.Contains(c.queueID, ",") {
		return nil, ErrQueueIDInvalid
	}

	release, ok, err := c.limiter.Lock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.log.Warnf("failed to acquire feed lock, skipping poll")
		metrics.PollSkips.WithLabelValues("lock").Inc()
		return nil, nil
	}
	defer release()

	wait, skip, err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	metrics.PollWait.Observe(wait.Seconds())
	if skip {
		c.log.Debugf("required wait %s exceeds tolerance, skipping poll", wait)
		metrics.PollSkips.WithLabelValues("backoff").Inc()
		return nil, nil
	}

	body, retry, err := c.fetch(ctx)
	if err != nil {
		// Transient: the next scheduled poll is the retry.
		c.log.Warnf("feed request failed: %v", err)
		return nil, nil
	}
	if retry > 0 {
		c.log.Errorf("feed returned 429, backing off for %s", retry)
		metrics.RateLimited.Inc()
		if err := c.limiter.SetBackoff(ctx, retry); err != nil {
			c.log.Errorf("recording backoff failed: %v", err)
		}
		return nil, nil
	}

	km, err := killmail.ParsePackage(body)
	if err != nil {
		c.log.Warnf("discarding malformed feed payload: %v", err)
		return nil, nil
	}
	if km == nil {
		c.log.Debugf("no killmail waiting on RedisQ")
		return nil, nil
	}

	metrics.KillmailsFetched.Inc()
	return km, nil
}

// fetch issues the long-poll request. A positive retry duration signals a 429.
func (c *Client) fetch(ctx context.Context) (body []byte, retry time.Duration, err error) {
	u := fmt.Sprintf("%s?queueID=%s&ttw=%d", c.redisqURL, url.QueryEscape(c.queueID), c.ttw)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status %d from feed", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, 0, err
	}
	return body, 0, nil
}

// parseRetryAfter reads a Retry-After header in seconds, falling back to a
// fixed delay when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
