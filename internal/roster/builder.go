package roster

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"killboard/internal/logging"
)

// ErrUnknownCharacter is returned by a CharacterSource when it has no record
// of the character at all.
var ErrUnknownCharacter = errors.New("roster: unknown character")

// ImportError signals that the configured membership provider is unavailable
// or misconfigured. It is surfaced rather than swallowed: silently returning
// an empty roster would corrupt attribution.
type ImportError struct {
	Provider string
	OrgID    int64
	Err      error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("roster import via %s failed for organization %d: %v", e.Provider, e.OrgID, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// MembershipProvider returns the current member character IDs of an
// organization. Two implementations exist behind this interface; the service
// selects one via configuration.
type MembershipProvider interface {
	Name() string
	Members(ctx context.Context, orgID int64) ([]int64, error)
}

// CharacterSource resolves character identity and ownership links.
type CharacterSource interface {
	// Character returns the character record, or ErrUnknownCharacter.
	Character(ctx context.Context, id int64) (*Character, error)
	// MainCharacter returns the main linked to the character's owner, or
	// nil when no ownership record exists.
	MainCharacter(ctx context.Context, id int64) (*Character, error)
}

// Builder computes rosters from the membership provider and ownership links.
type Builder struct {
	provider MembershipProvider
	chars    CharacterSource
	log      logging.Interface
}

// NewBuilder wires a roster builder.
func NewBuilder(provider MembershipProvider, chars CharacterSource) *Builder {
	return &Builder{provider: provider, chars: chars, log: logging.Component("roster")}
}

// Build computes the main-to-alts mapping for a set of tracked organization
// IDs. Members whose ownership record is missing become their own main;
// members with no identity at all are collected into the roster's missing set.
func (b *Builder) Build(ctx context.Context, orgIDs []int64) (Roster, error) {
	roster := Roster{Accounts: make(map[int64]Account)}
	if len(orgIDs) == 0 {
		roster.finalize()
		return roster, nil
	}

	memberSet := make(map[int64]struct{})
	for _, orgID := range orgIDs {
		members, err := b.provider.Members(ctx, orgID)
		if err != nil {
			return Roster{}, &ImportError{Provider: b.provider.Name(), OrgID: orgID, Err: err}
		}
		for _, id := range members {
			memberSet[id] = struct{}{}
		}
	}

	members := make([]int64, 0, len(memberSet))
	for id := range memberSet {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	for _, id := range members {
		char, err := b.chars.Character(ctx, id)
		if errors.Is(err, ErrUnknownCharacter) {
			b.log.Debugf("character %d has no identity record, marking missing", id)
			roster.Missing = append(roster.Missing, id)
			continue
		}
		if err != nil {
			return Roster{}, fmt.Errorf("resolve character %d: %w", id, err)
		}

		main, err := b.chars.MainCharacter(ctx, id)
		if err != nil && !errors.Is(err, ErrUnknownCharacter) {
			return Roster{}, fmt.Errorf("resolve main for character %d: %w", id, err)
		}
		if main == nil {
			// No ownership record: the character stands for itself.
			main = char
		}

		acc, ok := roster.Accounts[main.ID]
		if !ok {
			acc = Account{Main: *main}
		}
		if char.ID != main.ID && !hasAlt(acc.Alts, char.ID) {
			acc.Alts = append(acc.Alts, *char)
		}
		roster.Accounts[main.ID] = acc
	}

	roster.finalize()
	return roster, nil
}

func hasAlt(alts []Character, id int64) bool {
	for _, a := range alts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// CachedBuilder adds a short-TTL cache keyed by the organization-ID set, so
// repeated statistics calls within one dashboard render reuse the mapping.
type CachedBuilder struct {
	builder *Builder
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[uint64]cacheEntry
}

type cacheEntry struct {
	roster  Roster
	expires time.Time
}

// NewCachedBuilder wraps a builder with a TTL cache.
func NewCachedBuilder(builder *Builder, ttl time.Duration) *CachedBuilder {
	return &CachedBuilder{
		builder: builder,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uint64]cacheEntry),
	}
}

// Build returns a cached roster for the org set when fresh, rebuilding
// otherwise. Import errors are never cached.
func (c *CachedBuilder) Build(ctx context.Context, orgIDs []int64) (Roster, error) {
	key := orgSetHash(orgIDs)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		return entry.roster, nil
	}

	roster, err := c.builder.Build(ctx, orgIDs)
	if err != nil {
		return Roster{}, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{roster: roster, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return roster, nil
}

// orgSetHash hashes a sorted copy of the org-ID set, so the same set in any
// order maps to one cache entry.
func orgSetHash(orgIDs []int64) uint64 {
	sorted := append([]int64(nil), orgIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := fnv.New64a()
	var buf [8]byte
	for _, id := range sorted {
		for i := 0; i < 8; i++ {
			buf[i] = byte(id >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}
