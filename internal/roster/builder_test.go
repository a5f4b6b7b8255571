package roster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeProvider serves membership lists from a map, with optional per-org
// failures.
type fakeProvider struct {
	members map[int64][]int64
	fail    map[int64]error
	calls   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Members(_ context.Context, orgID int64) ([]int64, error) {
	p.calls++
	if err, ok := p.fail[orgID]; ok {
		return nil, err
	}
	return p.members[orgID], nil
}

// fakeChars resolves characters from a map. mains links a character to its
// main's ID; characters without an entry have no ownership record.
type fakeChars struct {
	chars map[int64]Character
	mains map[int64]int64
}

func (s *fakeChars) Character(_ context.Context, id int64) (*Character, error) {
	c, ok := s.chars[id]
	if !ok {
		return nil, fmt.Errorf("character %d: %w", id, ErrUnknownCharacter)
	}
	return &c, nil
}

func (s *fakeChars) MainCharacter(_ context.Context, id int64) (*Character, error) {
	mainID, ok := s.mains[id]
	if !ok {
		return nil, nil
	}
	main, ok := s.chars[mainID]
	if !ok {
		return nil, nil
	}
	return &main, nil
}

func testWorld() (*fakeProvider, *fakeChars) {
	provider := &fakeProvider{members: map[int64][]int64{
		2001: {1001, 1005, 1007},
	}}
	chars := &fakeChars{
		chars: map[int64]Character{
			1001: {ID: 1001, Name: "Aiko", CorporationID: 2001},
			1005: {ID: 1005, Name: "Aiko Alt", CorporationID: 2001},
			1007: {ID: 1007, Name: "Brynn", CorporationID: 2001},
		},
		mains: map[int64]int64{
			1001: 1001,
			1005: 1001,
		},
	}
	return provider, chars
}

func TestBuildRoster(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	r, err := NewBuilder(provider, chars).Build(context.Background(), []int64{2001})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	acc, ok := r.Accounts[1001]
	if !ok {
		t.Fatal("main 1001 missing from roster")
	}
	if acc.Main.Name != "Aiko" {
		t.Errorf("main name = %q, want Aiko", acc.Main.Name)
	}
	if len(acc.Alts) != 1 || acc.Alts[0].ID != 1005 {
		t.Errorf("alts of 1001 = %+v, want [1005]", acc.Alts)
	}

	// Brynn has no ownership record and stands for herself.
	if acc, ok := r.Accounts[1007]; !ok || len(acc.Alts) != 0 {
		t.Errorf("character 1007 should be a self-main with no alts, got %+v", acc)
	}

	// Completeness: every member appears in the flat character list.
	for _, id := range []int64{1001, 1005, 1007} {
		if !r.Contains(id) {
			t.Errorf("member %d dropped from roster", id)
		}
	}
}

func TestBuildRosterEmptyOrgSet(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	r, err := NewBuilder(provider, chars).Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !r.Empty() {
		t.Errorf("empty org set should yield an empty roster, got %+v", r.Accounts)
	}
	if provider.calls != 0 {
		t.Error("empty org set should not consult the provider")
	}
}

func TestBuildRosterMissingCharacter(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	provider.members[2001] = append(provider.members[2001], 9999)

	r, err := NewBuilder(provider, chars).Build(context.Background(), []int64{2001})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(r.Missing) != 1 || r.Missing[0] != 9999 {
		t.Errorf("Missing = %v, want [9999]", r.Missing)
	}
	if r.Contains(9999) {
		t.Error("unresolvable character must not join the roster")
	}
}

func TestBuildRosterImportError(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	provider.fail = map[int64]error{3001: errors.New("integration disabled")}

	_, err := NewBuilder(provider, chars).Build(context.Background(), []int64{2001, 3001})
	var importErr *ImportError
	if !errors.As(err, &importErr) {
		t.Fatalf("Build() error = %v, want ImportError", err)
	}
	if importErr.OrgID != 3001 || importErr.Provider != "fake" {
		t.Errorf("ImportError = %+v", importErr)
	}
}

func TestBuildRosterDeduplicatesAcrossOrgs(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	// The alliance org lists the same characters again.
	provider.members[3001] = []int64{1001, 1005}

	r, err := NewBuilder(provider, chars).Build(context.Background(), []int64{2001, 3001})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(r.Accounts[1001].Alts) != 1 {
		t.Errorf("alt list duplicated across orgs: %+v", r.Accounts[1001].Alts)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	r, err := NewBuilder(provider, chars).Build(context.Background(), []int64{2001})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := r.DisplayName(1005, "Aiko Alt"); got != "Aiko Alt (Aiko)" {
		t.Errorf("alt display = %q, want %q", got, "Aiko Alt (Aiko)")
	}
	if got := r.DisplayName(1001, "Aiko"); got != "Aiko" {
		t.Errorf("main display = %q, want %q", got, "Aiko")
	}
	if got := r.DisplayName(5555, "Stranger"); got != "Stranger" {
		t.Errorf("unknown display = %q, want %q", got, "Stranger")
	}
}

func TestMainOf(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	r, err := NewBuilder(provider, chars).Build(context.Background(), []int64{2001})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	main, ok := r.MainOf(1005)
	if !ok || main.ID != 1001 {
		t.Errorf("MainOf(1005) = %+v ok=%v, want main 1001", main, ok)
	}
	main, ok = r.MainOf(1001)
	if !ok || main.ID != 1001 {
		t.Errorf("MainOf(1001) = %+v ok=%v, want itself", main, ok)
	}
	if _, ok := r.MainOf(5555); ok {
		t.Error("MainOf(unknown) should report not found")
	}
}

func TestCachedBuilder(t *testing.T) {
	t.Parallel()

	provider, chars := testWorld()
	cached := NewCachedBuilder(NewBuilder(provider, chars), time.Minute)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := cached.Build(ctx, []int64{2001}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	callsAfterFirst := provider.calls

	// Same set, any order, within the TTL: served from cache.
	if _, err := cached.Build(ctx, []int64{2001}); err != nil {
		t.Fatalf("cached Build() error = %v", err)
	}
	if provider.calls != callsAfterFirst {
		t.Error("second Build within TTL should not consult the provider")
	}

	now = now.Add(2 * time.Minute)
	if _, err := cached.Build(ctx, []int64{2001}); err != nil {
		t.Fatalf("expired Build() error = %v", err)
	}
	if provider.calls == callsAfterFirst {
		t.Error("Build after TTL should rebuild")
	}
}
