package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

func TestNames(t *testing.T) {
	t.Parallel()

	var gotIDs []int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/universe/names/" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotIDs); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode([]NameRef{
			{ID: 1001, Name: "Aiko", Category: CategoryCharacter},
			{ID: 2001, Name: "Lowsec Mining Co", Category: CategoryCorporation},
		})
	}))
	defer ts.Close()

	client := NewESIClient(ts.Client(), ts.URL)
	refs, err := client.Names(context.Background(), []int64{1001, 2001})
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if !reflect.DeepEqual(gotIDs, []int64{1001, 2001}) {
		t.Errorf("request ids = %v", gotIDs)
	}
	if len(refs) != 2 || refs[0].Name != "Aiko" || refs[1].Category != CategoryCorporation {
		t.Errorf("refs = %+v", refs)
	}
}

func TestNamesEmptyAndOverLimit(t *testing.T) {
	t.Parallel()

	client := NewESIClient(nil, "http://unused.invalid")
	refs, err := client.Names(context.Background(), nil)
	if err != nil || refs != nil {
		t.Errorf("empty input: refs = %v, err = %v", refs, err)
	}

	tooMany := make([]int64, maxNamesPerCall+1)
	if _, err := client.Names(context.Background(), tooMany); err == nil {
		t.Error("expected an error above the per-call bound")
	}
}

func TestTypeFollowsGroup(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/universe/types/670/":
			_, _ = w.Write([]byte(`{"name":"Capsule","group_id":29}`))
		case "/universe/groups/29/":
			_, _ = w.Write([]byte(`{"category_id":2}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := NewESIClient(ts.Client(), ts.URL)
	name, groupID, categoryID, err := client.Type(context.Background(), 670)
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	if name != "Capsule" || groupID != CapsuleGroupID || categoryID != 2 {
		t.Errorf("got %q group %d category %d", name, groupID, categoryID)
	}
}

func TestSystemRegion(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/universe/systems/30002537/":
			_, _ = w.Write([]byte(`{"constellation_id":20000372}`))
		case "/universe/constellations/20000372/":
			_, _ = w.Write([]byte(`{"region_id":10000030}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := NewESIClient(ts.Client(), ts.URL)
	regionID, err := client.SystemRegion(context.Background(), 30002537)
	if err != nil {
		t.Fatalf("SystemRegion: %v", err)
	}
	if regionID != 10000030 {
		t.Errorf("region = %d, want 10000030", regionID)
	}
}

func TestUpstreamErrorSurfaces(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewESIClient(ts.Client(), ts.URL)
	if _, err := client.Names(context.Background(), []int64{1}); err == nil {
		t.Error("expected an error on upstream 502")
	}
}

func TestChunkIDs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ids  []int64
		size int
		want [][]int64
	}{
		{"empty", nil, 3, nil},
		{"single partial", []int64{1, 2}, 3, [][]int64{{1, 2}}},
		{"exact multiple", []int64{1, 2, 3, 4}, 2, [][]int64{{1, 2}, {3, 4}}},
		{"remainder", []int64{1, 2, 3, 4, 5}, 2, [][]int64{{1, 2}, {3, 4}, {5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := chunkIDs(tc.ids, tc.size); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("chunkIDs(%v, %d) = %v, want %v", tc.ids, tc.size, got, tc.want)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	got := dedupe([]int64{5, 1, 5, 2, 1, 5})
	if !reflect.DeepEqual(got, []int64{5, 1, 2}) {
		t.Errorf("dedupe = %v, want [5 1 2]", got)
	}
}
