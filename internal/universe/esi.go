package universe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// maxNamesPerCall is the upstream bound on POST /universe/names/.
const maxNamesPerCall = 500

// NameRef is one resolved entity from the bulk names endpoint.
type NameRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ESIClient is a thin paced client for the universe catalog endpoints.
type ESIClient struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewESIClient builds a catalog client. Requests are paced client-side so a
// large backfill cannot hammer the upstream.
func NewESIClient(httpClient *http.Client, base string) *ESIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &ESIClient{
		http:    httpClient,
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

// Names resolves up to maxNamesPerCall IDs in one call.
func (c *ESIClient) Names(ctx context.Context, ids []int64) ([]NameRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxNamesPerCall {
		return nil, fmt.Errorf("esi names: %d IDs exceeds the %d per-call bound", len(ids), maxNamesPerCall)
	}

	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, "/universe/names/", payload)
	if err != nil {
		return nil, err
	}

	var refs []NameRef
	if err := json.Unmarshal(body, &refs); err != nil {
		return nil, fmt.Errorf("decode names response: %w", err)
	}
	return refs, nil
}

type esiType struct {
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

type esiGroup struct {
	CategoryID int64 `json:"category_id"`
}

type esiSystem struct {
	ConstellationID int64 `json:"constellation_id"`
}

type esiConstellation struct {
	RegionID int64 `json:"region_id"`
}

// Type fetches a ship type with its group's category.
func (c *ESIClient) Type(ctx context.Context, id int64) (name string, groupID, categoryID int64, err error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/universe/types/%d/", id), nil)
	if err != nil {
		return "", 0, 0, err
	}
	var t esiType
	if err := json.Unmarshal(body, &t); err != nil {
		return "", 0, 0, fmt.Errorf("decode type %d: %w", id, err)
	}

	body, err = c.do(ctx, http.MethodGet, fmt.Sprintf("/universe/groups/%d/", t.GroupID), nil)
	if err != nil {
		return "", 0, 0, err
	}
	var g esiGroup
	if err := json.Unmarshal(body, &g); err != nil {
		return "", 0, 0, fmt.Errorf("decode group %d: %w", t.GroupID, err)
	}
	return t.Name, t.GroupID, g.CategoryID, nil
}

// SystemRegion resolves a solar system to its region.
func (c *ESIClient) SystemRegion(ctx context.Context, systemID int64) (int64, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/universe/systems/%d/", systemID), nil)
	if err != nil {
		return 0, err
	}
	var s esiSystem
	if err := json.Unmarshal(body, &s); err != nil {
		return 0, fmt.Errorf("decode system %d: %w", systemID, err)
	}

	body, err = c.do(ctx, http.MethodGet, fmt.Sprintf("/universe/constellations/%d/", s.ConstellationID), nil)
	if err != nil {
		return 0, err
	}
	var con esiConstellation
	if err := json.Unmarshal(body, &con); err != nil {
		return 0, fmt.Errorf("decode constellation %d: %w", s.ConstellationID, err)
	}
	return con.RegionID, nil
}

func (c *ESIClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esi %s %s: status %d", method, path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
