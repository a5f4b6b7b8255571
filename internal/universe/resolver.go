package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"killboard/internal/logging"
)

// Entity categories as used by the catalog.
const (
	CategoryCharacter   = "character"
	CategoryCorporation = "corporation"
	CategoryAlliance    = "alliance"
)

// Well-known catalog groupings used by the statistics engine.
const (
	CapsuleGroupID      = 29 // pods
	StructureCategoryID = 65 // deployable/mobile structures
)

// ErrNotFound is returned when an ID cannot be resolved even upstream.
var ErrNotFound = errors.New("universe: id not found")

// Entity is a cached catalog entity (character, corporation or alliance).
type Entity struct {
	ID       int64
	Name     string
	Category string
}

// ShipType is a cached ship type with its grouping.
type ShipType struct {
	ID         int64
	Name       string
	GroupID    int64
	CategoryID int64
}

// Resolver is a read-through cache over the ESI catalog backed by Postgres.
// A resolved ID is never re-fetched; names are treated as immutable once seen.
// IDs that cannot be resolved are collected into a missing set for later
// backfill instead of failing the caller.
type Resolver struct {
	pool *pgxpool.Pool
	esi  *ESIClient
	log  logging.Interface

	mu      sync.Mutex
	missing map[int64]struct{}
}

// NewResolver builds a resolver over the given pool and catalog client.
func NewResolver(pool *pgxpool.Pool, esi *ESIClient) *Resolver {
	return &Resolver{
		pool:    pool,
		esi:     esi,
		log:     logging.Component("universe"),
		missing: make(map[int64]struct{}),
	}
}

// Entity resolves one entity ID through the cache.
func (r *Resolver) Entity(ctx context.Context, id int64) (*Entity, error) {
	var e Entity
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, category FROM eve_entities WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.Category)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read entity %d: %w", id, err)
	}

	refs, err := r.esi.Names(ctx, []int64{id})
	if err != nil || len(refs) == 0 {
		r.recordMissing(id)
		if err != nil {
			return nil, fmt.Errorf("resolve entity %d: %w", id, err)
		}
		return nil, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}

	if err := r.insertEntities(ctx, refs); err != nil {
		return nil, err
	}
	return &Entity{ID: refs[0].ID, Name: refs[0].Name, Category: refs[0].Category}, nil
}

// EntitiesBulk makes sure every given ID is cached, resolving the unknown
// remainder in chunks bounded by the upstream per-call limit. Unresolvable
// IDs land in the missing set; they never fail the call.
func (r *Resolver) EntitiesBulk(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	unknown, err := r.filterUnknown(ctx, dedupe(ids))
	if err != nil {
		return err
	}

	for _, chunk := range chunkIDs(unknown, maxNamesPerCall) {
		refs, err := r.esi.Names(ctx, chunk)
		if err != nil {
			return fmt.Errorf("bulk resolve %d ids: %w", len(chunk), err)
		}
		if err := r.insertEntities(ctx, refs); err != nil {
			return err
		}

		resolved := make(map[int64]struct{}, len(refs))
		for _, ref := range refs {
			resolved[ref.ID] = struct{}{}
		}
		for _, id := range chunk {
			if _, ok := resolved[id]; !ok {
				r.recordMissing(id)
			}
		}
	}
	return nil
}

// ShipType resolves a ship type ID through the cache.
func (r *Resolver) ShipType(ctx context.Context, id int64) (*ShipType, error) {
	var t ShipType
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, group_id, category_id FROM eve_types WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.GroupID, &t.CategoryID)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read type %d: %w", id, err)
	}

	name, groupID, categoryID, err := r.esi.Type(ctx, id)
	if err != nil {
		r.recordMissing(id)
		return nil, fmt.Errorf("resolve type %d: %w", id, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO eve_types (id, name, group_id, category_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, id, name, groupID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("cache type %d: %w", id, err)
	}
	r.log.Debugf("ship type %d (%s) added", id, name)
	return &ShipType{ID: id, Name: name, GroupID: groupID, CategoryID: categoryID}, nil
}

// RegionID resolves a solar system to its region through the cache.
func (r *Resolver) RegionID(ctx context.Context, systemID int64) (int64, error) {
	var regionID int64
	err := r.pool.QueryRow(ctx, `
		SELECT region_id FROM eve_solar_systems WHERE id = $1
	`, systemID).Scan(&regionID)
	if err == nil {
		return regionID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("read system %d: %w", systemID, err)
	}

	regionID, err = r.esi.SystemRegion(ctx, systemID)
	if err != nil {
		r.recordMissing(systemID)
		return 0, fmt.Errorf("resolve system %d: %w", systemID, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO eve_solar_systems (id, region_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, systemID, regionID)
	if err != nil {
		return 0, fmt.Errorf("cache system %d: %w", systemID, err)
	}
	return regionID, nil
}

// Missing returns the IDs that could not be resolved so far, sorted.
func (r *Resolver) Missing() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.missing))
	for id := range r.missing {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Resolver) recordMissing(id int64) {
	r.mu.Lock()
	r.missing[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Resolver) filterUnknown(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM eve_entities WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("filter known entities: %w", err)
	}
	defer rows.Close()

	known := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unknown []int64
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

func (r *Resolver) insertEntities(ctx context.Context, refs []NameRef) error {
	for _, ref := range refs {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO eve_entities (id, name, category)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, ref.ID, ref.Name, ref.Category)
		if err != nil {
			return fmt.Errorf("cache entity %d: %w", ref.ID, err)
		}
	}
	return nil
}

// chunkIDs splits ids into slices no longer than size.
func chunkIDs(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
