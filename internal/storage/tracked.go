package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackedOrgStore manages the organizations opted into tracking. Exactly one
// row exists per organization ID; rows are never auto-deleted.
type TrackedOrgStore struct {
	pool *pgxpool.Pool
}

// NewTrackedOrgStore creates a tracked-organization store.
func NewTrackedOrgStore(pool *pgxpool.Pool) *TrackedOrgStore {
	return &TrackedOrgStore{pool: pool}
}

// Register opts an organization into tracking. Registering an already
// tracked organization is a no-op.
func (s *TrackedOrgStore) Register(ctx context.Context, orgType OrgType, orgID, ownerCharacterID int64) error {
	if !orgType.Valid() {
		return fmt.Errorf("unknown organization type %q", orgType)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s_audits (%s_id, owner_character_id)
		VALUES ($1, $2)
		ON CONFLICT (%s_id) DO NOTHING
	`, orgType, orgType, orgType), orgID, ownerCharacterID)
	if err != nil {
		return fmt.Errorf("register %s %d: %w", orgType, orgID, err)
	}
	return nil
}

// List returns every tracked organization, corporations first.
func (s *TrackedOrgStore) List(ctx context.Context) ([]TrackedOrg, error) {
	var orgs []TrackedOrg
	for _, orgType := range []OrgType{OrgCorporation, OrgAlliance} {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(`
			SELECT %s_id, owner_character_id, last_update FROM %s_audits ORDER BY %s_id
		`, orgType, orgType, orgType))
		if err != nil {
			return nil, fmt.Errorf("list tracked %ss: %w", orgType, err)
		}
		for rows.Next() {
			org := TrackedOrg{Type: orgType}
			if err := rows.Scan(&org.OrgID, &org.OwnerCharacterID, &org.LastUpdate); err != nil {
				rows.Close()
				return nil, err
			}
			orgs = append(orgs, org)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return orgs, nil
}

// Touch refreshes last_update after a successful bulk-fetch cycle.
func (s *TrackedOrgStore) Touch(ctx context.Context, orgType OrgType, orgID int64) error {
	if !orgType.Valid() {
		return fmt.Errorf("unknown organization type %q", orgType)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s_audits SET last_update = now() WHERE %s_id = $1
	`, orgType, orgType), orgID)
	if err != nil {
		return fmt.Errorf("touch %s %d: %w", orgType, orgID, err)
	}
	return nil
}

// Remove untracks an organization. Manual admin action only.
func (s *TrackedOrgStore) Remove(ctx context.Context, orgType OrgType, orgID int64) error {
	if !orgType.Valid() {
		return fmt.Errorf("unknown organization type %q", orgType)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s_audits WHERE %s_id = $1
	`, orgType, orgType), orgID)
	if err != nil {
		return fmt.Errorf("remove %s %d: %w", orgType, orgID, err)
	}
	return nil
}
