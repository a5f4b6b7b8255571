package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"killboard/internal/roster"
)

// CharacterRepo resolves character identity and ownership links from the
// characters table. It implements roster.CharacterSource.
type CharacterRepo struct {
	pool *pgxpool.Pool
}

// NewCharacterRepo creates a character repository.
func NewCharacterRepo(pool *pgxpool.Pool) *CharacterRepo {
	return &CharacterRepo{pool: pool}
}

// Character returns the identity record for a character ID.
func (r *CharacterRepo) Character(ctx context.Context, id int64) (*roster.Character, error) {
	var (
		c          roster.Character
		allianceID *int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT character_id, name, corporation_id, alliance_id
		FROM characters WHERE character_id = $1
	`, id).Scan(&c.ID, &c.Name, &c.CorporationID, &allianceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("character %d: %w", id, roster.ErrUnknownCharacter)
	}
	if err != nil {
		return nil, fmt.Errorf("read character %d: %w", id, err)
	}
	if allianceID != nil {
		c.AllianceID = *allianceID
	}
	return &c, nil
}

// MainCharacter returns the main linked to a character's ownership record,
// or nil when the character has no ownership link.
func (r *CharacterRepo) MainCharacter(ctx context.Context, id int64) (*roster.Character, error) {
	var (
		c          roster.Character
		allianceID *int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT m.character_id, m.name, m.corporation_id, m.alliance_id
		FROM characters c
		JOIN characters m ON m.character_id = c.main_character_id
		WHERE c.character_id = $1
	`, id).Scan(&c.ID, &c.Name, &c.CorporationID, &allianceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read main for character %d: %w", id, err)
	}
	if allianceID != nil {
		c.AllianceID = *allianceID
	}
	return &c, nil
}

// BasicMembershipProvider lists members straight from the characters table:
// everyone whose current corporation or alliance matches the organization.
type BasicMembershipProvider struct {
	pool *pgxpool.Pool
}

// NewBasicMembershipProvider creates the basic provider.
func NewBasicMembershipProvider(pool *pgxpool.Pool) *BasicMembershipProvider {
	return &BasicMembershipProvider{pool: pool}
}

// Name implements roster.MembershipProvider.
func (p *BasicMembershipProvider) Name() string { return "basic" }

// Members implements roster.MembershipProvider.
func (p *BasicMembershipProvider) Members(ctx context.Context, orgID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT character_id FROM characters
		WHERE corporation_id = $1 OR alliance_id = $1
		ORDER BY character_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// MemberAuditProvider lists members from the member-audit integration table.
// Selecting this provider while the integration is not populated surfaces as
// an import error at the roster layer.
type MemberAuditProvider struct {
	pool *pgxpool.Pool
}

// NewMemberAuditProvider creates the audit-backed provider.
func NewMemberAuditProvider(pool *pgxpool.Pool) *MemberAuditProvider {
	return &MemberAuditProvider{pool: pool}
}

// Name implements roster.MembershipProvider.
func (p *MemberAuditProvider) Name() string { return "memberaudit" }

// Members implements roster.MembershipProvider.
func (p *MemberAuditProvider) Members(ctx context.Context, orgID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT character_id FROM member_audit
		WHERE organization_id = $1
		ORDER BY character_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SelectMembershipProvider picks the configured provider implementation.
func SelectMembershipProvider(pool *pgxpool.Pool, name string) (roster.MembershipProvider, error) {
	switch name {
	case "", "basic":
		return NewBasicMembershipProvider(pool), nil
	case "memberaudit":
		return NewMemberAuditProvider(pool), nil
	default:
		return nil, fmt.Errorf("unknown roster provider %q", name)
	}
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
