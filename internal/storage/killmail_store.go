package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"killboard/internal/killmail"
	"killboard/internal/logging"
	"killboard/internal/universe"
)

// KillmailStore persists killmails with at-most-once semantics: a given
// external killmail ID is stored exactly once no matter how many tracker
// jobs or workers attempt the write.
type KillmailStore struct {
	pool     *pgxpool.Pool
	resolver *universe.Resolver
	reader   *KillmailReader
	log      logging.Interface
}

// NewKillmailStore builds a killmail store over the pool and catalog resolver.
func NewKillmailStore(pool *pgxpool.Pool, resolver *universe.Resolver) *KillmailStore {
	return &KillmailStore{
		pool:     pool,
		resolver: resolver,
		reader:   NewKillmailReader(pool),
		log:      logging.Component("storage"),
	}
}

// Exists reports whether the killmail ID is already persisted.
func (s *KillmailStore) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM killmails WHERE killmail_id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check killmail %d exists: %w", id, err)
	}
	return exists, nil
}

// Store writes the killmail and its attacker sub-rows in one transaction and
// returns the persisted record. created=false means a row with this external
// ID already existed and nothing was mutated. Two workers racing on the same
// ID resolve through the primary-key conflict: exactly one observes
// created=true.
func (s *KillmailStore) Store(ctx context.Context, km *killmail.Killmail) (stored *StoredKillmail, created bool, err error) {
	// Cheap pre-check so the duplicate path skips the catalog round trips.
	exists, err := s.Exists(ctx, km.ID)
	if err != nil {
		return nil, false, err
	}
	if exists {
		stored, err = s.reader.Get(ctx, km.ID)
		return stored, false, err
	}

	res := s.resolveReferences(ctx, km)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO killmails (
			killmail_id, killmail_time, hash,
			victim_id, victim_ship_type_id, victim_corporation_id, victim_alliance_id,
			total_value, fitted_value, destroyed_value, dropped_value,
			region_id, solar_system_id, position_x, position_y, position_z, is_npc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (killmail_id) DO NOTHING
	`,
		km.ID, km.Time, km.ZKB.Hash,
		res.victimID, km.Victim.ShipTypeID, int64OrZero(km.Victim.CorporationID), km.Victim.AllianceID,
		valueOrZero(km.ZKB.TotalValue), valueOrZero(km.ZKB.FittedValue),
		valueOrZero(km.ZKB.DestroyedValue), valueOrZero(km.ZKB.DroppedValue),
		res.regionID, km.SolarSystemID, km.Position.X, km.Position.Y, km.Position.Z,
		boolOrFalse(km.ZKB.NPC),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert killmail %d: %w", km.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// A concurrent writer won the race; our attempt is a no-op.
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		stored, err = s.reader.Get(ctx, km.ID)
		return stored, false, err
	}

	for _, attacker := range km.Attackers {
		if err := insertAttacker(ctx, tx, km.ID, attacker); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit killmail %d: %w", km.ID, err)
	}
	stored, err = s.reader.Get(ctx, km.ID)
	return stored, true, err
}

type resolvedRefs struct {
	victimID *int64
	regionID *int64
}

// resolveReferences warms the catalog cache for everything the killmail
// references. Lookup misses degrade to NULL references; they never block the
// write.
func (s *KillmailStore) resolveReferences(ctx context.Context, km *killmail.Killmail) resolvedRefs {
	var res resolvedRefs

	if id := victimEntityID(km); id != nil {
		if entity, err := s.resolver.Entity(ctx, *id); err != nil {
			s.log.Warnf("victim entity %d unresolved for killmail %d: %v", *id, km.ID, err)
		} else {
			res.victimID = &entity.ID
		}
	}

	if km.Victim.ShipTypeID != nil {
		if _, err := s.resolver.ShipType(ctx, *km.Victim.ShipTypeID); err != nil {
			s.log.Warnf("victim ship %d unresolved for killmail %d: %v", *km.Victim.ShipTypeID, km.ID, err)
		}
	}

	if km.SolarSystemID != nil {
		if regionID, err := s.resolver.RegionID(ctx, *km.SolarSystemID); err != nil {
			s.log.Warnf("region unresolved for system %d on killmail %d: %v", *km.SolarSystemID, km.ID, err)
		} else {
			res.regionID = &regionID
		}
	}

	var refIDs []int64
	for set := range km.AttackerCharacterIDs() {
		refIDs = append(refIDs, set)
	}
	for set := range km.AttackerCorporationIDs() {
		refIDs = append(refIDs, set)
	}
	for set := range km.AttackerAllianceIDs() {
		refIDs = append(refIDs, set)
	}
	if err := s.resolver.EntitiesBulk(ctx, refIDs); err != nil {
		s.log.Warnf("bulk attacker resolution failed for killmail %d: %v", km.ID, err)
	}

	for _, a := range km.Attackers {
		if a.ShipTypeID == nil {
			continue
		}
		if _, err := s.resolver.ShipType(ctx, *a.ShipTypeID); err != nil {
			s.log.Debugf("attacker ship %d unresolved for killmail %d: %v", *a.ShipTypeID, km.ID, err)
		}
	}
	return res
}

// insertAttacker upserts one attacker row keyed on the (killmail, character,
// corporation, alliance) tuple so re-processing never duplicates rows.
func insertAttacker(ctx context.Context, tx pgx.Tx, killmailID int64, a killmail.Attacker) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO attackers (
			killmail_id, character_id, corporation_id, alliance_id,
			ship_type_id, damage_done, final_blow, weapon_type_id, security_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT attackers_identity_key DO NOTHING
	`,
		killmailID, a.CharacterID, a.CorporationID, a.AllianceID,
		a.ShipTypeID, int64OrZero(a.DamageDone), boolOrFalse(a.FinalBlow),
		a.WeaponTypeID, a.SecurityStatus,
	)
	if err != nil {
		return fmt.Errorf("insert attacker for killmail %d: %w", killmailID, err)
	}
	return nil
}

// victimEntityID picks the entity the victim is displayed as: the character
// when present, else the alliance, else the corporation.
func victimEntityID(km *killmail.Killmail) *int64 {
	switch {
	case km.Victim.CharacterID != nil:
		return km.Victim.CharacterID
	case km.Victim.AllianceID != nil:
		return km.Victim.AllianceID
	case km.Victim.CorporationID != nil:
		return km.Victim.CorporationID
	default:
		return nil
	}
}

func int64OrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func valueOrZero(v *float64) int64 {
	if v == nil {
		return 0
	}
	return int64(*v)
}

func boolOrFalse(v *bool) bool {
	return v != nil && *v
}
