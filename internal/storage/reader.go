package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KillmailReader provides window loads for the statistics engine.
type KillmailReader struct {
	pool *pgxpool.Pool
}

// NewKillmailReader creates a killmail reader.
func NewKillmailReader(pool *pgxpool.Pool) *KillmailReader {
	return &KillmailReader{pool: pool}
}

// Window loads every killmail of the given year that involves one of the
// entity IDs (organizations or characters), on either the victim or the
// attacker side, including attacker sub-rows and catalog names. Rows come
// back in insertion order; an empty entity set yields no rows.
func (r *KillmailReader) Window(ctx context.Context, entityIDs []int64, year int) ([]StoredKillmail, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	rows, err := r.pool.Query(ctx, `
		SELECT k.killmail_id, k.killmail_time, COALESCE(k.hash, ''),
		       k.victim_id, COALESCE(ve.name, 'Unknown'), COALESCE(ve.category, ''),
		       k.victim_ship_type_id, COALESCE(vt.name, 'Unknown'),
		       COALESCE(vt.group_id, 0), COALESCE(vt.category_id, 0),
		       k.victim_corporation_id, k.victim_alliance_id,
		       k.total_value, k.fitted_value, k.destroyed_value, k.dropped_value,
		       k.region_id, k.solar_system_id,
		       k.position_x, k.position_y, k.position_z, k.is_npc
		FROM killmails k
		LEFT JOIN eve_entities ve ON ve.id = k.victim_id
		LEFT JOIN eve_types vt ON vt.id = k.victim_ship_type_id
		WHERE k.killmail_time >= $1 AND k.killmail_time < $2
		  AND (
			k.victim_id = ANY($3)
			OR k.victim_corporation_id = ANY($3)
			OR k.victim_alliance_id = ANY($3)
			OR EXISTS (
				SELECT 1 FROM attackers a
				WHERE a.killmail_id = k.killmail_id
				  AND (a.character_id = ANY($3) OR a.corporation_id = ANY($3) OR a.alliance_id = ANY($3))
			)
		  )
		ORDER BY k.killmail_id
	`, start, end, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("load killmail window: %w", err)
	}
	defer rows.Close()

	var (
		killmails []StoredKillmail
		index     = make(map[int64]int)
		ids       []int64
	)
	for rows.Next() {
		var km StoredKillmail
		if err := rows.Scan(
			&km.ID, &km.Time, &km.Hash,
			&km.VictimID, &km.VictimName, &km.VictimCategory,
			&km.VictimShipTypeID, &km.VictimShipName,
			&km.VictimShipGroupID, &km.VictimShipCategoryID,
			&km.VictimCorporationID, &km.VictimAllianceID,
			&km.TotalValue, &km.FittedValue, &km.DestroyedValue, &km.DroppedValue,
			&km.RegionID, &km.SolarSystemID,
			&km.PositionX, &km.PositionY, &km.PositionZ, &km.NPC,
		); err != nil {
			return nil, err
		}
		index[km.ID] = len(killmails)
		killmails = append(killmails, km)
		ids = append(ids, km.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(killmails) == 0 {
		return nil, nil
	}

	attackers, err := r.loadAttackers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range attackers {
		i := index[a.KillmailID]
		killmails[i].Attackers = append(killmails[i].Attackers, a)
	}
	return killmails, nil
}

// Get loads one stored killmail with its attacker rows, or nil when the ID is
// not persisted.
func (r *KillmailReader) Get(ctx context.Context, id int64) (*StoredKillmail, error) {
	var km StoredKillmail
	err := r.pool.QueryRow(ctx, `
		SELECT k.killmail_id, k.killmail_time, COALESCE(k.hash, ''),
		       k.victim_id, COALESCE(ve.name, 'Unknown'), COALESCE(ve.category, ''),
		       k.victim_ship_type_id, COALESCE(vt.name, 'Unknown'),
		       COALESCE(vt.group_id, 0), COALESCE(vt.category_id, 0),
		       k.victim_corporation_id, k.victim_alliance_id,
		       k.total_value, k.fitted_value, k.destroyed_value, k.dropped_value,
		       k.region_id, k.solar_system_id,
		       k.position_x, k.position_y, k.position_z, k.is_npc
		FROM killmails k
		LEFT JOIN eve_entities ve ON ve.id = k.victim_id
		LEFT JOIN eve_types vt ON vt.id = k.victim_ship_type_id
		WHERE k.killmail_id = $1
	`, id).Scan(
		&km.ID, &km.Time, &km.Hash,
		&km.VictimID, &km.VictimName, &km.VictimCategory,
		&km.VictimShipTypeID, &km.VictimShipName,
		&km.VictimShipGroupID, &km.VictimShipCategoryID,
		&km.VictimCorporationID, &km.VictimAllianceID,
		&km.TotalValue, &km.FittedValue, &km.DestroyedValue, &km.DroppedValue,
		&km.RegionID, &km.SolarSystemID,
		&km.PositionX, &km.PositionY, &km.PositionZ, &km.NPC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load killmail %d: %w", id, err)
	}

	attackers, err := r.loadAttackers(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	km.Attackers = attackers
	return &km, nil
}

func (r *KillmailReader) loadAttackers(ctx context.Context, killmailIDs []int64) ([]StoredAttacker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.killmail_id, a.character_id, COALESCE(ce.name, 'Unknown'),
		       a.corporation_id, a.alliance_id,
		       a.ship_type_id, COALESCE(ts.name, 'Unknown'), COALESCE(ts.group_id, 0),
		       a.damage_done, a.final_blow, a.weapon_type_id, a.security_status
		FROM attackers a
		LEFT JOIN eve_entities ce ON ce.id = a.character_id
		LEFT JOIN eve_types ts ON ts.id = a.ship_type_id
		WHERE a.killmail_id = ANY($1)
		ORDER BY a.killmail_id, a.id
	`, killmailIDs)
	if err != nil {
		return nil, fmt.Errorf("load attackers: %w", err)
	}
	defer rows.Close()

	var attackers []StoredAttacker
	for rows.Next() {
		var a StoredAttacker
		if err := rows.Scan(
			&a.KillmailID, &a.CharacterID, &a.CharacterName,
			&a.CorporationID, &a.AllianceID,
			&a.ShipTypeID, &a.ShipName, &a.ShipGroupID,
			&a.DamageDone, &a.FinalBlow, &a.WeaponTypeID, &a.SecurityStatus,
		); err != nil {
			return nil, err
		}
		attackers = append(attackers, a)
	}
	return attackers, rows.Err()
}
