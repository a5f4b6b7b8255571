package storage

import "time"

// StoredKillmail is a persisted killmail row joined with its catalog names,
// as loaded for the statistics engine.
type StoredKillmail struct {
	ID                   int64
	Time                 time.Time
	Hash                 string
	VictimID             *int64
	VictimName           string
	VictimCategory       string
	VictimShipTypeID     *int64
	VictimShipName       string
	VictimShipGroupID    int64
	VictimShipCategoryID int64
	VictimCorporationID  int64
	VictimAllianceID     *int64
	TotalValue           int64
	FittedValue          int64
	DestroyedValue       int64
	DroppedValue         int64
	RegionID             *int64
	SolarSystemID        *int64
	PositionX            *float64
	PositionY            *float64
	PositionZ            *float64
	NPC                  bool
	Attackers            []StoredAttacker
}

// StoredAttacker is one attacker row joined with catalog names.
type StoredAttacker struct {
	KillmailID     int64
	CharacterID    *int64
	CharacterName  string
	CorporationID  *int64
	AllianceID     *int64
	ShipTypeID     *int64
	ShipName       string
	ShipGroupID    int64
	DamageDone     int64
	FinalBlow      bool
	WeaponTypeID   *int64
	SecurityStatus *float64
}

// OrgType distinguishes the two tracked organization kinds.
type OrgType string

const (
	OrgCorporation OrgType = "corporation"
	OrgAlliance    OrgType = "alliance"
)

// Valid reports whether the value is one of the two known kinds.
func (t OrgType) Valid() bool {
	return t == OrgCorporation || t == OrgAlliance
}

// TrackedOrg is one organization opted into statistics tracking.
type TrackedOrg struct {
	OrgID            int64
	Type             OrgType
	OwnerCharacterID int64
	LastUpdate       time.Time
}
