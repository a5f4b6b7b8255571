package killmail

import (
	"time"

	json "github.com/goccy/go-json"
)

// Killmail is the raw event as received from the feed. Every field that may
// be absent from the payload is a pointer: a nil pointer means "not present",
// which is not the same as an explicit zero.
type Killmail struct {
	ID            int64      `json:"killmail_id"`
	Time          time.Time  `json:"killmail_time"`
	SolarSystemID *int64     `json:"solar_system_id,omitempty"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers,omitempty"`
	Position      Position   `json:"position"`
	ZKB           ZKB        `json:"zkb"`
}

// Entity identifies one participant. All references are optional; an NPC
// attacker may carry only a corporation ID.
type Entity struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	FactionID     *int64 `json:"faction_id,omitempty"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
}

// Victim is the losing party on a killmail.
type Victim struct {
	Entity
	DamageTaken *int64 `json:"damage_taken,omitempty"`
}

// Attacker is one participant credited with damage. Zero or more per killmail.
type Attacker struct {
	Entity
	DamageDone     *int64   `json:"damage_done,omitempty"`
	FinalBlow      *bool    `json:"final_blow,omitempty"`
	SecurityStatus *float64 `json:"security_status,omitempty"`
	WeaponTypeID   *int64   `json:"weapon_type_id,omitempty"`
}

// Position is the 3D location of the loss.
type Position struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

// ZKB is the zKillboard value block attached to the feed payload.
type ZKB struct {
	LocationID     *int64   `json:"locationID,omitempty"`
	Hash           *string  `json:"hash,omitempty"`
	FittedValue    *float64 `json:"fittedValue,omitempty"`
	DroppedValue   *float64 `json:"droppedValue,omitempty"`
	DestroyedValue *float64 `json:"destroyedValue,omitempty"`
	TotalValue     *float64 `json:"totalValue,omitempty"`
	Points         *int64   `json:"points,omitempty"`
	NPC            *bool    `json:"npc,omitempty"`
	Solo           *bool    `json:"solo,omitempty"`
	Awox           *bool    `json:"awox,omitempty"`
}

// AttackerCorporationIDs returns the distinct corporation IDs of all attackers.
func (k *Killmail) AttackerCorporationIDs() map[int64]struct{} {
	return distinct(k.Attackers, func(a Attacker) *int64 { return a.CorporationID })
}

// AttackerAllianceIDs returns the distinct alliance IDs of all attackers.
func (k *Killmail) AttackerAllianceIDs() map[int64]struct{} {
	return distinct(k.Attackers, func(a Attacker) *int64 { return a.AllianceID })
}

// AttackerCharacterIDs returns the distinct character IDs of all attackers.
func (k *Killmail) AttackerCharacterIDs() map[int64]struct{} {
	return distinct(k.Attackers, func(a Attacker) *int64 { return a.CharacterID })
}

// MatchesCorporation reports whether the killmail involves the corporation,
// either as the victim's corporation or through any attacker.
func (k *Killmail) MatchesCorporation(corporationID int64) bool {
	if k.Victim.CorporationID != nil && *k.Victim.CorporationID == corporationID {
		return true
	}
	_, ok := k.AttackerCorporationIDs()[corporationID]
	return ok
}

// MatchesAlliance reports whether the killmail involves the alliance.
func (k *Killmail) MatchesAlliance(allianceID int64) bool {
	if k.Victim.AllianceID != nil && *k.Victim.AllianceID == allianceID {
		return true
	}
	_, ok := k.AttackerAllianceIDs()[allianceID]
	return ok
}

// HasPlayerAttacker reports whether at least one attacker is a character.
// Killmails without one are NPC-only.
func (k *Killmail) HasPlayerAttacker() bool {
	for _, a := range k.Attackers {
		if a.CharacterID != nil {
			return true
		}
	}
	return false
}

// Encode serializes the killmail for staging storage.
func (k *Killmail) Encode() ([]byte, error) {
	return json.Marshal(k)
}

// Decode deserializes a staged killmail.
func Decode(data []byte) (*Killmail, error) {
	var km Killmail
	if err := json.Unmarshal(data, &km); err != nil {
		return nil, err
	}
	return &km, nil
}

func distinct(attackers []Attacker, pick func(Attacker) *int64) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, a := range attackers {
		if id := pick(a); id != nil {
			ids[*id] = struct{}{}
		}
	}
	return ids
}
