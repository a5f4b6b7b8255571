package killmail

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Wire structures for the RedisQ envelope. The feed nests the victim position
// inside the victim object and keeps the zkb block beside the killmail body.
type redisqEnvelope struct {
	Package *redisqPackage `json:"package"`
}

type redisqPackage struct {
	KillID   *int64      `json:"killID"`
	Killmail *redisqBody `json:"killmail"`
	ZKB      *ZKB        `json:"zkb"`
}

type redisqBody struct {
	KillmailID    int64          `json:"killmail_id"`
	KillmailTime  string         `json:"killmail_time"`
	SolarSystemID *int64         `json:"solar_system_id"`
	Victim        *redisqVictim  `json:"victim"`
	Attackers     []Attacker     `json:"attackers"`
}

type redisqVictim struct {
	Victim
	Position *Position `json:"position"`
}

// ParsePackage decodes a RedisQ response body. A missing or empty "package"
// means the queue had nothing for us and yields (nil, nil). Malformed JSON is
// an error the caller treats as transient.
func ParsePackage(data []byte) (*Killmail, error) {
	var env redisqEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}
	if env.Package == nil || env.Package.Killmail == nil {
		return nil, nil
	}

	body := env.Package.Killmail
	t, err := time.Parse(time.RFC3339, body.KillmailTime)
	if err != nil {
		return nil, fmt.Errorf("parse killmail_time %q: %w", body.KillmailTime, err)
	}

	km := &Killmail{
		ID:            body.KillmailID,
		Time:          t.UTC(),
		SolarSystemID: body.SolarSystemID,
		Attackers:     body.Attackers,
	}
	if body.Victim != nil {
		km.Victim = body.Victim.Victim
		if body.Victim.Position != nil {
			km.Position = *body.Victim.Position
		}
	}
	if env.Package.ZKB != nil {
		km.ZKB = *env.Package.ZKB
	}
	return km, nil
}
