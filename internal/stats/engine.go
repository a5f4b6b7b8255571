package stats

import (
	"sort"
	"time"

	"killboard/internal/storage"
	"killboard/internal/universe"
)

// CharacterStat is a single ranked character (or victim entity) with its
// tally. Name carries the display rendering, so an alt reads "Alt (Main)".
type CharacterStat struct {
	CharacterID int64  `json:"character_id"`
	Name        string `json:"character_name"`
	Count       int    `json:"count"`
	Portrait    string `json:"portrait"`
	ZKBLink     string `json:"zkb_link"`
}

// ShipStat is a ranked ship type.
type ShipStat struct {
	ShipTypeID int64  `json:"ship_id"`
	Name       string `json:"ship_name"`
	Count      int    `json:"count"`
	Portrait   string `json:"portrait"`
	ZKBLink    string `json:"zkb_link"`
}

// EventStat is a single extremal killmail.
type EventStat struct {
	KillmailID    int64     `json:"killmail_id"`
	CharacterID   int64     `json:"character_id"`
	CharacterName string    `json:"character_name"`
	ShipTypeID    int64     `json:"ship"`
	ShipName      string    `json:"ship_name"`
	TotalValue    int64     `json:"total_value"`
	FittedValue   int64     `json:"fitted_value"`
	Time          time.Time `json:"date"`
	Hash          string    `json:"hash"`
	Portrait      string    `json:"portrait"`
	ZKBLink       string    `json:"zkb_link"`
}

// HallEntry is one hall-of-fame or hall-of-shame item.
type HallEntry struct {
	KillmailID    int64     `json:"killmail_id"`
	CharacterID   int64     `json:"character_id"`
	CharacterName string    `json:"character_name"`
	MainID        int64     `json:"main_id,omitempty"`
	ShipTypeID    int64     `json:"ship"`
	ShipName      string    `json:"ship_name"`
	TotalValue    int64     `json:"total_value"`
	Time          time.Time `json:"date"`
	Portrait      string    `json:"portrait"`
	ZKBLink       string    `json:"zkb_link"`
}

const hallSize = 5

// Engine computes the named statistics over a dataset.
type Engine struct {
	fameThreshold int64
}

// NewEngine creates an engine. fameThreshold is the minimum total value for a
// kill to qualify for the hall of fame.
func NewEngine(fameThreshold int64) *Engine {
	return &Engine{fameThreshold: fameThreshold}
}

// charTally accumulates per-character counts preserving the literal actor:
// an alt is tallied under its own ID, never merged into the main's count.
type charTally struct {
	id    int64
	name  string
	count int
}

// rankCharacters orders tallies by count descending, then name ascending.
func rankCharacters(tallies map[int64]*charTally) []*charTally {
	out := make([]*charTally, 0, len(tallies))
	for _, t := range tallies {
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func (e *Engine) characterStat(d *Dataset, t *charTally) *CharacterStat {
	return &CharacterStat{
		CharacterID: t.id,
		Name:        d.displayName(t.id, t.name),
		Count:       t.count,
		Portrait:    characterPortrait(t.id),
		ZKBLink:     characterZKBLink(t.id),
	}
}

// killerTallies counts, per attacker character, the kill events it appears
// on. Only attackers belonging to the organization set are counted. distinct
// keeps the tally at one per killmail even when the feed carried duplicate
// attacker entries.
func (e *Engine) killerTallies(d *Dataset, monthOnly bool) map[int64]*charTally {
	tallies := make(map[int64]*charTally)
	for _, ev := range d.kills(monthOnly) {
		seen := make(map[int64]struct{})
		for i := range ev.Attackers {
			a := &ev.Attackers[i]
			if a.CharacterID == nil || !d.attackerMatches(a) {
				continue
			}
			id := *a.CharacterID
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			t, ok := tallies[id]
			if !ok {
				t = &charTally{id: id, name: a.CharacterName}
				tallies[id] = t
			}
			t.count++
		}
	}
	return tallies
}

func (e *Engine) victimTallies(d *Dataset, monthOnly bool) map[int64]*charTally {
	tallies := make(map[int64]*charTally)
	for _, ev := range d.losses(monthOnly) {
		if ev.VictimID == nil {
			continue
		}
		id := *ev.VictimID
		t, ok := tallies[id]
		if !ok {
			t = &charTally{id: id, name: ev.VictimName}
			tallies[id] = t
		}
		t.count++
	}
	return tallies
}

// TopKiller returns the attacker character with the most kills in the month,
// or nil when no data qualifies.
func (e *Engine) TopKiller(d *Dataset) *CharacterStat {
	ranked := rankCharacters(e.killerTallies(d, true))
	if len(ranked) == 0 {
		return nil
	}
	return e.characterStat(d, ranked[0])
}

// AlltimeKiller is TopKiller over the full year window.
func (e *Engine) AlltimeKiller(d *Dataset) *CharacterStat {
	ranked := rankCharacters(e.killerTallies(d, false))
	if len(ranked) == 0 {
		return nil
	}
	return e.characterStat(d, ranked[0])
}

// TopVictim returns the victim entity with the most losses in the month.
func (e *Engine) TopVictim(d *Dataset) *CharacterStat {
	ranked := rankCharacters(e.victimTallies(d, true))
	if len(ranked) == 0 {
		return nil
	}
	return e.characterStat(d, ranked[0])
}

// AlltimeVictim is TopVictim over the full year window.
func (e *Engine) AlltimeVictim(d *Dataset) *CharacterStat {
	ranked := rankCharacters(e.victimTallies(d, false))
	if len(ranked) == 0 {
		return nil
	}
	return e.characterStat(d, ranked[0])
}

type shipTally struct {
	id    int64
	name  string
	count int
}

func rankShips(tallies map[int64]*shipTally) []*shipTally {
	out := make([]*shipTally, 0, len(tallies))
	for _, t := range tallies {
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func shipStat(t *shipTally) *ShipStat {
	return &ShipStat{
		ShipTypeID: t.id,
		Name:       t.name,
		Count:      t.count,
		Portrait:   typeIcon(t.id),
		ZKBLink:    shipZKBLink(t.id),
	}
}

// TopShip returns the ship type flown by organization attackers on the most
// kills in the month. Each ship type counts once per killmail. Capsules are
// excluded.
func (e *Engine) TopShip(d *Dataset) *ShipStat {
	tallies := make(map[int64]*shipTally)
	for _, ev := range d.kills(true) {
		seen := make(map[int64]struct{})
		for i := range ev.Attackers {
			a := &ev.Attackers[i]
			if a.ShipTypeID == nil || !d.attackerMatches(a) {
				continue
			}
			if a.ShipGroupID == universe.CapsuleGroupID {
				continue
			}
			id := *a.ShipTypeID
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			t, ok := tallies[id]
			if !ok {
				t = &shipTally{id: id, name: a.ShipName}
				tallies[id] = t
			}
			t.count++
		}
	}
	ranked := rankShips(tallies)
	if len(ranked) == 0 {
		return nil
	}
	return shipStat(ranked[0])
}

// WorstShip returns the most-lost ship type in the month. Capsules and mobile
// structures are excluded.
func (e *Engine) WorstShip(d *Dataset) *ShipStat {
	tallies := make(map[int64]*shipTally)
	for _, ev := range d.losses(true) {
		if ev.VictimShipTypeID == nil {
			continue
		}
		if ev.VictimShipGroupID == universe.CapsuleGroupID {
			continue
		}
		if ev.VictimShipCategoryID == universe.StructureCategoryID {
			continue
		}
		id := *ev.VictimShipTypeID
		t, ok := tallies[id]
		if !ok {
			t = &shipTally{id: id, name: ev.VictimShipName}
			tallies[id] = t
		}
		t.count++
	}
	ranked := rankShips(tallies)
	if len(ranked) == 0 {
		return nil
	}
	return shipStat(ranked[0])
}

// highestValue picks the event with the maximum total value. Ties fall to the
// higher fitted value, then to insertion order.
func highestValue(events []*storage.StoredKillmail) *storage.StoredKillmail {
	var best *storage.StoredKillmail
	for _, ev := range events {
		if best == nil {
			best = ev
			continue
		}
		if ev.TotalValue > best.TotalValue {
			best = ev
			continue
		}
		if ev.TotalValue == best.TotalValue && ev.FittedValue > best.FittedValue {
			best = ev
		}
	}
	return best
}

func eventStat(ev *storage.StoredKillmail) *EventStat {
	s := &EventStat{
		KillmailID:    ev.ID,
		CharacterName: ev.VictimName,
		ShipName:      ev.VictimShipName,
		TotalValue:    ev.TotalValue,
		FittedValue:   ev.FittedValue,
		Time:          ev.Time,
		Hash:          ev.Hash,
	}
	if ev.VictimID != nil {
		s.CharacterID = *ev.VictimID
	}
	if ev.VictimShipTypeID != nil {
		s.ShipTypeID = *ev.VictimShipTypeID
	}
	s.Portrait = victimPortrait(ev.VictimCategory, s.CharacterID)
	s.ZKBLink = victimZKBLink(ev.VictimCategory, s.CharacterID)
	return s
}

// HighestKill returns the most valuable kill of the month, or nil.
func (e *Engine) HighestKill(d *Dataset) *EventStat {
	best := highestValue(d.kills(true))
	if best == nil {
		return nil
	}
	return eventStat(best)
}

// HighestLoss returns the most valuable loss of the month, or nil.
func (e *Engine) HighestLoss(d *Dataset) *EventStat {
	best := highestValue(d.losses(true))
	if best == nil {
		return nil
	}
	return eventStat(best)
}
