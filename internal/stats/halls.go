package stats

import (
	"sort"

	"killboard/internal/storage"
	"killboard/internal/universe"
)

// fameCandidate is one qualifying kill attributed to a roster main.
type fameCandidate struct {
	event    *storage.StoredKillmail
	attacker *storage.StoredAttacker
	mainID   int64
}

// creditedAttacker picks the roster attacker a kill is credited to: the final
// blow when a roster character landed it, otherwise the roster attacker with
// the most damage done.
func creditedAttacker(d *Dataset, ev *storage.StoredKillmail) *storage.StoredAttacker {
	var best *storage.StoredAttacker
	for i := range ev.Attackers {
		a := &ev.Attackers[i]
		if a.CharacterID == nil || !d.Roster.Contains(*a.CharacterID) {
			continue
		}
		if a.FinalBlow {
			return a
		}
		if best == nil || a.DamageDone > best.DamageDone {
			best = a
		}
	}
	return best
}

// HallOfFame returns the top 5 kills of the month, one per player. Each kill
// is credited to a roster attacker and attributed to that character's main,
// so one player holds at most one slot. Kills below the value threshold,
// structure kills, NPC-only kills, and own losses are excluded.
func (e *Engine) HallOfFame(d *Dataset) []HallEntry {
	if d.empty() || d.Roster == nil || d.Roster.Empty() {
		return []HallEntry{}
	}

	bestPerMain := make(map[int64]fameCandidate)
	for _, ev := range d.kills(true) {
		if ev.TotalValue <= e.fameThreshold {
			continue
		}
		if ev.VictimShipCategoryID == universe.StructureCategoryID {
			continue
		}
		if ev.NPC {
			continue
		}
		if ev.VictimID != nil && d.Roster.Contains(*ev.VictimID) {
			continue
		}
		attacker := creditedAttacker(d, ev)
		if attacker == nil {
			continue
		}
		main, ok := d.Roster.MainOf(*attacker.CharacterID)
		if !ok {
			continue
		}
		cur, exists := bestPerMain[main.ID]
		if !exists || betterFame(ev, cur.event) {
			bestPerMain[main.ID] = fameCandidate{event: ev, attacker: attacker, mainID: main.ID}
		}
	}

	candidates := make([]fameCandidate, 0, len(bestPerMain))
	for _, c := range bestPerMain {
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return betterFame(candidates[i].event, candidates[j].event)
	})
	if len(candidates) > hallSize {
		candidates = candidates[:hallSize]
	}

	entries := make([]HallEntry, 0, len(candidates))
	for _, c := range candidates {
		charID := *c.attacker.CharacterID
		entries = append(entries, HallEntry{
			KillmailID:    c.event.ID,
			CharacterID:   charID,
			CharacterName: d.Roster.DisplayName(charID, c.attacker.CharacterName),
			MainID:        c.mainID,
			ShipTypeID:    int64OrZero(c.event.VictimShipTypeID),
			ShipName:      c.event.VictimShipName,
			TotalValue:    c.event.TotalValue,
			Time:          c.event.Time,
			Portrait:      characterPortrait(charID),
			ZKBLink:       characterZKBLink(charID),
		})
	}
	return entries
}

func betterFame(a, b *storage.StoredKillmail) bool {
	if a.TotalValue != b.TotalValue {
		return a.TotalValue > b.TotalValue
	}
	return a.FittedValue > b.FittedValue
}

// HallOfShame returns the top 5 losses of the month by value.
func (e *Engine) HallOfShame(d *Dataset) []HallEntry {
	losses := d.losses(true)
	sort.SliceStable(losses, func(i, j int) bool { return betterFame(losses[i], losses[j]) })
	if len(losses) > hallSize {
		losses = losses[:hallSize]
	}

	entries := make([]HallEntry, 0, len(losses))
	for _, ev := range losses {
		charID := int64OrZero(ev.VictimID)
		name := ev.VictimName
		portrait := victimPortrait(ev.VictimCategory, charID)
		zkb := victimZKBLink(ev.VictimCategory, charID)
		if d.Roster != nil && ev.VictimID != nil && d.Roster.Contains(charID) {
			name = d.Roster.DisplayName(charID, ev.VictimName)
		}
		entries = append(entries, HallEntry{
			KillmailID:    ev.ID,
			CharacterID:   charID,
			CharacterName: name,
			ShipTypeID:    int64OrZero(ev.VictimShipTypeID),
			ShipName:      ev.VictimShipName,
			TotalValue:    ev.TotalValue,
			Time:          ev.Time,
			Portrait:      portrait,
			ZKBLink:       zkb,
		})
	}
	return entries
}

// Top10 returns the 10 attacker characters with the most kills in the month.
// An alt keeps its own tally and is rendered as "Alt (Main)".
func (e *Engine) Top10(d *Dataset) []CharacterStat {
	ranked := rankCharacters(e.killerTallies(d, true))
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	out := make([]CharacterStat, 0, len(ranked))
	for _, t := range ranked {
		out = append(out, *e.characterStat(d, t))
	}
	return out
}

func int64OrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
