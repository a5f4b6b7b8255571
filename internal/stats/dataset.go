// Package stats computes killboard statistics over a loaded window of stored
// killmails. All computation is pure: the caller loads the events and the
// roster, the engine never touches the database.
package stats

import (
	"killboard/internal/roster"
	"killboard/internal/storage"
)

// Dataset is one statistics input: a full-year window of events in insertion
// order, the roster for the organization set, and an optional month filter.
// Monthly statistics read the month subset, alltime statistics the full year.
type Dataset struct {
	Events []storage.StoredKillmail
	Roster *roster.Roster
	Month  int

	orgIDs map[int64]struct{}
}

// NewDataset builds a dataset. month of 0 means no month filter, so monthly
// and alltime statistics see the same events.
func NewDataset(events []storage.StoredKillmail, r *roster.Roster, orgIDs []int64, month int) *Dataset {
	set := make(map[int64]struct{}, len(orgIDs))
	for _, id := range orgIDs {
		set[id] = struct{}{}
	}
	return &Dataset{Events: events, Roster: r, Month: month, orgIDs: set}
}

func (d *Dataset) empty() bool { return len(d.orgIDs) == 0 || len(d.Events) == 0 }

func (d *Dataset) inOrgSet(id *int64) bool {
	if id == nil {
		return false
	}
	_, ok := d.orgIDs[*id]
	return ok
}

// isLoss reports whether the victim side of the event belongs to the
// organization set. Only the corporation and alliance columns are compared;
// character IDs live in a separate numbering space and must never be checked
// against organization IDs.
func (d *Dataset) isLoss(ev *storage.StoredKillmail) bool {
	if _, ok := d.orgIDs[ev.VictimCorporationID]; ok {
		return true
	}
	return d.inOrgSet(ev.VictimAllianceID)
}

// isKill reports whether any attacker on the event belongs to the
// organization set.
func (d *Dataset) isKill(ev *storage.StoredKillmail) bool {
	for i := range ev.Attackers {
		if d.attackerMatches(&ev.Attackers[i]) {
			return true
		}
	}
	return false
}

func (d *Dataset) attackerMatches(a *storage.StoredAttacker) bool {
	return d.inOrgSet(a.CorporationID) || d.inOrgSet(a.AllianceID)
}

// displayName renders a character, tolerating a dataset built without a
// roster.
func (d *Dataset) displayName(id int64, own string) string {
	if d.Roster == nil {
		return own
	}
	return d.Roster.DisplayName(id, own)
}

func (d *Dataset) inMonth(ev *storage.StoredKillmail) bool {
	return d.Month == 0 || int(ev.Time.Month()) == d.Month
}

// kills returns matching kill events, optionally restricted to the month
// filter. Order follows the input (insertion order).
func (d *Dataset) kills(monthOnly bool) []*storage.StoredKillmail {
	if d.empty() {
		return nil
	}
	var out []*storage.StoredKillmail
	for i := range d.Events {
		ev := &d.Events[i]
		if monthOnly && !d.inMonth(ev) {
			continue
		}
		if d.isKill(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (d *Dataset) losses(monthOnly bool) []*storage.StoredKillmail {
	if d.empty() {
		return nil
	}
	var out []*storage.StoredKillmail
	for i := range d.Events {
		ev := &d.Events[i]
		if monthOnly && !d.inMonth(ev) {
			continue
		}
		if d.isLoss(ev) {
			out = append(out, ev)
		}
	}
	return out
}
