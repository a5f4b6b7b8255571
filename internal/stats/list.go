package stats

import (
	"sort"

	"killboard/internal/storage"
)

// List sort orders for the killmail board views.
const (
	SortByDate  = "date"
	SortByValue = "value"
)

// Killmails returns the rendered kill or loss rows of the month (or the full
// year when no month filter is set), newest first by default. order
// SortByValue ranks by total value descending with fitted value breaking
// ties.
func (e *Engine) Killmails(d *Dataset, losses bool, order string) []EventStat {
	var events []*storage.StoredKillmail
	if losses {
		events = d.losses(true)
	} else {
		events = d.kills(true)
	}

	sorted := make([]*storage.StoredKillmail, len(events))
	copy(sorted, events)
	if order == SortByValue {
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].TotalValue != sorted[j].TotalValue {
				return sorted[i].TotalValue > sorted[j].TotalValue
			}
			return sorted[i].FittedValue > sorted[j].FittedValue
		})
	} else {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Time.After(sorted[j].Time)
		})
	}

	out := make([]EventStat, 0, len(sorted))
	for _, ev := range sorted {
		out = append(out, *eventStat(ev))
	}
	return out
}
