package stats

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Dashboard bundles every statistic for one window into a single response.
type Dashboard struct {
	TopKiller     *CharacterStat  `json:"top_killer"`
	AlltimeKiller *CharacterStat  `json:"alltime_killer"`
	TopVictim     *CharacterStat  `json:"top_victim"`
	AlltimeVictim *CharacterStat  `json:"alltime_victim"`
	TopShip       *ShipStat       `json:"top_ship"`
	WorstShip     *ShipStat       `json:"worst_ship"`
	HighestKill   *EventStat      `json:"highest_kill"`
	HighestLoss   *EventStat      `json:"highest_loss"`
	HallOfFame    []HallEntry     `json:"hall_of_fame"`
	HallOfShame   []HallEntry     `json:"hall_of_shame"`
	Top10         []CharacterStat `json:"top10"`
}

// BuildDashboard computes all statistics concurrently. The dataset is
// read-only during computation, so the statistics can run in parallel.
func (e *Engine) BuildDashboard(ctx context.Context, d *Dataset) (*Dashboard, error) {
	var out Dashboard
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error { out.TopKiller = e.TopKiller(d); return nil })
	g.Go(func() error { out.AlltimeKiller = e.AlltimeKiller(d); return nil })
	g.Go(func() error { out.TopVictim = e.TopVictim(d); return nil })
	g.Go(func() error { out.AlltimeVictim = e.AlltimeVictim(d); return nil })
	g.Go(func() error { out.TopShip = e.TopShip(d); return nil })
	g.Go(func() error { out.WorstShip = e.WorstShip(d); return nil })
	g.Go(func() error { out.HighestKill = e.HighestKill(d); return nil })
	g.Go(func() error { out.HighestLoss = e.HighestLoss(d); return nil })
	g.Go(func() error { out.HallOfFame = e.HallOfFame(d); return nil })
	g.Go(func() error { out.HallOfShame = e.HallOfShame(d); return nil })
	g.Go(func() error { out.Top10 = e.Top10(d); return nil })

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
