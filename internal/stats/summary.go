package stats

import (
	"context"

	"github.com/woozymasta/lmstats/internal/models"
	"golang.org/x/sync/errgroup"
)

// Summary is the dashboard's default bundle.
type Summary struct {
	ConnectedPlayers models.ValueCounts `json:"connectedPlayers"`
	Countries        models.ValueCounts `json:"countries"`
	OS               models.ValueCounts `json:"os"`
	PlayerTypes      models.ValueCounts `json:"playerTypes"`
	Tracks           models.ValueCounts `json:"tracks"`
	Versions         models.ValueCounts `json:"versions"`
}

// Summary computes the bundle concurrently. A zero window means the active window.
func (e *Engine) Summary(ctx context.Context, q Query) (*Summary, error) {
	if q.Secs <= 0 {
		q.Secs = e.ActiveSecs()
	}

	s := &Summary{}
	g, ctx := errgroup.WithContext(ctx)
	collect(ctx, g, q, e.Players, &s.ConnectedPlayers)
	collect(ctx, g, q, e.Countries, &s.Countries)
	collect(ctx, g, q, e.OS, &s.OS)
	collect(ctx, g, q, e.MergedPlayerTypes, &s.PlayerTypes)
	collect(ctx, g, q, e.TrackCounts, &s.Tracks)
	collect(ctx, g, q, e.Versions, &s.Versions)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s, nil
}
