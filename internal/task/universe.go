package task

import (
	"context"
	"errors"
)

var errNoUniverse = errors.New("universe refresher not configured")

func (d *Dispatcher) refreshUniverse(ctx context.Context, _ string) (details, error) {
	if d.deps.Universe == nil {
		return nil, errNoUniverse
	}
	stats, err := d.deps.Universe.Refresh(ctx, d.deps.Config.Storage.RegistryPath)
	if err != nil {
		return nil, err
	}
	return details{
		"fetched":  stats.Fetched,
		"kept":     stats.Kept,
		"added":    stats.Added,
		"removed":  stats.Removed,
		"unit":     string(stats.Unit),
		"excluded": stats.Excluded,
	}, nil
}
