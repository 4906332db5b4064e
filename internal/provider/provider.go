// Package provider holds the adapters that pull daily bars from public
// market-data endpoints.
package provider

import (
	"context"
	"fmt"
	"time"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

// Provider fetches raw daily bars for one instrument over a window. It
// returns ErrSourceEmpty when there is nothing to report and a *SourceError
// for transport or decoding failures.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, inst model.Instrument, window model.Window) (*model.RawTable, error)
}

// Entry pairs a provider with the jitter range the orchestrator sleeps
// before each call to it.
type Entry struct {
	Provider  Provider
	JitterMin time.Duration
	JitterMax time.Duration
}

type factory func(name string, cfg appconfig.ProviderConfig) Provider

var factories = map[string]factory{
	"eastmoney": func(name string, cfg appconfig.ProviderConfig) Provider { return NewEastmoney(name, cfg) },
	"sina":      func(name string, cfg appconfig.ProviderConfig) Provider { return NewSina(name, cfg) },
	"tencent":   func(name string, cfg appconfig.ProviderConfig) Provider { return NewTencent(name, cfg) },
	"netease":   func(name string, cfg appconfig.ProviderConfig) Provider { return NewNetease(name, cfg) },
}

// Build creates the adapters named in fetch.source_priority, in that order.
func Build(cfg *appconfig.Config) ([]Entry, error) {
	entries := make([]Entry, 0, len(cfg.Fetch.SourcePriority))
	for _, name := range cfg.Fetch.SourcePriority {
		mk, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		pcfg, ok := cfg.Providers[name]
		if !ok {
			return nil, fmt.Errorf("providers.%s is not configured", name)
		}
		entries = append(entries, Entry{
			Provider:  mk(name, pcfg),
			JitterMin: pcfg.JitterMin,
			JitterMax: pcfg.JitterMax,
		})
	}
	return entries, nil
}
