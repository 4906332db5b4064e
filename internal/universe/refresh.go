package universe

import (
	"context"
	"sort"
	"strings"
	"time"

	appconfig "marketflow/config"
	"marketflow/internal/code"
	"marketflow/internal/model"
	"marketflow/internal/normalize"
	"marketflow/internal/store"
	"marketflow/logger"
)

// Exclusion reasons reported in Stats.Excluded.
const (
	ReasonInvalidCode = "invalid_code"
	ReasonST          = "st"
	ReasonDelisting   = "delisting"
	ReasonSuspended   = "suspended"
	ReasonMoneyMarket = "money_market"
	ReasonNewListing  = "new_listing"
	ReasonSmallFund   = "small_fund"
	ReasonDuplicate   = "duplicate"
)

type Stats struct {
	Fetched  int
	Kept     int
	Added    int
	Removed  int
	Unit     normalize.FundSizeUnit
	Excluded map[string]int
}

type Refresher struct {
	lister Lister
	cfg    appconfig.UniverseConfig
	now    func() time.Time
	log    *logger.Log
}

func NewRefresher(lister Lister, cfg appconfig.UniverseConfig) *Refresher {
	return &Refresher{lister: lister, cfg: cfg, now: time.Now, log: logger.GetLogger()}
}

// Refresh lists candidates, filters them and rewrites the registry at path.
// Cursors of instruments already in the registry are carried over.
func (r *Refresher) Refresh(ctx context.Context, path string) (Stats, error) {
	candidates, err := r.lister.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	existing, err := store.LoadRegistry(path)
	if err != nil {
		return Stats{}, err
	}

	entries, stats := r.Build(candidates, existing)
	if err := store.SaveRegistry(path, entries); err != nil {
		return stats, err
	}

	r.log.WithComponent("universe").WithFields(logger.Fields{
		"fetched":  stats.Fetched,
		"kept":     stats.Kept,
		"added":    stats.Added,
		"removed":  stats.Removed,
		"excluded": stats.Excluded,
		"unit":     stats.Unit,
	}).Info("universe refreshed")
	return stats, nil
}

// Build filters candidates into registry entries sorted by code.
func (r *Refresher) Build(candidates []Candidate, existing []model.RegistryEntry) ([]model.RegistryEntry, Stats) {
	stats := Stats{Fetched: len(candidates), Excluded: make(map[string]int)}
	log := r.log.WithComponent("universe")

	sizes := make([]float64, len(candidates))
	for i, c := range candidates {
		sizes[i] = c.Size
	}
	scaled, unit, rescaled := normalize.ScaleFundSize(sizes)
	stats.Unit = unit
	if rescaled {
		log.WithFields(logger.Fields{"unit": unit}).Warn("fund size column rescaled to 100M yuan")
	}

	cursors := make(map[string]int, len(existing))
	startCursor := 0
	for i, e := range existing {
		cursors[e.Code] = e.NextCrawlIndex
		if i == 0 || e.NextCrawlIndex < startCursor {
			startCursor = e.NextCrawlIndex
		}
	}

	now := r.now()
	seen := make(map[string]bool, len(candidates))
	var out []model.RegistryEntry
	for i, c := range candidates {
		c.Size = scaled[i]
		formatted, reason := r.exclusion(c, now)
		if reason == "" && seen[formatted] {
			reason = ReasonDuplicate
		}
		if reason != "" {
			stats.Excluded[reason]++
			continue
		}
		seen[formatted] = true

		entry := model.RegistryEntry{Code: formatted, Name: strings.TrimSpace(c.Name), Size: c.Size}
		if cur, ok := cursors[formatted]; ok {
			entry.NextCrawlIndex = cur
		} else {
			entry.NextCrawlIndex = startCursor
			stats.Added++
		}
		out = append(out, entry)
	}

	for _, e := range existing {
		if !seen[e.Code] {
			stats.Removed++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	stats.Kept = len(out)
	return out, stats
}

// exclusion returns the canonical code, or the reason the candidate is dropped.
func (r *Refresher) exclusion(c Candidate, now time.Time) (string, string) {
	formatted, err := code.Format(c.Code)
	if err != nil {
		return "", ReasonInvalidCode
	}
	name := strings.ToUpper(strings.TrimSpace(c.Name))
	switch {
	case strings.HasPrefix(name, "ST") || strings.HasPrefix(name, "*ST"):
		return formatted, ReasonST
	case strings.Contains(name, "退"):
		return formatted, ReasonDelisting
	case c.Price <= 0:
		return formatted, ReasonSuspended
	case !code.Classify(formatted).Tradable():
		return formatted, ReasonMoneyMarket
	}
	if r.cfg.MinListingDays > 0 && !c.ListedAt.IsZero() {
		if now.Sub(c.ListedAt) < time.Duration(r.cfg.MinListingDays)*24*time.Hour {
			return formatted, ReasonNewListing
		}
	}
	if c.Size < r.cfg.MinFundSize {
		return formatted, ReasonSmallFund
	}
	return formatted, ""
}
