package task

import (
	"context"
	"errors"
	"fmt"

	"marketflow/internal/model"
	"marketflow/internal/report"
	"marketflow/logger"
)

var errNoQuoteSource = errors.New("realtime quote source not configured")

// realtimeQuote pushes an intraday snapshot of the registry and is not
// guarded by the daily flag.
func (d *Dispatcher) realtimeQuote(ctx context.Context, _ string) (details, error) {
	if d.deps.Quotes == nil {
		return nil, errNoQuoteSource
	}
	entries, err := d.registry()
	if err != nil {
		return nil, err
	}
	now := d.deps.Now()
	if !d.deps.Calendar.IsSessionOpen(now) {
		d.log.WithComponent("task").WithFields(logger.Fields{"task": RealtimeQuote}).Info("market closed, quoting last prices")
	}

	codes := make([]string, len(entries))
	for i, e := range entries {
		codes[i] = e.Code
	}
	quotes, err := d.deps.Quotes.Quotes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("quotes: %w", err)
	}

	list := make([]model.Quote, 0, len(quotes))
	for _, e := range entries {
		q, ok := quotes[e.Code]
		if !ok {
			continue
		}
		if q.Name == "" {
			q.Name = e.Name
		}
		list = append(list, q)
	}

	out := details{"requested": len(codes), "quoted": len(list)}
	if d.deps.Notifier == nil {
		return out, nil
	}
	text := report.FormatQuotes(d.title(), now, list)
	if err := d.deps.Notifier.Notify(ctx, text); err != nil {
		out["notification"] = "failed"
		return out, err
	}
	out["notification"] = "sent"
	return out, nil
}
