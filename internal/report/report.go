// Package report renders plain-text messages for the webhook.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketflow/internal/fetch"
	"marketflow/internal/model"
	"marketflow/internal/score"
)

const dateLayout = "2006-01-02"

// maxListedFailures bounds how many failed codes a failure report names.
const maxListedFailures = 20

// Daily is the input of the end-of-day signal report.
type Daily struct {
	Title        string
	Date         time.Time
	TopN         int
	Scores       []score.Result
	Signals      []score.Signal
	Insufficient []string
	Names        map[string]string
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func header(title, subject string, date time.Time) string {
	if title == "" {
		title = "MarketFlow"
	}
	return fmt.Sprintf("[%s] %s %s", title, subject, date.Format(dateLayout))
}

// TopScores sorts by composite descending, code ascending on ties, and
// returns at most n results. Insufficient results are never ranked.
func TopScores(results []score.Result, n int) []score.Result {
	ranked := make([]score.Result, 0, len(results))
	for _, r := range results {
		if !r.Insufficient {
			ranked = append(ranked, r)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Composite != ranked[j].Composite {
			return ranked[i].Composite > ranked[j].Composite
		}
		return ranked[i].Code < ranked[j].Code
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// FormatDaily renders the top-N ranking, the confirmed signals and the
// number of instruments skipped for short history.
func FormatDaily(d Daily) string {
	var b strings.Builder
	b.WriteString(header(d.Title, "Daily ETF report", d.Date))
	b.WriteString("\n")

	top := TopScores(d.Scores, d.TopN)
	scored := len(TopScores(d.Scores, 0))
	fmt.Fprintf(&b, "\nTop %d by composite score (%d scored):\n", len(top), scored)
	if len(top) == 0 {
		b.WriteString("  none\n")
	}
	for i, r := range top {
		fmt.Fprintf(&b, "%2d. %s %s  score %s  close %s  liq %s risk %s ret %s sent %s prem %s\n",
			i+1, r.Code, nameOf(d.Names, r.Code, r.Name),
			fixed(r.Composite, 1), fixed(r.Close, 3),
			fixed(r.Liquidity, 0), fixed(r.Risk, 0), fixed(r.Return, 0), fixed(r.Sentiment, 0), fixed(r.Premium, 0))
	}

	fmt.Fprintf(&b, "\nSignals (%d):\n", len(d.Signals))
	if len(d.Signals) == 0 {
		b.WriteString("  no confirmed crosses\n")
	}
	signals := append([]score.Signal(nil), d.Signals...)
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Code < signals[j].Code })
	for _, s := range signals {
		fmt.Fprintf(&b, "  %s %s %s  close %s  MA %s  (%s)\n",
			strings.ToUpper(string(s.Type)), s.Code, nameOf(d.Names, s.Code, ""),
			fixed(s.Close, 3), fixed(s.MA, 3), s.Date.Format(dateLayout))
	}

	if n := len(d.Insufficient); n > 0 {
		fmt.Fprintf(&b, "\nInsufficient history: %d instrument(s) skipped\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatCrawl summarises a crawl batch.
func FormatCrawl(title string, date time.Time, s fetch.BatchSummary) string {
	var b strings.Builder
	b.WriteString(header(title, "Daily crawl", date))
	fmt.Fprintf(&b, "\nupdated %d, up to date %d, exhausted %d, invalid %d, failed %d (%s)",
		s.Success, s.NoOp, s.Exhausted, s.Invalid, s.Failed, s.Duration.Round(time.Second))
	if len(s.FailedCodes) > 0 {
		b.WriteString("\nfailed: ")
		b.WriteString(listCodes(s.FailedCodes))
	}
	return b.String()
}

// FormatFailure is sent when every attempted instrument exhausted every
// source, so readers do not mistake an outage for a quiet day.
func FormatFailure(title string, date time.Time, s fetch.BatchSummary) string {
	var b strings.Builder
	b.WriteString(header(title, "DATA SOURCE FAILURE", date))
	fmt.Fprintf(&b, "\nAll data sources failed for %d instrument(s); no bars were updated.", s.Exhausted)
	b.WriteString("\nStored history and fetch state are unchanged. Scores computed today use stale data.")
	if len(s.FailedCodes) > 0 {
		b.WriteString("\nAffected: ")
		b.WriteString(listCodes(s.FailedCodes))
	}
	return b.String()
}

// FormatQuotes renders a realtime snapshot sorted by percent change.
func FormatQuotes(title string, at time.Time, quotes []model.Quote) string {
	sorted := append([]model.Quote(nil), quotes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PctChange != sorted[j].PctChange {
			return sorted[i].PctChange > sorted[j].PctChange
		}
		return sorted[i].Code < sorted[j].Code
	})

	var b strings.Builder
	if title == "" {
		title = "MarketFlow"
	}
	fmt.Fprintf(&b, "[%s] Realtime quotes %s (%d)", title, at.Format("2006-01-02 15:04"), len(sorted))
	for _, q := range sorted {
		fmt.Fprintf(&b, "\n%s %s  %s  %s%%  amount %s",
			q.Code, q.Name, fixed(q.Price, 3), signed(q.PctChange), Money(q.Amount))
	}
	return b.String()
}

// Money formats a yuan amount in 10k (万) or 100M (亿) units.
func Money(v float64) string {
	d := decimal.NewFromFloat(v)
	switch {
	case d.Abs().GreaterThanOrEqual(decimal.New(1, 8)):
		return d.Div(decimal.New(1, 8)).StringFixed(2) + "亿"
	case d.Abs().GreaterThanOrEqual(decimal.New(1, 4)):
		return d.Div(decimal.New(1, 4)).StringFixed(2) + "万"
	default:
		return d.StringFixed(2)
	}
}

func signed(v float64) string {
	s := fixed(v, 2)
	if v > 0 {
		return "+" + s
	}
	return s
}

func nameOf(names map[string]string, code, fallback string) string {
	if n, ok := names[code]; ok && n != "" {
		return n
	}
	return fallback
}

func listCodes(codes []string) string {
	if len(codes) <= maxListedFailures {
		return strings.Join(codes, ", ")
	}
	return strings.Join(codes[:maxListedFailures], ", ") + fmt.Sprintf(" and %d more", len(codes)-maxListedFailures)
}
