package model

import (
	"fmt"
	"time"
)

// RawTable is a provider reply before normalization: column headers and
// string cells, tagged with the source that produced it.
type RawTable struct {
	Source  string
	Columns []string
	Rows    [][]string
}

// Len returns the number of data rows.
func (t *RawTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table carries no rows.
func (t *RawTable) Empty() bool {
	return t.Len() == 0
}

// Window is an inclusive date range of trading days to fetch.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the calendar days covered, inclusive.
func (w Window) Days() int {
	if w.End.Before(w.Start) {
		return 0
	}
	return int(Day(w.End).Sub(Day(w.Start)).Hours()/24) + 1
}

// Contains reports whether d falls in the window.
func (w Window) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(Day(w.Start)) && !d.After(Day(w.End))
}

func (w Window) String() string {
	return fmt.Sprintf("[%s,%s]", w.Start.Format(DateLayout), w.End.Format(DateLayout))
}

// Quote is a realtime snapshot of one instrument.
type Quote struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
	PctChange float64   `json:"pct_change"`
	Timestamp time.Time `json:"timestamp"`
}
