package fetch

import (
	"errors"
	"time"
)

// ErrAllSourcesExhausted means every configured provider failed for an instrument.
var ErrAllSourcesExhausted = errors.New("all sources exhausted")

type Status int

const (
	StatusSuccess Status = iota
	StatusNoOp
	StatusExhausted
	StatusInvalid
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoOp:
		return "noop"
	case StatusExhausted:
		return "exhausted"
	case StatusInvalid:
		return "invalid"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of fetching one instrument.
type Result struct {
	Code     string
	Status   Status
	Source   string
	NewBars  int
	Stored   int
	LastDate time.Time
	Attempts int
	Err      error
}

// BatchSummary aggregates the results of a batch run.
type BatchSummary struct {
	Success   int
	NoOp      int
	Exhausted int
	Invalid   int
	Failed    int
	// FailedCodes lists instruments that ended exhausted, invalid or failed.
	FailedCodes []string
	// Updated maps every successfully stored instrument to its new last date.
	Updated  map[string]time.Time
	Results  []Result
	Duration time.Duration
}

func (s *BatchSummary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusSuccess:
		s.Success++
		s.Updated[r.Code] = r.LastDate
	case StatusNoOp:
		s.NoOp++
	case StatusExhausted:
		s.Exhausted++
		s.FailedCodes = append(s.FailedCodes, r.Code)
	case StatusInvalid:
		s.Invalid++
		s.FailedCodes = append(s.FailedCodes, r.Code)
	default:
		s.Failed++
		s.FailedCodes = append(s.FailedCodes, r.Code)
	}
}

// AllExhausted reports a full outage: instruments were attempted and none succeeded.
func (s BatchSummary) AllExhausted() bool {
	return s.Exhausted > 0 && s.Success == 0 && s.NoOp == 0
}
