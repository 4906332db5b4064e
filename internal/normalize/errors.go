package normalize

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingRequiredColumns means a reply lacked one of open/high/low/close/volume.
	ErrMissingRequiredColumns = errors.New("missing required columns")
	// ErrSharesUnavailable means turnover_rate had to be derived but no share count was known.
	ErrSharesUnavailable = errors.New("circulating shares unavailable")
	// ErrNoValidRows means every row failed coercion.
	ErrNoValidRows = errors.New("no valid rows after coercion")
)

// MissingColumnsError names the baseline fields a source failed to supply.
type MissingColumnsError struct {
	Source  string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMissingRequiredColumns, e.Source, strings.Join(e.Missing, ","))
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingRequiredColumns
}
