package provider

import (
	"errors"
	"fmt"
)

// ErrSourceEmpty means the provider answered but had no rows for the window.
var ErrSourceEmpty = errors.New("source returned no data")

// ErrUnknownProvider is returned when configuration names an adapter that does not exist.
var ErrUnknownProvider = errors.New("unknown provider")

// SourceError wraps a failed provider call.
type SourceError struct {
	Provider string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Provider, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func sourceErr(provider string, format string, args ...any) error {
	return &SourceError{Provider: provider, Err: fmt.Errorf(format, args...)}
}
