package backtest

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable reports that a symbol has no price coverage for the requested window.
	// A run never starts without full coverage.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrConfiguration reports parameters the engine refuses to run with.
	ErrConfiguration = errors.New("invalid configuration")
)

// DataError describes which symbol and window a provider could not serve.
type DataError struct {
	Symbol string
	Range  Range
	Err    error // underlying cause, may be nil
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("no price data for %s in %s", e.Symbol, e.Range)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap makes errors.Is(err, ErrDataUnavailable) true for every DataError.
func (e *DataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDataUnavailable}
	}
	return []error{ErrDataUnavailable, e.Err}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
