package models

import "fmt"

// Error taxonomy. All of these are recovered at the asset or record level:
// they degrade one asset to HOLD/defaults or exclude one record, and are
// aggregated into the run summary rather than aborting the run.

// DataFetchError covers network, rate-limit and auth failures against the
// price source, scoped to a single symbol.
type DataFetchError struct {
	Symbol string
	Err    error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Symbol, e.Err)
}

func (e *DataFetchError) Unwrap() error { return e.Err }

// InsufficientDataError signals fewer bars than the configured minimum.
type InsufficientDataError struct {
	Symbol string
	Got    int
	Min    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %d bars, need %d", e.Symbol, e.Got, e.Min)
}

// NumericInstabilityError signals an overflowing or non-finite fit or band.
type NumericInstabilityError struct {
	Symbol string
	Reason string
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("numeric instability for %s: %s", e.Symbol, e.Reason)
}

// ValidationError marks a malformed or out-of-bounds result record.
type ValidationError struct {
	Symbol string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %s: %s %s", e.Symbol, e.Field, e.Reason)
}

// PersistenceError signals an unreachable storage tier.
type PersistenceError struct {
	Tier StorageTier
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist to %s: %v", e.Tier, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
