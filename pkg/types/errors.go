package types

import (
	"errors"
	"fmt"
)

// ErrCacheUnavailable marks cache infrastructure faults. A scan cannot
// guarantee result consistency when the cache is reachable for some
// fingerprints and not others, so this class is fatal to the scan.
var ErrCacheUnavailable = errors.New("cache store unavailable")

// ValidationError rejects a scan submission before it starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid option %s: %s", e.Field, e.Reason)
}

// SeedResolutionError means the target was unreachable at depth 0. It is the
// only crawl error fatal to the whole scan.
type SeedResolutionError struct {
	Target string
	Err    error
}

func (e *SeedResolutionError) Error() string {
	return fmt.Sprintf("seed %s did not resolve: %v", e.Target, e.Err)
}

func (e *SeedResolutionError) Unwrap() error { return e.Err }

// FetchError is a per-resource network failure. Retried, then recorded as a
// fetch_failed marker on the resource; never fatal to the crawl.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DetectorFault is a detector evaluation failure (error return or recovered
// panic). Retried, then degraded to an INFO finding; never propagated to the
// orchestrator.
type DetectorFault struct {
	Detector string
	Resource string
	Err      error
}

func (e *DetectorFault) Error() string {
	return fmt.Sprintf("detector %s faulted on %s: %v", e.Detector, e.Resource, e.Err)
}

func (e *DetectorFault) Unwrap() error { return e.Err }
