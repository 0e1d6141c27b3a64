// Package extract turns a travel demand set into clipped stub trips for the
// part of each route that touches a region.
//
// Each trip is classified by whether its origin and destination lie inside
// the region, routed over the network when needed, and cut at the first (and
// for through trips the second) boundary link on the route.
package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/cordontrips/cordontrips/internal/population"
)

// Initialization errors.
var (
	ErrNilNetwork  = errors.New("extractor requires a network")
	ErrNilRegion   = errors.New("extractor requires a region")
	ErrEmptyRegion = errors.New("region has an empty bounding box")
)

// Reason explains why a trip produced no output.
type Reason string

// Skip reasons.
const (
	ReasonMalformedPlan Reason = "malformed_plan"
	ReasonUnknownLink   Reason = "unknown_link"
	ReasonNoPath        Reason = "no_path"
	ReasonNoCrossing    Reason = "no_crossing"
	ReasonNoExit        Reason = "no_exit"
	ReasonInvalidTime   Reason = "invalid_time"
	ReasonHorizon       Reason = "horizon"
)

// SkipError reports a trip that was dropped.
type SkipError struct {
	Reason   Reason
	PersonID string
	Err      error
}

func (e *SkipError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("skip person %s: %s", e.PersonID, e.Reason)
	}
	return fmt.Sprintf("skip person %s: %s: %v", e.PersonID, e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

func skip(reason Reason, trip population.Trip, err error) *SkipError {
	return &SkipError{Reason: reason, PersonID: trip.PersonID, Err: err}
}

// Result summarizes one extraction run.
type Result struct {
	// Trips in input order with sequential ids starting at 0.
	Trips []population.OutputTrip

	Processed int
	Emitted   int
	Skipped   map[Reason]int
	ByCase    map[Case]int

	BoundaryLinks int
	Duration      time.Duration
}

// SkippedTotal returns the number of dropped trips across all reasons.
func (r *Result) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// SkippedByName returns the skip counts keyed by reason string.
func (r *Result) SkippedByName() map[string]int {
	out := make(map[string]int, len(r.Skipped))
	for reason, n := range r.Skipped {
		out[string(reason)] = n
	}
	return out
}
