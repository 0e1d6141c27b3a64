// Package population reads travel demand plans and writes clipped trips in a
// MATSim-style population format.
package population

import (
	"errors"

	"github.com/paulmach/orb"

	"github.com/cordontrips/cordontrips/internal/network"
)

// Population errors.
var (
	// ErrMalformedPlan indicates a plan that is not exactly activity, leg, activity.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrMalformedTime indicates a time value that is not HH:MM:SS or seconds.
	ErrMalformedTime = errors.New("malformed time")
)

// Output activity and leg markers.
const (
	StartActivityType = "freight_start"
	EndActivityType   = "freight_end"
	LegModeFreight    = "freight"
)

// Horizon is the end of the simulated day in seconds.
const Horizon = 86400.0

// Activity is one end of an input trip.
type Activity struct {
	Type   string
	LinkID network.LinkID
	Coord  orb.Point

	// EndTime in seconds since midnight, nil when the plan leaves it unset.
	EndTime *float64
}

// Trip is a single-leg plan: origin activity, one leg, destination activity.
type Trip struct {
	PersonID    string
	Origin      Activity
	Destination Activity
	Mode        string
}

// DepartureOr returns the origin end time in seconds, or def when the origin
// leaves it unset. Leg dep_time attributes are not consulted.
func (t Trip) DepartureOr(def float64) float64 {
	if t.Origin.EndTime != nil {
		return *t.Origin.EndTime
	}
	return def
}

// Record is one decoded person. Err is set when the plan could not be turned
// into a Trip; PersonID is always populated when known.
type Record struct {
	Trip Trip
	Err  error
}

// OutActivity is a clipped trip endpoint.
type OutActivity struct {
	Type    string
	Coord   orb.Point
	EndTime *float64
}

// EndTimeOr returns the activity end time or def when unset.
func (a OutActivity) EndTimeOr(def float64) float64 {
	if a.EndTime == nil {
		return def
	}
	return *a.EndTime
}

// OutputTrip is a synthesized stub trip. It is never mutated after assembly.
type OutputTrip struct {
	ID      int
	Start   OutActivity
	End     OutActivity
	LegMode string
}

// Seconds returns a pointer to v, for populating optional times.
func Seconds(v float64) *float64 {
	return &v
}
