// Package router computes least-cost paths over the road network using A*
// with free-flow travel time as the link cost.
//
// An Engine holds the static, precomputed structures (dense node indices,
// adjacency arrays, landmark tables) and is shared read-only. Each goroutine
// obtains its own Searcher, which owns the mutable search state.
package router

import (
	"errors"

	"github.com/cordontrips/cordontrips/internal/network"
)

// Sentinel errors for routing operations.
var (
	// ErrNoPathFound indicates the destination is unreachable from the origin.
	ErrNoPathFound = errors.New("no path found between the given nodes")
	// ErrUnknownNode indicates a node id that is not part of the routable network.
	ErrUnknownNode = errors.New("node not in routable network")
	// ErrNoRoutableLinks indicates the network has no link with a usable cost.
	ErrNoRoutableLinks = errors.New("network has no routable links")
	// ErrBadLandmarkCount indicates a negative landmark count.
	ErrBadLandmarkCount = errors.New("landmark count must be non-negative")
)

// DefaultLandmarks is the number of ALT landmarks precomputed by default.
const DefaultLandmarks = 8

// Path is an ordered sequence of links from one node to another.
type Path struct {
	// Links in travel order. Empty when origin equals destination.
	Links []*network.Link

	// Nodes visited, origin first. Always len(Links)+1 entries.
	Nodes []network.NodeID

	// Cost is the summed free-flow travel time in seconds.
	Cost float64
}

// Options configures an Engine.
type Options struct {
	// Landmarks is the number of ALT landmarks; 0 disables them.
	Landmarks int
}

// Option configures Options.
type Option func(*Options)

// WithLandmarks sets the number of ALT landmarks.
func WithLandmarks(n int) Option {
	return func(o *Options) {
		o.Landmarks = n
	}
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{Landmarks: DefaultLandmarks}
}
