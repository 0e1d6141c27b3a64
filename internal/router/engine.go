package router

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/cordontrips/cordontrips/internal/network"
)

// Engine holds the static routing graph. It is immutable after NewEngine and
// safe for concurrent use; searches go through per-goroutine Searchers.
type Engine struct {
	net *network.Network

	index  map[network.NodeID]int32
	ids    []network.NodeID
	coords []orb.Point

	// Forward adjacency in CSR form: the edges of node v are
	// [offsets[v], offsets[v+1]).
	offsets []int32
	targets []int32
	costs   []float64
	links   []*network.Link

	// secondsPerMeter scales straight-line distance into a lower bound on
	// travel time that never exceeds any link's cost.
	secondsPerMeter float64
	maxSpeed        float64

	landmarks []landmark
	skipped   int
}

// landmark stores exact costs from and to one landmark node.
type landmark struct {
	node int32
	from []float64 // d(landmark, v)
	to   []float64 // d(v, landmark)
}

// NewEngine precomputes the routing structures for net. Links whose free speed
// or length cannot yield a finite cost are left out of the graph.
func NewEngine(net *network.Network, opts ...Option) (*Engine, error) {
	cfg := DefaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Landmarks < 0 {
		return nil, ErrBadLandmarkCount
	}

	nodes := net.Nodes()
	e := &Engine{
		net:    net,
		index:  make(map[network.NodeID]int32, len(nodes)),
		ids:    make([]network.NodeID, len(nodes)),
		coords: make([]orb.Point, len(nodes)),
	}
	for i, n := range nodes {
		e.index[n.ID] = int32(i) //nolint:gosec // node count bounded by int32 range
		e.ids[i] = n.ID
		e.coords[i] = n.Coord
	}

	e.offsets = make([]int32, len(nodes)+1)
	e.secondsPerMeter = math.Inf(1)
	for i, n := range nodes {
		for _, l := range net.OutLinks(n.ID) {
			if !l.Routable() {
				e.skipped++
				continue
			}
			cost := l.FreeSpeedTravelTime()
			to := e.index[l.To]
			e.targets = append(e.targets, to)
			e.costs = append(e.costs, cost)
			e.links = append(e.links, l)

			if l.FreeSpeed > e.maxSpeed {
				e.maxSpeed = l.FreeSpeed
			}
			if d := planar.Distance(n.Coord, e.coords[to]); d > 0 {
				e.secondsPerMeter = math.Min(e.secondsPerMeter, cost/d)
			}
		}
		e.offsets[i+1] = int32(len(e.targets)) //nolint:gosec // edge count bounded by int32 range
	}

	if len(e.links) == 0 {
		return nil, ErrNoRoutableLinks
	}
	if math.IsInf(e.secondsPerMeter, 1) {
		e.secondsPerMeter = 0
	}
	// Never looser than the textbook distance / max speed bound.
	e.secondsPerMeter = math.Min(e.secondsPerMeter, 1/e.maxSpeed)

	if cfg.Landmarks > 0 {
		e.buildLandmarks(cfg.Landmarks)
	}

	return e, nil
}

// Network returns the network the engine was built from.
func (e *Engine) Network() *network.Network { return e.net }

// Skipped returns the number of links excluded for invalid attributes.
func (e *Engine) Skipped() int { return e.skipped }

// NumLandmarks returns the number of precomputed landmarks.
func (e *Engine) NumLandmarks() int { return len(e.landmarks) }

// MaxSpeed returns the highest free speed in the routable graph.
func (e *Engine) MaxSpeed() float64 { return e.maxSpeed }

// NewSearcher creates search state bound to this engine. A Searcher must not
// be shared between goroutines.
func (e *Engine) NewSearcher() *Searcher {
	n := len(e.ids)
	return &Searcher{
		engine: e,
		g:      make([]float64, n),
		parent: make([]int32, n),
		seen:   make([]uint32, n),
		closed: make([]uint32, n),
		pq:     make(nodePQ, 0, 64),
	}
}

// heuristic returns an admissible, consistent lower bound on the cost from
// v to target.
func (e *Engine) heuristic(v, target int32) float64 {
	h := planar.Distance(e.coords[v], e.coords[target]) * e.secondsPerMeter

	for i := range e.landmarks {
		lm := &e.landmarks[i]
		if a, b := lm.from[target], lm.from[v]; !math.IsInf(a, 1) && !math.IsInf(b, 1) {
			if d := a - b; d > h {
				h = d
			}
		}
		if a, b := lm.to[v], lm.to[target]; !math.IsInf(a, 1) && !math.IsInf(b, 1) {
			if d := a - b; d > h {
				h = d
			}
		}
	}
	return h
}

func (e *Engine) lookup(id network.NodeID) (int32, error) {
	idx, ok := e.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return idx, nil
}
