package extract

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/cordontrips/cordontrips/internal/boundary"
	"github.com/cordontrips/cordontrips/internal/network"
	"github.com/cordontrips/cordontrips/internal/population"
	"github.com/cordontrips/cordontrips/internal/region"
	"github.com/cordontrips/cordontrips/internal/router"
)

// Case is the geometric relation of a trip to the region.
type Case int

const (
	// CaseInterior: origin and destination inside.
	CaseInterior Case = iota + 1
	// CaseOutgoing: origin inside, destination outside.
	CaseOutgoing
	// CaseIncoming: origin outside, destination inside.
	CaseIncoming
	// CaseThrough: origin and destination outside.
	CaseThrough
)

func (c Case) String() string {
	switch c {
	case CaseInterior:
		return "interior"
	case CaseOutgoing:
		return "outgoing"
	case CaseIncoming:
		return "incoming"
	case CaseThrough:
		return "through"
	default:
		return fmt.Sprintf("case(%d)", int(c))
	}
}

// Classify maps the two containment results to exactly one Case.
func Classify(originInside, destinationInside bool) Case {
	switch {
	case originInside && destinationInside:
		return CaseInterior
	case originInside:
		return CaseOutgoing
	case destinationInside:
		return CaseIncoming
	default:
		return CaseThrough
	}
}

// PathFinder computes the route between two nodes. router.Searcher
// satisfies it.
type PathFinder interface {
	Path(ctx context.Context, from, to network.NodeID) (router.Path, error)
}

// Clip is the clipped start and end of a relevant trip, before the horizon
// filter and id assignment.
type Clip struct {
	Case  Case
	Start population.OutActivity
	End   population.OutActivity
}

// Classifier clips trips against a fixed region and boundary link set.
type Classifier struct {
	net              *network.Network
	region           region.Region
	boundary         boundary.Set
	departureDefault float64
}

// NewClassifier creates a classifier. departureDefault is used for trips
// without a departure time.
func NewClassifier(net *network.Network, r region.Region, set boundary.Set, departureDefault float64) *Classifier {
	return &Classifier{
		net:              net,
		region:           r,
		boundary:         set,
		departureDefault: departureDefault,
	}
}

// Case returns the case of a trip without routing it.
func (c *Classifier) Case(trip population.Trip) Case {
	return Classify(c.region.Contains(trip.Origin.Coord), c.region.Contains(trip.Destination.Coord))
}

// Clip classifies trip and, where needed, routes it with pf and scans the path
// for boundary crossings. A trip that yields no output returns a *SkipError.
func (c *Classifier) Clip(ctx context.Context, trip population.Trip, pf PathFinder) (Clip, error) {
	tc := c.Case(trip)
	clip := Clip{
		Case:  tc,
		Start: population.OutActivity{Type: population.StartActivityType},
		End:   population.OutActivity{Type: population.EndActivityType},
	}

	departure := trip.DepartureOr(c.departureDefault)
	if math.IsNaN(departure) || math.IsInf(departure, 0) || departure < 0 {
		return clip, skip(ReasonInvalidTime, trip, fmt.Errorf("departure %v", departure))
	}

	if tc == CaseInterior {
		clip.Start.Coord = trip.Origin.Coord
		clip.Start.EndTime = population.Seconds(departure)
		clip.End.Coord = trip.Destination.Coord
		return clip, nil
	}

	path, err := c.route(ctx, trip, pf)
	if err != nil {
		return clip, err
	}

	switch tc {
	case CaseOutgoing:
		clip.Start.Coord = trip.Origin.Coord
		clip.Start.EndTime = population.Seconds(departure)
		first, ok := c.firstBoundary(path.Links)
		if !ok {
			return clip, skip(ReasonNoCrossing, trip, nil)
		}
		clip.End.Coord = first

	case CaseIncoming:
		sc, err := c.scan(path.Links, false)
		if err != nil {
			return clip, skip(ReasonInvalidTime, trip, err)
		}
		if sc.state == searchingEntry {
			return clip, skip(ReasonNoCrossing, trip, nil)
		}
		clip.Start.Coord = sc.entry
		clip.Start.EndTime = population.Seconds(departure + sc.elapsed)
		clip.End.Coord = trip.Destination.Coord

	case CaseThrough:
		sc, err := c.scan(path.Links, true)
		if err != nil {
			return clip, skip(ReasonInvalidTime, trip, err)
		}
		switch sc.state {
		case searchingEntry:
			return clip, skip(ReasonNoCrossing, trip, nil)
		case searchingExit:
			return clip, skip(ReasonNoExit, trip, nil)
		}
		clip.Start.Coord = sc.entry
		clip.Start.EndTime = population.Seconds(departure + sc.elapsed)
		clip.End.Coord = sc.exit
	}

	return clip, nil
}

// route looks up the to-nodes of the origin and destination links and asks
// pf for the path between them.
func (c *Classifier) route(ctx context.Context, trip population.Trip, pf PathFinder) (router.Path, error) {
	from, ok := c.net.Link(trip.Origin.LinkID)
	if !ok {
		return router.Path{}, skip(ReasonUnknownLink, trip,
			fmt.Errorf("%w: origin %q", network.ErrUnknownLink, trip.Origin.LinkID))
	}
	to, ok := c.net.Link(trip.Destination.LinkID)
	if !ok {
		return router.Path{}, skip(ReasonUnknownLink, trip,
			fmt.Errorf("%w: destination %q", network.ErrUnknownLink, trip.Destination.LinkID))
	}

	path, err := pf.Path(ctx, from.To, to.To)
	switch {
	case err == nil:
		return path, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return router.Path{}, err
	default:
		return router.Path{}, skip(ReasonNoPath, trip, err)
	}
}

func (c *Classifier) firstBoundary(links []*network.Link) (orb.Point, bool) {
	for _, l := range links {
		if c.boundary.Contains(l.ID) {
			return l.Coord, true
		}
	}
	return orb.Point{}, false
}

type scanState int

const (
	searchingEntry scanState = iota
	searchingExit
	done
)

type scanResult struct {
	state   scanState
	entry   orb.Point
	exit    orb.Point
	elapsed float64
}

// scan walks the path once. Traversal time is added after the boundary check,
// so elapsed covers only the links strictly before the entry link. With
// wantExit false the scan stops at the entry.
func (c *Classifier) scan(links []*network.Link, wantExit bool) (scanResult, error) {
	var res scanResult
	for _, l := range links {
		if c.boundary.Contains(l.ID) {
			switch res.state {
			case searchingEntry:
				res.entry = l.Coord
				res.state = searchingExit
				if !wantExit {
					return res, c.checkElapsed(res)
				}
			case searchingExit:
				res.exit = l.Coord
				res.state = done
				return res, c.checkElapsed(res)
			}
		}
		if res.state == searchingEntry {
			secs, err := l.TraversalSeconds()
			if err != nil {
				return res, err
			}
			res.elapsed += secs
		}
	}
	return res, c.checkElapsed(res)
}

func (c *Classifier) checkElapsed(res scanResult) error {
	if math.IsNaN(res.elapsed) || math.IsInf(res.elapsed, 0) || res.elapsed < 0 {
		return fmt.Errorf("%w: accumulated %v s", network.ErrInvalidLinkAttributes, res.elapsed)
	}
	return nil
}
