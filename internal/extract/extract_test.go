package extract_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordontrips/cordontrips/internal/boundary"
	"github.com/cordontrips/cordontrips/internal/extract"
	"github.com/cordontrips/cordontrips/internal/network"
	"github.com/cordontrips/cordontrips/internal/network/networktest"
	"github.com/cordontrips/cordontrips/internal/population"
	"github.com/cordontrips/cordontrips/internal/region"
	"github.com/cordontrips/cordontrips/internal/router"
)

func box(t *testing.T, minX, maxX float64) *region.Polygon {
	t.Helper()
	r, err := region.New(orb.Polygon{{{minX, -5}, {maxX, -5}, {maxX, 5}, {minX, 5}, {minX, -5}}})
	require.NoError(t, err)
	return r
}

func trip(id string, originLink network.LinkID, origin orb.Point, destLink network.LinkID, dest orb.Point, departure *float64) population.Trip {
	return population.Trip{
		PersonID:    id,
		Origin:      population.Activity{Type: "freight_start", LinkID: originLink, Coord: origin, EndTime: departure},
		Destination: population.Activity{Type: "freight_end", LinkID: destLink, Coord: dest},
		Mode:        "freight",
	}
}

// stubFinder returns a fixed path or error and counts calls.
type stubFinder struct {
	path  router.Path
	err   error
	calls int
}

func (s *stubFinder) Path(context.Context, network.NodeID, network.NodeID) (router.Path, error) {
	s.calls++
	return s.path, s.err
}

func TestClassify_Completeness(t *testing.T) {
	tests := []struct {
		origin, dest bool
		want         extract.Case
	}{
		{true, true, extract.CaseInterior},
		{true, false, extract.CaseOutgoing},
		{false, true, extract.CaseIncoming},
		{false, false, extract.CaseThrough},
	}
	seen := map[extract.Case]bool{}
	for _, tt := range tests {
		got := extract.Classify(tt.origin, tt.dest)
		assert.Equal(t, tt.want, got, "origin=%v dest=%v", tt.origin, tt.dest)
		seen[got] = true
	}
	assert.Len(t, seen, 4)
}

func TestExtract_OutgoingScenario(t *testing.T) {
	net := networktest.Corridor()
	trips := []population.Trip{
		trip("p1", "L21", orb.Point{0, 0}, "L34", orb.Point{25, 0}, population.Seconds(1000)),
	}

	res, err := extract.Extract(context.Background(), net, box(t, 0, 10), trips)
	require.NoError(t, err)

	require.Len(t, res.Trips, 1)
	out := res.Trips[0]
	assert.Equal(t, 0, out.ID)
	assert.Equal(t, orb.Point{0, 0}, out.Start.Coord)
	require.NotNil(t, out.Start.EndTime)
	assert.InDelta(t, 1000.0, *out.Start.EndTime, 1e-9)
	assert.Equal(t, orb.Point{10, 0}, out.End.Coord)
	assert.Nil(t, out.End.EndTime)
	assert.Equal(t, population.StartActivityType, out.Start.Type)
	assert.Equal(t, population.EndActivityType, out.End.Type)
	assert.Equal(t, population.LegModeFreight, out.LegMode)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Emitted)
	assert.Equal(t, 1, res.ByCase[extract.CaseOutgoing])
	assert.Equal(t, 2, res.BoundaryLinks)
}

func TestExtract_IncomingStartTime(t *testing.T) {
	net := networktest.Corridor()
	trips := []population.Trip{
		trip("p1", "L34", orb.Point{25, 0}, "L21", orb.Point{0, 0}, population.Seconds(1000)),
	}

	res, err := extract.Extract(context.Background(), net, box(t, 0, 10), trips)
	require.NoError(t, err)

	require.Len(t, res.Trips, 1)
	out := res.Trips[0]
	// L43 is charged floor(10/5)+1 = 3 s; the boundary link L32 itself is not.
	assert.Equal(t, orb.Point{10, 0}, out.Start.Coord)
	assert.InDelta(t, 1003.0, *out.Start.EndTime, 1e-9)
	assert.Equal(t, orb.Point{0, 0}, out.End.Coord)
	assert.Equal(t, 1, res.ByCase[extract.CaseIncoming])
}

func TestExtract_ThroughBothDirections(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 3, 10)
	trips := []population.Trip{
		trip("east", "L21", orb.Point{0, 0}, "L34", orb.Point{25, 0}, population.Seconds(500)),
		trip("west", "L34", orb.Point{25, 0}, "L21", orb.Point{0, 0}, population.Seconds(500)),
	}

	res, err := extract.Extract(context.Background(), net, r, trips)
	require.NoError(t, err)
	require.Len(t, res.Trips, 2)
	assert.Equal(t, 2, res.ByCase[extract.CaseThrough])

	east, west := res.Trips[0], res.Trips[1]
	assert.Equal(t, orb.Point{2.5, 0}, east.Start.Coord)
	assert.InDelta(t, 500.0, *east.Start.EndTime, 1e-9)
	assert.Equal(t, orb.Point{10, 0}, east.End.Coord)

	assert.Equal(t, orb.Point{10, 0}, west.Start.Coord)
	assert.InDelta(t, 503.0, *west.Start.EndTime, 1e-9)
	assert.Equal(t, orb.Point{2.5, 0}, west.End.Coord)
}

func TestExtract_ThroughWithoutCrossingDropped(t *testing.T) {
	net := networktest.Corridor()
	trips := []population.Trip{
		trip("p1", "L43", orb.Point{15, 0}, "L34", orb.Point{25, 0}, nil),
	}

	res, err := extract.Extract(context.Background(), net, box(t, 0, 10), trips)
	require.NoError(t, err)

	assert.Empty(t, res.Trips)
	assert.Equal(t, 1, res.Processed, "dropped trips still count as processed")
	assert.Equal(t, 1, res.Skipped[extract.ReasonNoCrossing])
	assert.Equal(t, res.Processed, res.Emitted+res.SkippedTotal())
}

func TestClip_InteriorIssuesNoRoutingCall(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)
	pf := &stubFinder{err: assert.AnError}

	in := trip("p1", "L12", orb.Point{1, 1}, "L21", orb.Point{9, -2}, population.Seconds(7200))
	clip, err := c.Clip(context.Background(), in, pf)
	require.NoError(t, err)

	assert.Zero(t, pf.calls)
	assert.Equal(t, extract.CaseInterior, clip.Case)
	assert.Equal(t, in.Origin.Coord, clip.Start.Coord)
	assert.Equal(t, in.Destination.Coord, clip.End.Coord)
	assert.InDelta(t, 7200.0, *clip.Start.EndTime, 1e-9)
}

func TestClip_DepartureDefault(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 3600)

	clip, err := c.Clip(context.Background(), trip("p1", "L12", orb.Point{1, 0}, "L21", orb.Point{2, 0}, nil), &stubFinder{})
	require.NoError(t, err)
	assert.InDelta(t, 3600.0, *clip.Start.EndTime, 1e-9)
}

func TestClip_OutgoingWithoutBoundaryDropped(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)
	l34, _ := net.Link("L34")
	pf := &stubFinder{path: router.Path{Links: []*network.Link{l34}}}

	_, err := c.Clip(context.Background(), trip("p1", "L21", orb.Point{0, 0}, "L34", orb.Point{25, 0}, nil), pf)

	var se *extract.SkipError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, extract.ReasonNoCrossing, se.Reason)
	assert.Equal(t, "p1", se.PersonID)
	assert.Equal(t, 1, pf.calls)
}

func TestClip_ThroughEntryWithoutExit(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)
	l43, _ := net.Link("L43")
	l32, _ := net.Link("L32")
	pf := &stubFinder{path: router.Path{Links: []*network.Link{l43, l32}}}

	_, err := c.Clip(context.Background(), trip("p1", "L34", orb.Point{25, 0}, "L32", orb.Point{30, 0}, nil), pf)

	var se *extract.SkipError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, extract.ReasonNoExit, se.Reason)
}

func TestClip_NoPath(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)
	pf := &stubFinder{err: fmt.Errorf("%w: a -> b", router.ErrNoPathFound)}

	_, err := c.Clip(context.Background(), trip("p1", "L21", orb.Point{0, 0}, "L34", orb.Point{25, 0}, nil), pf)

	var se *extract.SkipError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, extract.ReasonNoPath, se.Reason)
	assert.ErrorIs(t, err, router.ErrNoPathFound)
}

func TestClip_UnknownLink(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)

	_, err := c.Clip(context.Background(), trip("p1", "L99", orb.Point{0, 0}, "L34", orb.Point{25, 0}, nil), &stubFinder{})

	var se *extract.SkipError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, extract.ReasonUnknownLink, se.Reason)
	assert.ErrorIs(t, err, network.ErrUnknownLink)
}

func TestClip_InvalidLinkBeforeEntry(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)
	broken := &network.Link{ID: "broken", From: "N4", To: "N3", Length: 10, FreeSpeed: 0}
	l32, _ := net.Link("L32")
	pf := &stubFinder{path: router.Path{Links: []*network.Link{broken, l32}}}

	_, err := c.Clip(context.Background(), trip("p1", "L34", orb.Point{25, 0}, "L21", orb.Point{0, 0}, nil), pf)

	var se *extract.SkipError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, extract.ReasonInvalidTime, se.Reason)
	assert.ErrorIs(t, err, network.ErrInvalidLinkAttributes)
}

func TestClip_NegativeDeparture(t *testing.T) {
	net := networktest.Corridor()
	r := box(t, 0, 10)
	c := extract.NewClassifier(net, r, boundary.Detect(net, r), 0)

	_, err := c.Clip(context.Background(), trip("p1", "L12", orb.Point{1, 0}, "L21", orb.Point{2, 0}, population.Seconds(-5)), &stubFinder{})

	var se *extract.SkipError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, extract.ReasonInvalidTime, se.Reason)
}

func TestExtract_HorizonFilter(t *testing.T) {
	net := networktest.Corridor()
	trips := []population.Trip{
		trip("late", "L12", orb.Point{1, 0}, "L21", orb.Point{2, 0}, population.Seconds(86399)),
		trip("too_late", "L12", orb.Point{1, 0}, "L21", orb.Point{2, 0}, population.Seconds(86400)),
		trip("next_day", "L12", orb.Point{1, 0}, "L21", orb.Point{2, 0}, population.Seconds(90000)),
	}

	res, err := extract.Extract(context.Background(), net, box(t, 0, 10), trips)
	require.NoError(t, err)

	require.Len(t, res.Trips, 1)
	assert.InDelta(t, 86399.0, *res.Trips[0].Start.EndTime, 1e-9)
	assert.Equal(t, 2, res.Skipped[extract.ReasonHorizon])
	assert.Equal(t, 3, res.Processed)
	for _, out := range res.Trips {
		assert.Less(t, *out.Start.EndTime, population.Horizon)
	}
}

func TestWithinHorizon_UnsetStart(t *testing.T) {
	assert.False(t, extract.WithinHorizon(population.OutputTrip{}))
	assert.True(t, extract.WithinHorizon(population.OutputTrip{
		Start: population.OutActivity{EndTime: population.Seconds(0)},
	}))
}

func TestExtractor_MalformedRecordsCounted(t *testing.T) {
	net := networktest.Corridor()
	x, err := extract.New(extract.Config{Network: net, Region: box(t, 0, 10), Logger: zerolog.Nop()})
	require.NoError(t, err)

	records := []population.Record{
		{Trip: population.Trip{PersonID: "bad"}, Err: population.ErrMalformedPlan},
		{Trip: trip("ok", "L12", orb.Point{1, 0}, "L21", orb.Point{2, 0}, nil)},
	}
	res, err := x.Run(context.Background(), extract.FromRecords(records))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Emitted)
	assert.Equal(t, 1, res.Skipped[extract.ReasonMalformedPlan])
	assert.Equal(t, 0, res.Trips[0].ID)
}

// gridTrips scatters trips over the grid with some origins and destinations
// inside a central block region.
func gridTrips(n int, seed int64) []population.Trip {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	trips := make([]population.Trip, 0, n)
	for i := 0; i < n; i++ {
		r1, c1 := rng.Intn(9), rng.Intn(9)
		r2, c2 := rng.Intn(9), rng.Intn(9)
		from := network.NodeID(fmt.Sprintf("r%dc%d", r1, c1))
		fromNext := network.NodeID(fmt.Sprintf("r%dc%d", r1, c1+1))
		to := network.NodeID(fmt.Sprintf("r%dc%d", r2, c2))
		toNext := network.NodeID(fmt.Sprintf("r%dc%d", r2, c2+1))
		trips = append(trips, trip(
			fmt.Sprintf("p%04d", i),
			network.LinkID(string(fromNext)+"-"+string(from)), orb.Point{float64(c1) * 100, float64(r1) * 100},
			network.LinkID(string(toNext)+"-"+string(to)), orb.Point{float64(c2) * 100, float64(r2) * 100},
			population.Seconds(float64(rng.Intn(86400))),
		))
	}
	return trips
}

func gridRegion(t *testing.T) *region.Polygon {
	t.Helper()
	r, err := region.New(orb.Polygon{{{250, 250}, {650, 250}, {650, 650}, {250, 650}, {250, 250}}})
	require.NoError(t, err)
	return r
}

func TestExtract_ReproducibleUnderConcurrency(t *testing.T) {
	net := networktest.Grid(10, 100, 10)
	r := gridRegion(t)
	trips := gridTrips(400, 7)

	sequential, err := extract.Extract(context.Background(), net, r, trips, extract.WithWorkers(1))
	require.NoError(t, err)
	parallel, err := extract.Extract(context.Background(), net, r, trips, extract.WithWorkers(8))
	require.NoError(t, err)

	assert.Equal(t, sequential.Trips, parallel.Trips)
	assert.Equal(t, sequential.Skipped, parallel.Skipped)
	assert.Equal(t, sequential.ByCase, parallel.ByCase)
	assert.Equal(t, 400, parallel.Processed)
	assert.Equal(t, parallel.Processed, parallel.Emitted+parallel.SkippedTotal())
	for i, out := range parallel.Trips {
		assert.Equal(t, i, out.ID)
	}
	total := 0
	for _, n := range parallel.ByCase {
		total += n
	}
	assert.Equal(t, 400, total)
}

func TestExtract_StartTimeMatchesRecomputation(t *testing.T) {
	net := networktest.Grid(10, 100, 7)
	r := gridRegion(t)
	set := boundary.Detect(net, r)
	engine, err := router.NewEngine(net)
	require.NoError(t, err)
	c := extract.NewClassifier(net, r, set, 0)
	searcher := engine.NewSearcher()

	checked := 0
	for _, tr := range gridTrips(200, 11) {
		tc := c.Case(tr)
		if tc != extract.CaseIncoming && tc != extract.CaseThrough {
			continue
		}
		clip, err := c.Clip(context.Background(), tr, searcher)
		if err != nil {
			continue
		}

		from, _ := net.Link(tr.Origin.LinkID)
		to, _ := net.Link(tr.Destination.LinkID)
		path, err := searcher.Path(context.Background(), from.To, to.To)
		require.NoError(t, err)

		var elapsed float64
		for _, l := range path.Links {
			if set.Contains(l.ID) {
				break
			}
			secs, err := l.TraversalSeconds()
			require.NoError(t, err)
			elapsed += secs
		}
		assert.Equal(t, tr.DepartureOr(0)+elapsed, *clip.Start.EndTime, tr.PersonID)
		checked++
	}
	assert.Positive(t, checked)
}

func TestNew_InitErrors(t *testing.T) {
	_, err := extract.New(extract.Config{Region: box(t, 0, 10)})
	assert.ErrorIs(t, err, extract.ErrNilNetwork)

	_, err = extract.New(extract.Config{Network: networktest.Corridor()})
	assert.ErrorIs(t, err, extract.ErrNilRegion)

	_, err = extract.New(extract.Config{Network: networktest.Corridor(), Region: emptyRegion{}})
	assert.ErrorIs(t, err, extract.ErrEmptyRegion)
}

type emptyRegion struct{}

func (emptyRegion) Contains(orb.Point) bool { return false }
func (emptyRegion) Bound() orb.Bound        { return orb.Bound{} }

func TestExtractor_Canceled(t *testing.T) {
	x, err := extract.New(extract.Config{Network: networktest.Grid(10, 100, 10), Region: gridRegion(t), Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = x.Run(ctx, extract.FromTrips(gridTrips(5000, 3)))
	assert.ErrorIs(t, err, context.Canceled)
}
