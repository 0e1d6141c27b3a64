// Package region provides the polygonal area of interest and its
// point-containment test.
package region

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Region errors.
var (
	ErrEmptyRegion         = errors.New("region geometry is empty")
	ErrUnsupportedGeometry = errors.New("region geometry must be a polygon or multipolygon")
	ErrCRSMismatch         = errors.New("region CRS does not match network CRS")
)

// Region answers point-containment queries. Implementations are immutable and
// safe for concurrent use.
type Region interface {
	Contains(p orb.Point) bool
	Bound() orb.Bound
}

// Polygon is a Region backed by a (multi)polygon in the network CRS.
type Polygon struct {
	geom  orb.MultiPolygon
	bound orb.Bound
}

// New creates a Polygon region from a Polygon or MultiPolygon geometry.
func New(geom orb.Geometry) (*Polygon, error) {
	var mp orb.MultiPolygon
	switch g := geom.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		mp = g
	case nil:
		return nil, ErrEmptyRegion
	default:
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedGeometry, geom.GeoJSONType())
	}

	cleaned := make(orb.MultiPolygon, 0, len(mp))
	for _, p := range mp {
		if len(p) == 0 || len(p[0]) < 3 {
			continue
		}
		cleaned = append(cleaned, p)
	}
	if len(cleaned) == 0 || planar.Area(cleaned) == 0 {
		return nil, ErrEmptyRegion
	}

	return &Polygon{
		geom:  cleaned,
		bound: cleaned.Bound(),
	}, nil
}

// Contains reports whether p lies inside the region. Points outside the
// bounding box are rejected without the ring test.
func (r *Polygon) Contains(p orb.Point) bool {
	if !r.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(r.geom, p)
}

// Bound returns the bounding box of the region.
func (r *Polygon) Bound() orb.Bound {
	return r.bound
}

// Geometry returns the underlying multipolygon.
func (r *Polygon) Geometry() orb.MultiPolygon {
	return r.geom
}

var _ Region = (*Polygon)(nil)
