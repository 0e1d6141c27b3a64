package region

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// crsMember is the legacy GeoJSON "crs" member written by GIS exports.
type crsMember struct {
	CRS *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
	Type string `json:"type"`
}

// ReadGeoJSON parses a FeatureCollection, Feature or bare geometry and unions
// every polygonal geometry into one region. The coordinates must already be in
// the network CRS; when the document declares a CRS it must match wantCRS.
func ReadGeoJSON(data []byte, wantCRS string) (*Polygon, error) {
	var head crsMember
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse region geojson: %w", err)
	}

	if head.CRS != nil && wantCRS != "" {
		if !sameCRS(head.CRS.Properties.Name, wantCRS) {
			return nil, fmt.Errorf("%w: region %q, network %q", ErrCRSMismatch, head.CRS.Properties.Name, wantCRS)
		}
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parse region feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("parse region feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parse region geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		case nil:
			continue
		default:
			return nil, fmt.Errorf("%w: got %s", ErrUnsupportedGeometry, g.GeoJSONType())
		}
	}

	return New(mp)
}

// sameCRS compares identifiers such as "EPSG:5677" and
// "urn:ogc:def:crs:EPSG::5677".
func sameCRS(a, b string) bool {
	return normalizeCRS(a) == normalizeCRS(b)
}

func normalizeCRS(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.Index(s, "EPSG"); i >= 0 {
		code := strings.TrimLeft(s[i+len("EPSG"):], ":")
		return "EPSG:" + code
	}
	return s
}
