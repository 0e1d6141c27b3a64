package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrMalformedShapefile is returned when a .shp file cannot be decoded.
var ErrMalformedShapefile = errors.New("malformed shapefile")

const (
	shpHeaderLen = 100
	shpFileCode  = 9994
)

// prjAuthority matches the EPSG authority clauses of a WKT projection. The
// last one belongs to the outermost coordinate system.
var prjAuthority = regexp.MustCompile(`AUTHORITY\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// Load parses region data and picks the format from name: ".shp" (optionally
// ".shp.gz") is an ESRI shapefile, anything else GeoJSON. prj is the WKT
// projection that accompanies a shapefile and may be nil.
func Load(name string, data, prj []byte, wantCRS string) (*Polygon, error) {
	if IsShapefile(name) {
		return ReadShapefile(data, prj, wantCRS)
	}
	return ReadGeoJSON(data, wantCRS)
}

// IsShapefile reports whether name, a path or URI, names a .shp file.
func IsShapefile(name string) bool {
	return strings.HasSuffix(shapeBase(name), ".shp")
}

// ShapefileSibling returns the location of the file that shares the shapefile's
// base name but has extension ext, keeping any URI query.
func ShapefileSibling(name, ext string) string {
	rest := ""
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name, rest = name[:i], name[i:]
	}
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		name = name[:len(name)-len(".gz")]
	}
	if strings.HasSuffix(strings.ToLower(name), ".shp") {
		name = name[:len(name)-len(".shp")]
	}
	return name + ext + rest
}

func shapeBase(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(strings.ToLower(name), ".gz")
}

// ReadShapefile decodes the main (.shp) file of an ESRI shapefile and unions
// every polygon record into one region. Null records are skipped. When prj
// names an EPSG code it must match wantCRS.
func ReadShapefile(data, prj []byte, wantCRS string) (*Polygon, error) {
	if code := prjEPSG(prj); code != "" && wantCRS != "" && !sameCRS(code, wantCRS) {
		return nil, fmt.Errorf("%w: region %q, network %q", ErrCRSMismatch, code, wantCRS)
	}

	if len(data) < shpHeaderLen || binary.BigEndian.Uint32(data) != shpFileCode {
		return nil, fmt.Errorf("%w: missing shapefile header", ErrMalformedShapefile)
	}

	// go-shp reads from a seekable file, so the bytes are staged on disk.
	dir, err := os.MkdirTemp("", "cordon-region-")
	if err != nil {
		return nil, fmt.Errorf("stage shapefile: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "region.shp")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("stage shapefile: %w", err)
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShapefile, err)
	}
	defer r.Close()

	var mp orb.MultiPolygon
	for r.Next() {
		n, shape := r.Shape()
		parts, points, err := polygonParts(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		mp = append(mp, assemble(parts, points)...)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShapefile, err)
	}

	return New(mp)
}

func polygonParts(shape shp.Shape) ([]int32, []shp.Point, error) {
	switch s := shape.(type) {
	case *shp.Polygon:
		return s.Parts, s.Points, nil
	case *shp.PolygonZ:
		return s.Parts, s.Points, nil
	case *shp.PolygonM:
		return s.Parts, s.Points, nil
	case *shp.Null:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: got shape %T", ErrUnsupportedGeometry, shape)
	}
}

// assemble turns shapefile rings into polygons. Outer rings run clockwise;
// counter-clockwise rings are holes of the outer ring that contains them.
func assemble(parts []int32, points []shp.Point) orb.MultiPolygon {
	var out orb.MultiPolygon
	var holes []orb.Ring
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if len(ring) < 3 {
			continue
		}
		if ring.Orientation() == orb.CCW {
			holes = append(holes, ring)
			continue
		}
		out = append(out, orb.Polygon{ring})
	}

	for _, hole := range holes {
		placed := false
		for i := range out {
			if planar.RingContains(out[i][0], hole[0]) {
				out[i] = append(out[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			// Writers that ignore the winding rule emit lone outers as CCW.
			out = append(out, orb.Polygon{hole})
		}
	}
	return out
}

func prjEPSG(prj []byte) string {
	matches := prjAuthority.FindAllSubmatch(prj, -1)
	if len(matches) == 0 {
		return ""
	}
	return "EPSG:" + string(matches[len(matches)-1][1])
}
