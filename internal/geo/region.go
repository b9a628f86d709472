// Package geo provides the rectangular region type the crawler partitions,
// along with subdivision and distance measurement.
package geo

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Unit selects how Region.Radius measures distance.
type Unit int

const (
	// UnitNone measures planar Euclidean distance in degrees.
	UnitNone Unit = iota
	// UnitKilometers measures great-circle distance in kilometers.
	UnitKilometers
	// UnitMiles measures great-circle distance in miles.
	UnitMiles
)

// Mean earth radius per unit, used for great-circle distances.
const (
	earthRadiusKM = 6371.0088
	earthRadiusMI = 3958.7613
)

// String returns the unit's short name.
func (u Unit) String() string {
	switch u {
	case UnitKilometers:
		return "km"
	case UnitMiles:
		return "mi"
	default:
		return "deg"
	}
}

// ParseUnit converts a string into a Unit.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "", "deg", "degrees":
		return UnitNone, nil
	case "km", "kilometers":
		return UnitKilometers, nil
	case "mi", "miles":
		return UnitMiles, nil
	default:
		return 0, eris.Errorf("geo: unknown unit %q (valid: deg, km, mi)", s)
	}
}

// ErrInvalidRegion indicates inverted or degenerate region bounds.
var ErrInvalidRegion = eris.New("geo: invalid region: min bounds must be strictly less than max bounds")

// ErrInvalidGrid indicates a non-positive row or column count.
var ErrInvalidGrid = eris.New("geo: invalid grid: rows and columns must be positive")

// Region is a geographic bounding box in lng/lat order. It is an immutable
// value; subdivision returns new regions and never mutates the receiver.
type Region struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// NewRegion builds a validated Region.
func NewRegion(minLng, minLat, maxLng, maxLat float64) (Region, error) {
	r := Region{MinLng: minLng, MinLat: minLat, MaxLng: maxLng, MaxLat: maxLat}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Validate checks the bounds invariant.
func (r Region) Validate() error {
	if r.MinLng >= r.MaxLng || r.MinLat >= r.MaxLat {
		return eris.Wrapf(ErrInvalidRegion, "bounds %s", r)
	}
	return nil
}

// Width returns the longitudinal extent in degrees.
func (r Region) Width() float64 { return r.MaxLng - r.MinLng }

// Height returns the latitudinal extent in degrees.
func (r Region) Height() float64 { return r.MaxLat - r.MinLat }

// Center returns the region's midpoint as lng, lat.
func (r Region) Center() (lng, lat float64) {
	return (r.MinLng + r.MaxLng) / 2, (r.MinLat + r.MaxLat) / 2
}

// String formats the region in standard GIS bbox order.
func (r Region) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", r.MinLng, r.MinLat, r.MaxLng, r.MaxLat)
}

// Radius measures the distance between the region's opposite corners.
// With UnitNone it is the planar Euclidean distance in degrees; with
// UnitKilometers or UnitMiles it is the great-circle distance.
func (r Region) Radius(unit Unit) float64 {
	switch unit {
	case UnitKilometers:
		return haversine(r.MinLat, r.MinLng, r.MaxLat, r.MaxLng, earthRadiusKM)
	case UnitMiles:
		return haversine(r.MinLat, r.MinLng, r.MaxLat, r.MaxLng, earthRadiusMI)
	default:
		return xy.Distance(
			geom.Coord{r.MinLng, r.MinLat},
			geom.Coord{r.MaxLng, r.MaxLat},
		)
	}
}

// Subdivide partitions the region into rows*cols equal cells in row-major
// order (index = row*cols + col, rows counted from the southern edge).
func (r Region) Subdivide(rows, cols int) ([]Region, error) {
	if rows <= 0 || cols <= 0 {
		return nil, eris.Wrapf(ErrInvalidGrid, "rows=%d cols=%d", rows, cols)
	}

	cellW := r.Width() / float64(cols)
	cellH := r.Height() / float64(rows)

	cells := make([]Region, 0, rows*cols)
	for n := 0; n < rows*cols; n++ {
		row := n / cols
		col := n % cols
		cells = append(cells, Region{
			MinLng: r.MinLng + cellW*float64(col),
			MinLat: r.MinLat + cellH*float64(row),
			MaxLng: r.MinLng + cellW*float64(col+1),
			MaxLat: r.MinLat + cellH*float64(row+1),
		})
	}
	return cells, nil
}

// AdaptiveSubdivide partitions the region into rows*cols cells and, while the
// cells are still larger than maxRadius, re-subdivides every cell the same
// way, flattening the result in row-major order at each level.
//
// Only the first cell's radius is checked per level: cells are equal-sized,
// so the first is representative. This must hold if non-uniform subdivision
// is ever introduced.
func (r Region) AdaptiveSubdivide(rows, cols int, maxRadius float64, unit Unit) ([]Region, error) {
	cells, err := r.Subdivide(rows, cols)
	if err != nil {
		return nil, err
	}

	if cells[0].Radius(unit) <= maxRadius {
		return cells, nil
	}

	var flattened []Region
	for _, cell := range cells {
		sub, err := cell.AdaptiveSubdivide(rows, cols, maxRadius, unit)
		if err != nil {
			return nil, err
		}
		flattened = append(flattened, sub...)
	}
	return flattened, nil
}

// haversine returns the great-circle distance between two lat/lng points on a
// sphere of the given radius.
func haversine(lat1, lng1, lat2, lng2, radius float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lng2 - lng1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * radius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
