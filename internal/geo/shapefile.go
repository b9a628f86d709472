package geo

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FromShapefile returns the bounding Region of a shapefile's extent. The
// shapefile header carries the full-file bounding box, so no shapes are
// decoded beyond opening the reader.
func FromShapefile(path string) (Region, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return Region{}, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	box := reader.BBox()
	region, err := NewRegion(box.MinX, box.MinY, box.MaxX, box.MaxY)
	if err != nil {
		return Region{}, eris.Wrapf(err, "geo: shapefile %s has degenerate extent", path)
	}

	zap.L().Debug("region from shapefile",
		zap.String("path", path),
		zap.String("region", region.String()),
	)
	return region, nil
}
