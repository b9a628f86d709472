package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placecrawl/internal/store"
	"github.com/sells-group/placecrawl/pkg/places"
)

// tabularHeader builds the fixed column set: coordinates and address parts
// first, then ncat category title columns.
func tabularHeader(ncat int) []string {
	header := []string{"longitude", "latitude", "id", "street", "house_number", "postal_code"}
	for i := 1; i <= ncat; i++ {
		header = append(header, fmt.Sprintf("category_%d", i))
	}
	return header
}

// tabularRow projects one stored place onto the header's columns. Missing
// fields become empty cells; extra categories beyond ncat are dropped.
func tabularRow(sp store.StoredPlace, ncat int) ([]string, error) {
	f, err := places.Place{ID: sp.ID, Raw: sp.Raw}.Fields()
	if err != nil {
		return nil, err
	}

	var lng, lat string
	if len(f.Position) >= 2 {
		// Provider positions are lat, lng; the export leads with longitude.
		lat = strconv.FormatFloat(f.Position[0], 'f', -1, 64)
		lng = strconv.FormatFloat(f.Position[1], 'f', -1, 64)
	}

	row := []string{lng, lat, sp.ID, f.Address.Street, f.Address.HouseNumber, f.Address.PostalCode}
	for i := 0; i < ncat; i++ {
		if i < len(f.Categories) {
			row = append(row, f.Categories[i].Title)
		} else {
			row = append(row, "")
		}
	}
	return row, nil
}

func writeCSV(ctx context.Context, src store.PlaceStore, w io.Writer, opts Options) error {
	ncat := opts.categoryColumns()
	cw := csv.NewWriter(w)

	if err := cw.Write(tabularHeader(ncat)); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	err := src.Iterate(ctx, func(sp store.StoredPlace) error {
		row, err := tabularRow(sp, ncat)
		if err != nil {
			return err
		}
		return cw.Write(row)
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}
