package export

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/placecrawl/internal/store"
)

// writeXLSX builds a single-sheet workbook with the same projection as the
// CSV export. The workbook is assembled in memory before writing.
func writeXLSX(ctx context.Context, src store.PlaceStore, w io.Writer, opts Options) error {
	ncat := opts.categoryColumns()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("places")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow := func(cells []string) {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	addRow(tabularHeader(ncat))

	err = src.Iterate(ctx, func(sp store.StoredPlace) error {
		row, err := tabularRow(sp, ncat)
		if err != nil {
			return err
		}
		addRow(row)
		return nil
	})
	if err != nil {
		return err
	}

	return eris.Wrap(f.Write(w), "export: write workbook")
}
