// Package export writes the stored place corpus out in line-oriented and
// spreadsheet formats.
package export

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placecrawl/internal/store"
)

// Format selects an output encoding.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unknown format %q (ndjson, csv, xlsx)", s)
	}
}

// defaultCategoryColumns is how many category columns the tabular formats
// carry when the caller does not say otherwise.
const defaultCategoryColumns = 3

// Options tunes the tabular formats. NDJSON ignores it.
type Options struct {
	// CategoryColumns is the number of category_N columns. Default 3.
	CategoryColumns int
}

func (o Options) categoryColumns() int {
	if o.CategoryColumns <= 0 {
		return defaultCategoryColumns
	}
	return o.CategoryColumns
}

// Write streams every stored place from src to w in the given format.
func Write(ctx context.Context, src store.PlaceStore, w io.Writer, format Format, opts Options) error {
	switch format {
	case FormatNDJSON:
		return writeNDJSON(ctx, src, w)
	case FormatCSV:
		return writeCSV(ctx, src, w, opts)
	case FormatXLSX:
		return writeXLSX(ctx, src, w, opts)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}
