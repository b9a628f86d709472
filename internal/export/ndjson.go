package export

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placecrawl/internal/store"
)

// Record decodes a stored place into a flat object with the capture
// timestamp folded in. Both the NDJSON export and the HTTP API emit it.
func Record(sp store.StoredPlace) (map[string]any, error) {
	var record map[string]any
	if err := json.Unmarshal(sp.Raw, &record); err != nil {
		return nil, eris.Wrapf(err, "export: decode place %s", sp.ID)
	}
	record["captured_at"] = sp.CapturedAt.UTC().Format(time.RFC3339)
	return record, nil
}

// writeNDJSON emits one compact JSON object per line.
func writeNDJSON(ctx context.Context, src store.PlaceStore, w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	err := src.Iterate(ctx, func(sp store.StoredPlace) error {
		record, err := Record(sp)
		if err != nil {
			return err
		}
		return enc.Encode(record)
	})
	if err != nil {
		return err
	}
	return eris.Wrap(bw.Flush(), "export: flush ndjson")
}
