package store

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/rotisserie/eris"
)

// encodePayload zlib-compresses a raw place record for storage.
func encodePayload(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, eris.Wrap(err, "store: compress payload")
	}
	if err := w.Close(); err != nil {
		return nil, eris.Wrap(err, "store: flush payload")
	}
	return buf.Bytes(), nil
}

// decodePayload reverses encodePayload.
func decodePayload(blob []byte) (json.RawMessage, error) {
	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, eris.Wrap(err, "store: open payload")
	}
	defer r.Close() //nolint:errcheck

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "store: decompress payload")
	}
	return raw, nil
}
