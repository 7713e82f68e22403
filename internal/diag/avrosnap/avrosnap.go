// Package avrosnap encodes heap snapshots as an in-memory Avro Object
// Container File using goavro, for a transient diagnostic export rather
// than an on-disk checkpoint file; the heap itself never persists state.
package avrosnap

import (
	"bytes"
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

const snapshotSchema = `{
    "type": "record",
    "name": "SnapshotEntry",
    "fields": [
        {"name": "address", "type": "long"},
        {"name": "size", "type": "int"},
        {"name": "generation", "type": "int"},
        {"name": "tag", "type": "int"}
    ]
}`

// Encode renders entries as a deflate-compressed Avro Object Container
// File.
func Encode(entries []common.SnapshotEntry) ([]byte, error) {
	codec, err := goavro.NewCodec(snapshotSchema)
	if err != nil {
		return nil, fmt.Errorf("avrosnap: compile schema: %w", err)
	}

	var buf bytes.Buffer
	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("avrosnap: create OCF writer: %w", err)
	}

	records := make([]any, len(entries))
	for i, e := range entries {
		records[i] = map[string]any{
			"address":    int64(e.Address),
			"size":       int32(e.Size),
			"generation": int32(e.Generation),
			"tag":        int32(e.Tag),
		}
	}

	if err := writer.Append(records); err != nil {
		return nil, fmt.Errorf("avrosnap: append records: %w", err)
	}
	return buf.Bytes(), nil
}
