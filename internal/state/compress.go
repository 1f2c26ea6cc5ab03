package state

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/rendis/blockflow/pkg/schema"
)

// DefaultMinCompressSize is the payload size below which compression is
// skipped: tiny payloads grow under gzip and the CPU is wasted.
const DefaultMinCompressSize = 512

// gzip magic bytes, used to recognize whether a stored payload was actually
// compressed. A payload below the threshold is written raw, so the reader
// cannot rely on configuration alone.
var gzipMagic = []byte{0x1f, 0x8b}

// compress gzips data when it meets the threshold; smaller payloads pass
// through untouched.
func compress(data []byte, minSize int) ([]byte, error) {
	if len(data) < minSize {
		return data, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "compress state").WithCause(err)
	}
	if err := w.Close(); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "flush compressed state").WithCause(err)
	}
	return buf.Bytes(), nil
}

// decompress reverses compress, passing through payloads that were stored
// raw. The gzip magic header decides.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "open compressed state").WithCause(err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "decompress state").WithCause(err)
	}
	return out, nil
}
