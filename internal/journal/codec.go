package journal

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

// encode serializes a record to CBOR with its header blob zstd-compressed.
func encode(rec *Record) ([]byte, error) {
	stored := *rec
	if len(rec.Header) > 0 {
		stored.Header = zstdEncoder.EncodeAll(rec.Header, nil)
	}
	data, err := cbor.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshal record %d: %w", rec.ID, err)
	}
	return data, nil
}

// decode is the inverse of encode. Uncompressed header blobs are accepted
// as-is.
func decode(data []byte) (*Record, error) {
	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if bytes.HasPrefix(rec.Header, zstdMagic) {
		header, err := zstdDecoder.DecodeAll(rec.Header, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress header of record %d: %w", rec.ID, err)
		}
		rec.Header = header
	}
	return &rec, nil
}
