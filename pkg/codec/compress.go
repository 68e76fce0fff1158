package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionLevel is used when a caller passes a non-positive level
// (e.g. the zero value of an unconfigured CompressionLevel field).
const DefaultCompressionLevel = 3

// compress zstd-compresses data at the given zstd level (1-22; see
// config.Config.CompressionLevel). A fresh encoder is created per call,
// mirroring the teacher's preference for straightforward one-shot helpers
// (storage/badger_serialization.go) over a shared-encoder pool; change
// payloads are compressed once, at save time, not on a hot read path.
func compress(level int, data []byte) ([]byte, error) {
	if level <= 0 {
		level = DefaultCompressionLevel
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return out, nil
}
