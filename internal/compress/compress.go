// Package compress wraps klauspost/compress/zstd for blob bodies. Packed
// blobs that carry an UncompressedLength were compressed with this package;
// blobs without one are stored raw (e.g. already-compressed or too small to
// benefit).
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/arkiveio/arkive/internal/errors"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(err)
		}
		encoder = enc
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		decoder = dec
	})
	return decoder
}

// Compress returns the zstd-compressed form of data.
func Compress(data []byte) []byte {
	return getEncoder().EncodeAll(data, make([]byte, 0, len(data)))
}

// Decompress decompresses src into a buffer of exactly uncompressedLength
// bytes.
func Decompress(src []byte, uncompressedLength int) ([]byte, error) {
	out, err := getDecoder().DecodeAll(src, make([]byte, 0, uncompressedLength))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress")
	}
	if len(out) != uncompressedLength {
		return nil, errors.Errorf("decompressed length %d does not match expected %d", len(out), uncompressedLength)
	}
	return out, nil
}
