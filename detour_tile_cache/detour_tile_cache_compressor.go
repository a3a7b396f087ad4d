package detour_tile_cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DtTileCacheCompressor packs the cell grids of a cache layer.
// Implementations must be safe for concurrent use; generator workers share one.
type DtTileCacheCompressor interface {
	Compress(buffer []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// ZstdCompressor compresses layers with zstd.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstdCompressor() (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCompressor) Compress(buffer []byte) ([]byte, error) {
	return c.encoder.EncodeAll(buffer, make([]byte, 0, len(buffer)/2)), nil
}

func (c *ZstdCompressor) Decompress(compressed []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *ZstdCompressor) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
