package remotewrite

import (
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
)

// Compressor block-compresses whole payloads using a specified algorithm.
// It is safe for concurrent use.
type Compressor struct {
	algorithm  string
	maxDecoded int64
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithMaxDecodedBytes bounds the size Decompress may produce. Payloads
// that would exceed it fail with ErrDecodedTooLarge before the output is
// allocated. Zero means unlimited.
func WithMaxDecodedBytes(n int64) Option {
	return func(c *Compressor) {
		c.maxDecoded = n
	}
}

// NewCompressor creates a new Compressor for the specified algorithm.
// An empty algorithm selects snappy.
func NewCompressor(algorithm string, opts ...Option) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionSnappy
	}

	c := &Compressor{algorithm: algorithm}

	for _, opt := range opts {
		opt(c)
	}

	switch algorithm {
	case CompressionSnappy:
	case CompressionZstd:
		// Pre-create zstd encoder and decoder since they're expensive to create.
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		var decoderOpts []zstd.DOption
		if c.maxDecoded > 0 {
			decoderOpts = append(decoderOpts, zstd.WithDecoderMaxMemory(uint64(c.maxDecoded)))
		}

		decoder, err := zstd.NewReader(nil, decoderOpts...)
		if err != nil {
			encoder.Close()

			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}

		c.encoder = encoder
		c.decoder = decoder
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// Compress compresses data as a single block.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionZstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionSnappy:
		if c.maxDecoded > 0 {
			n, err := snappy.DecodedLen(data)
			if err != nil {
				return nil, err
			}

			if int64(n) > c.maxDecoded {
				return nil, fmt.Errorf("%w: header claims %d bytes, limit is %d",
					ErrDecodedTooLarge, n, c.maxDecoded)
			}
		}

		return snappy.Decode(nil, data)
	case CompressionZstd:
		out, err := c.decoder.DecodeAll(data, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("%w: limit is %d: %w", ErrDecodedTooLarge, c.maxDecoded, err)
		}

		return out, err
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// ContentEncoding returns the Content-Encoding header value for the algorithm.
func (c *Compressor) ContentEncoding() string {
	return c.algorithm
}

// Close releases resources held by the compressor.
func (c *Compressor) Close() error {
	if c.decoder != nil {
		c.decoder.Close()
	}

	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}
