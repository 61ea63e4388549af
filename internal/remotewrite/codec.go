package remotewrite

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/prometheus/prometheus/prompb"
)

// Codec serializes write requests to protobuf and block-compresses them.
type Codec struct {
	compressor *Compressor
}

// NewCodec creates a Codec using the given compression algorithm.
func NewCodec(compression string, opts ...Option) (*Codec, error) {
	compressor, err := NewCompressor(compression, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Codec{compressor: compressor}, nil
}

// Encode marshals req and compresses the whole buffer as one block.
func (c *Codec) Encode(req *prompb.WriteRequest) ([]byte, error) {
	data, err := proto.Marshal(req)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}

	compressed, err := c.compressor.Compress(data)
	if err != nil {
		return nil, &CompressionError{Err: err}
	}

	return compressed, nil
}

// Decode decompresses body and unmarshals the write request it holds.
func (c *Codec) Decode(body []byte) (*prompb.WriteRequest, error) {
	data, err := c.compressor.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("decompressing body: %w", err)
	}

	var req prompb.WriteRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshaling write request: %w", err)
	}

	return &req, nil
}

// ContentEncoding returns the Content-Encoding matching the codec's output.
func (c *Codec) ContentEncoding() string {
	return c.compressor.ContentEncoding()
}

// Close releases the codec's compressor.
func (c *Codec) Close() error {
	return c.compressor.Close()
}
