package remotewrite

import (
	"errors"
	"fmt"
)

// ErrDecodedTooLarge is returned when a compressed payload would expand
// past the configured decoded-size limit.
var ErrDecodedTooLarge = errors.New("decoded body exceeds limit")

// EncodeError reports a protobuf serialization failure.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding write request: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// CompressionError reports a block compression failure.
type CompressionError struct {
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compressing write request: %v", e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// RejectedError is returned when the remote endpoint answers with a
// non-2xx status.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote write rejected: [%d]: %s", e.StatusCode, e.Body)
}

// TransportError wraps connection, timeout and DNS failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sending write request: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// GatherError is returned when the snapshot source yields nothing usable.
type GatherError struct {
	Err error
}

func (e *GatherError) Error() string {
	return fmt.Sprintf("gathering metrics: %v", e.Err)
}

func (e *GatherError) Unwrap() error { return e.Err }
