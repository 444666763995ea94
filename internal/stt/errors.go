package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned by Connect when the listen request cannot be built
	ErrInvalidConfiguration = errors.New("invalid transcription configuration")

	// ErrExhaustedRetries is surfaced once when the reconnect cap is reached
	ErrExhaustedRetries = errors.New("transcription reconnect attempts exhausted")

	// ErrClientClosed is returned by Connect after Close
	ErrClientClosed = errors.New("streaming client is closed")

	// ErrNotConnected is returned by a transport asked to send without a live socket
	ErrNotConnected = errors.New("transport is not connected")
)

// ConnectionError reports a transport or handshake failure.
// The client recovers from it by reconnecting.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transcription connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a provider message that could not be used.
// Protocol errors are dropped, never surfaced to the consumer.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s): %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ProviderError is an explicit error frame sent by the transcription service.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return "transcription provider error: " + e.Message
}
