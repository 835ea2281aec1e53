// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"errors"
	"fmt"
	"net"
)

// Parse failure causes, matched with errors.Is against a *ParseError
var (
	ErrInvalidEnvelope = errors.New("telegram does not start with \"SMA\\0\"")
	ErrTerminator      = errors.New("telegram is not terminated by 0x00000000")
	ErrTruncated       = errors.New("telegram is truncated")
	ErrUnknownWidth    = errors.New("record has unknown width")
)

// Listener lifecycle errors
var (
	ErrAlreadyStarted = errors.New("listener already started")
	ErrClosed         = errors.New("listener is closed")
	ErrNotRunning     = errors.New("listener is not running")
)

// errMismatch signals that a telegram specialization does not apply.
// It drives the fallback to the next variant and never leaves the decoder.
var errMismatch = errors.New("telegram does not match")

// ParseError reports a datagram that could not be decoded
type ParseError struct {
	Origin net.IP
	Length int
	Offset int // byte offset of the failure, -1 if not applicable
	Err    error
	Detail string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("invalid telegram from %s (%d bytes)", e.Origin, e.Length)
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the failure cause
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid listener configuration
type ConfigError struct {
	Field string
	Value string
	Err   error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the underlying cause
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// StartError reports a failure to open, bind or join the multicast socket
type StartError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *StartError) Error() string {
	return fmt.Sprintf("speedwire start failed: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *StartError) Unwrap() error {
	return e.Err
}

// SendError reports a datagram that could not be sent to the group
type SendError struct {
	Length int
	Err    error
}

// Error implements the error interface
func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send %d bytes: %v", e.Length, e.Err)
}

// Unwrap returns the underlying cause
func (e *SendError) Unwrap() error {
	return e.Err
}
