// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mBridge.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidInput indicates a request argument that could not be converted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedFrame indicates a frame that is not valid UTF-8 text.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrFrameTooLarge indicates a frame that exceeded the configured size limit
	// before its terminator was seen.
	ErrFrameTooLarge = errors.New("frame size limit exceeded")

	// ErrUnknownCommand indicates a request naming a command that is not in the
	// command table. It is a protocol violation and ends the session.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// SessionError wraps an error with the session it happened in.
type SessionError struct {
	Op         string // Operation that failed (read, decode, dispatch, write)
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError. It returns nil for a nil err.
func New(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
