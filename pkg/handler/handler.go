// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"time"
)

// Context contains connection metadata for one client session.
// It is passed to Handler methods and owned by the serving loop.
type Context struct {
	// SessionID is a unique identifier for this connection/session
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// Protocol indicates the transport being used (tcp)
	Protocol string

	// ConnectedAt is when the connection was accepted
	ConnectedAt time.Time

	// Requests is the number of requests answered so far
	Requests int
}

// Exchange describes one answered request.
type Exchange struct {
	// Command is field 0 of the request
	Command string

	// Request is the decoded, trimmed request text
	Request string

	// Response is the payload sent back to the client
	Response string

	// Fallback is set when Response is the command's fallback literal
	Fallback bool

	// Err is the cause of the fallback, if any
	Err error

	// Duration is the time spent dispatching
	Duration time.Duration
}

// Handler defines notification callbacks for session events.
// The server calls them in order on the serving goroutine:
// OnConnect once, OnRequest per answered request, OnDisconnect once.
type Handler interface {
	// OnConnect is called after a connection is accepted and before the first
	// request is read. Return an error to close the connection right away.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnRequest is called after a response has been written.
	// Errors are logged and do not end the session.
	OnRequest(ctx context.Context, hctx *Context, ex Exchange) error

	// OnDisconnect is called when a session ends, for any reason.
	// The error that ended it is passed as cause, nil for a clean close.
	OnDisconnect(ctx context.Context, hctx *Context, cause error) error
}

// NoopHandler is a Handler implementation that ignores every event.
// Useful for testing or when no notification is needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnRequest(ctx context.Context, hctx *Context, ex Exchange) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context, cause error) error {
	return nil
}

// Chain calls every handler in order. OnConnect stops at the first error;
// the other callbacks run all handlers and return the first error.
type Chain []Handler

var _ Handler = (Chain)(nil)

func (c Chain) OnConnect(ctx context.Context, hctx *Context) error {
	for _, h := range c {
		if err := h.OnConnect(ctx, hctx); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) OnRequest(ctx context.Context, hctx *Context, ex Exchange) error {
	var first error
	for _, h := range c {
		if err := h.OnRequest(ctx, hctx, ex); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c Chain) OnDisconnect(ctx context.Context, hctx *Context, cause error) error {
	var first error
	for _, h := range c {
		if err := h.OnDisconnect(ctx, hctx, cause); err != nil && first == nil {
			first = err
		}
	}
	return first
}
