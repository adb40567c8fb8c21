// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the mBridge TCP server.
//
// # Overview
//
// The server owns the listening socket for its whole lifetime and serves
// exactly one client at a time. A second client that connects while a
// session is running waits in the OS accept backlog until the first one
// disconnects.
//
// # Session Lifecycle
//
//	Listening -> Accepting -> Serving -> Disconnecting -> Accepting ...
//
// Each session runs these steps:
//
//  1. Accept one connection
//  2. Assign a session id and call handler.OnConnect
//  3. Loop: read frame, decode, dispatch, write response, handler.OnRequest
//  4. Stop on empty frame, EOF, malformed frame, unknown command or I/O error
//  5. Close read side, write side and socket, each independently
//  6. Call handler.OnDisconnect with the cause and accept again
//
// A misbehaving client never stops the server: every session error,
// including a panic in the serving loop, is logged and ends only that
// session. Failed accepts are logged and retried with a backoff that starts
// at 5ms and is capped at one second.
//
// # Responses
//
// Request N on a connection is answered by write N. The server never reads
// the next request before the previous response has been written, and it
// never answers an empty request.
//
// # Graceful Shutdown
//
// When the context is cancelled:
//
//  1. The listener is closed, queued clients are dropped
//  2. The active session, if any, may continue until the client leaves
//  3. After ShutdownTimeout its connection is closed
//  4. Serve returns ErrShutdownTimeout if step 3 was needed
//
// # Example
//
//	d := dispatcher.New(numeric.Library{}, sequence.Library{})
//
//	cfg := tcp.Config{
//		Address:         ":1337",
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	server := tcp.New(cfg, d, &handler.NoopHandler{})
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
