// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package framer implements the newline-delimited framing used on mBridge
// connections.
//
// # Wire Format
//
// A frame is UTF-8 text followed by a single '\n' byte:
//
//	gcd;12;18\n
//
// There is no length prefix and no escaping. The terminator never appears
// inside a payload.
//
// # Reading
//
// Reader accumulates bytes from the stream in 512 byte reads and looks for
// the terminator after every read, so frames may arrive in any number of
// segments:
//
//	r := framer.NewReader(conn, framer.DefaultLimits())
//	for {
//		frame, err := r.ReadFrame()
//		if err != nil {
//			return err // io.EOF when the peer closed
//		}
//		text, err := framer.Decode(frame)
//		...
//	}
//
// # Writing
//
// WriteFrame appends the terminator and issues one Write, so a response is
// never interleaved with another write on the same connection.
package framer
