// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the session lifecycle callbacks of mBridge.
//
// A Handler observes sessions without taking part in the protocol: it cannot
// change a response, and only OnConnect can refuse a client. Metrics and
// audit logging are implemented as handlers and combined with Chain:
//
//	h := handler.Chain{
//		simple.New(logger),
//		metrics.NewHandler(m, nil),
//	}
//	srv := tcp.New(cfg, dispatcher, h)
//
// # Call Order
//
//	OnConnect -> OnRequest* -> OnDisconnect
//
// OnDisconnect is called for every session that reached OnConnect, including
// sessions ended by malformed frames, unknown commands and I/O errors.
package handler
