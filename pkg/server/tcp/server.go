// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mbridge/pkg/dispatcher"
	mberrors "github.com/absmach/mbridge/pkg/errors"
	"github.com/absmach/mbridge/pkg/framer"
	"github.com/absmach/mbridge/pkg/handler"
	"github.com/google/uuid"
)

const (
	protocol = "tcp"

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var (
	// ErrShutdownTimeout is returned when the active session did not end
	// within the configured shutdown timeout and had to be closed.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrNotListening is returned by Ready before Serve has a listener.
	ErrNotListening = errors.New("server is not listening")

	errSessionPanic = errors.New("session panicked")
)

// Dispatcher answers one request.
type Dispatcher interface {
	Dispatch(text string) (dispatcher.Result, error)
}

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// ShutdownTimeout is the maximum time the active session may keep running
	// after shutdown starts. After this timeout its connection is closed.
	ShutdownTimeout time.Duration

	// Limits bounds inbound frames
	Limits framer.Limits

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts one client at a time and answers its requests in order.
// Further connection attempts wait in the OS accept backlog.
type Server struct {
	config     Config
	dispatcher Dispatcher
	handler    handler.Handler

	mu       sync.Mutex
	listener net.Listener
	active   net.Conn
	forced   atomic.Bool
}

// New creates a new TCP server with the given configuration, dispatcher and
// handler. A nil handler is replaced by handler.NoopHandler.
func New(cfg Config, d Dispatcher, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Limits.MaxFrameSize <= 0 {
		cfg.Limits = framer.DefaultLimits()
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	return &Server{
		config:     cfg,
		dispatcher: d,
		handler:    h,
	}
}

// Listen binds the configured address and serves until the context is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener and serves them one after another
// until the context is cancelled. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.forced.Store(false)

	s.config.Logger.Info("TCP server started", slog.String("address", listener.Addr().String()))

	done := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.watch(ctx, listener, done)
	}()

	err := s.acceptLoop(ctx, listener)

	close(done)
	<-watchDone

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if s.forced.Load() {
		return ErrShutdownTimeout
	}
	s.config.Logger.Info("TCP server stopped")
	return nil
}

// Addr returns the listener address, or nil when not serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready returns nil while the server holds a listener.
func (s *Server) Ready(ctx context.Context) error {
	if s.Addr() == nil {
		return ErrNotListening
	}
	return nil
}

// watch closes the listener on shutdown and, once the shutdown timeout has
// passed, the connection of the active session.
func (s *Server) watch(ctx context.Context, listener net.Listener, done <-chan struct{}) {
	select {
	case <-done:
		listener.Close()
		return
	case <-ctx.Done():
	}

	s.config.Logger.Info("shutdown signal received, closing listener")
	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		s.forced.Store(true)
		s.closeActive()
	}
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}

			delay = nextDelay(delay)
			s.config.Logger.Error("failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		delay = 0
		s.serveConn(ctx, conn)
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// serveConn runs one session to completion and releases the connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	s.setActive(conn)
	defer s.setActive(nil)

	hctx := &handler.Context{
		SessionID:   uuid.New().String(),
		RemoteAddr:  conn.RemoteAddr().String(),
		Protocol:    protocol,
		ConnectedAt: time.Now(),
	}

	s.config.Logger.Debug("connection established",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr))

	cause := s.session(ctx, conn, hctx)

	s.disconnect(conn, hctx)

	// Notify disconnect
	if err := s.handler.OnDisconnect(context.WithoutCancel(ctx), hctx, cause); err != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
	}

	// The cause is reported to the handler; only trace it here.
	attrs := []any{
		slog.String("session", hctx.SessionID),
		slog.Int("requests", hctx.Requests),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	s.config.Logger.Debug("connection closed", attrs...)
}

// session drives the read, dispatch, write cycle. It returns nil when the
// client ends the session with an empty frame or by closing the stream.
func (s *Server) session(ctx context.Context, conn net.Conn, hctx *handler.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = mberrors.New("serve", hctx.SessionID, hctx.RemoteAddr, fmt.Errorf("%w: %v", errSessionPanic, r))
		}
	}()

	if err := s.handler.OnConnect(ctx, hctx); err != nil {
		return mberrors.New("connect", hctx.SessionID, hctx.RemoteAddr, err)
	}

	reader := framer.NewReader(conn, s.config.Limits)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return mberrors.New("read", hctx.SessionID, hctx.RemoteAddr, err)
		}

		text, err := framer.Decode(frame)
		if err != nil {
			return mberrors.New("decode", hctx.SessionID, hctx.RemoteAddr, err)
		}
		if text == "" {
			return nil
		}

		start := time.Now()
		res, err := s.dispatcher.Dispatch(text)
		if err != nil {
			return mberrors.New("dispatch", hctx.SessionID, hctx.RemoteAddr, err)
		}
		ex := handler.Exchange{
			Command:  res.Command,
			Request:  text,
			Response: res.Response,
			Fallback: res.Fallback,
			Err:      res.Err,
			Duration: time.Since(start),
		}

		if err := framer.WriteFrame(conn, []byte(res.Response)); err != nil {
			return mberrors.New("write", hctx.SessionID, hctx.RemoteAddr, err)
		}
		hctx.Requests++

		if err := s.handler.OnRequest(ctx, hctx, ex); err != nil {
			s.config.Logger.Warn("request handler error",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
		}
	}
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// disconnect closes the read side, the write side and the socket. Each step
// runs even if an earlier one failed.
func (s *Server) disconnect(conn net.Conn, hctx *handler.Context) {
	var errs []error
	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseRead(); err != nil {
			errs = append(errs, fmt.Errorf("close read: %w", err))
		}
		if err := hc.CloseWrite(); err != nil {
			errs = append(errs, fmt.Errorf("close write: %w", err))
		}
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if len(errs) > 0 {
		s.config.Logger.Debug("connection cleanup errors",
			slog.String("session", hctx.SessionID),
			slog.String("error", errors.Join(errs...).Error()))
	}
}

func (s *Server) setActive(conn net.Conn) {
	s.mu.Lock()
	s.active = conn
	s.mu.Unlock()
}

func (s *Server) closeActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.Close()
	}
}
