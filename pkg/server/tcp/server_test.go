// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/mbridge/pkg/dispatcher"
	mberrors "github.com/absmach/mbridge/pkg/errors"
	"github.com/absmach/mbridge/pkg/framer"
	"github.com/absmach/mbridge/pkg/handler"
	"github.com/absmach/mbridge/pkg/library/numeric"
	"github.com/absmach/mbridge/pkg/library/sequence"
)

// recordingHandler reports session events on channels so tests can wait for
// them without racing the serving goroutine.
type recordingHandler struct {
	connectErr  error
	connects    chan *handler.Context
	requests    chan handler.Exchange
	disconnects chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connects:    make(chan *handler.Context, 16),
		requests:    make(chan handler.Exchange, 16),
		disconnects: make(chan error, 16),
	}
}

func (h *recordingHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.connects <- hctx
	return h.connectErr
}

func (h *recordingHandler) OnRequest(ctx context.Context, hctx *handler.Context, ex handler.Exchange) error {
	h.requests <- ex
	return nil
}

func (h *recordingHandler) OnDisconnect(ctx context.Context, hctx *handler.Context, cause error) error {
	h.disconnects <- cause
	return nil
}

func (h *recordingHandler) waitDisconnect(t *testing.T) error {
	t.Helper()
	select {
	case cause := <-h.disconnects:
		return cause
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
		return nil
	}
}

type testServer struct {
	server *Server
	addr   string
	cancel context.CancelFunc
	errCh  chan error
}

func startServer(t *testing.T, cfg Config, d Dispatcher, h handler.Handler) *testServer {
	t.Helper()

	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if d == nil {
		d = dispatcher.New(numeric.Library{}, sequence.Library{})
	}

	server := New(cfg, d, h)
	ctx, cancel := context.WithCancel(context.Background())

	ts := &testServer{
		server: server,
		addr:   listener.Addr().String(),
		cancel: cancel,
		errCh:  make(chan error, 1),
	}
	go func() {
		ts.errCh <- server.Serve(ctx, listener)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.errCh:
		case <-time.After(5 * time.Second):
			t.Error("Server shutdown timeout")
		}
	})
	return ts
}

type testClient struct {
	conn   net.Conn
	reader *framer.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: framer.NewReader(conn, framer.DefaultLimits())}
}

func (c *testClient) send(t *testing.T, raw string) {
	t.Helper()
	if _, err := c.conn.Write([]byte(raw)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func (c *testClient) recv(t *testing.T) (string, error) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := c.reader.ReadFrame()
	return string(frame), err
}

func (c *testClient) call(t *testing.T, request string) string {
	t.Helper()
	c.send(t, request+"\n")
	resp, err := c.recv(t)
	if err != nil {
		t.Fatalf("Failed to read response to %q: %v", request, err)
	}
	return resp
}

func (c *testClient) expectClosed(t *testing.T) {
	t.Helper()
	if _, err := c.recv(t); !errors.Is(err, io.EOF) && !isReset(err) {
		t.Fatalf("Expected connection to be closed, got %v", err)
	}
}

func isReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

func TestServer_RequestResponse(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, nil, h)
	c := dial(t, ts.addr)

	tests := []struct {
		request string
		want    string
	}{
		{request: "gcd;12;18", want: "6"},
		{request: "isPrime;17", want: "true"},
		{request: "isPrime;abc", want: "0"},
		{request: "meanOf;1;2;3", want: "2.0"},
		{request: "sort;0;0;", want: ""},
		{request: "sort;0;5;5;4;3;2;1", want: "1;2;3;4;5"},
		{request: "  min;3;1;2 \r", want: "1"},
		{request: "acos;oops", want: "0.0"},
		{request: "isSorted;1;2;x", want: "false"},
	}

	for _, tt := range tests {
		if got := c.call(t, tt.request); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.request, got, tt.want)
		}
	}

	for i := range tests {
		select {
		case ex := <-h.requests:
			if ex.Response != tests[i].want {
				t.Errorf("exchange %d: response %q, want %q", i, ex.Response, tests[i].want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing exchange %d", i)
		}
	}
}

func TestServer_ChunkedRequest(t *testing.T) {
	ts := startServer(t, Config{}, nil, nil)
	c := dial(t, ts.addr)

	for _, chunk := range []string{"gc", "d;1", "2;18"} {
		c.send(t, chunk)
		time.Sleep(20 * time.Millisecond)
	}
	c.send(t, "\n")

	resp, err := c.recv(t)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp != "6" {
		t.Errorf("got %q, want %q", resp, "6")
	}
}

func TestServer_PipelinedRequests(t *testing.T) {
	ts := startServer(t, Config{}, nil, nil)
	c := dial(t, ts.addr)

	c.send(t, "gcd;12;18\npow;2;3\nmin;4;2\n")
	for _, want := range []string{"6", "8", "2"} {
		resp, err := c.recv(t)
		if err != nil {
			t.Fatalf("Failed to read response: %v", err)
		}
		if resp != want {
			t.Errorf("got %q, want %q", resp, want)
		}
	}
}

func TestServer_EmptyLineEndsSession(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, nil, h)

	first := dial(t, ts.addr)
	if got := first.call(t, "pow;2;3"); got != "8" {
		t.Fatalf("got %q, want %q", got, "8")
	}
	first.send(t, "\n")
	first.expectClosed(t)

	if cause := h.waitDisconnect(t); cause != nil {
		t.Errorf("Expected clean disconnect, got %v", cause)
	}

	second := dial(t, ts.addr)
	if got := second.call(t, "gcd;4;6"); got != "2" {
		t.Errorf("got %q, want %q", got, "2")
	}
}

func TestServer_WhitespaceLineEndsSession(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, nil, h)

	c := dial(t, ts.addr)
	c.send(t, " \t\r\n")
	c.expectClosed(t)

	if cause := h.waitDisconnect(t); cause != nil {
		t.Errorf("Expected clean disconnect, got %v", cause)
	}
}

func TestServer_UnknownCommandClosesConnection(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, nil, h)

	c := dial(t, ts.addr)
	if got := c.call(t, "gcd;12;18"); got != "6" {
		t.Fatalf("got %q, want %q", got, "6")
	}
	c.send(t, "bogus;1\n")
	c.expectClosed(t)

	cause := h.waitDisconnect(t)
	if !errors.Is(cause, mberrors.ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", cause)
	}
	var serr *mberrors.SessionError
	if !errors.As(cause, &serr) || serr.Op != "dispatch" {
		t.Errorf("Expected dispatch SessionError, got %v", cause)
	}

	// The server keeps accepting.
	next := dial(t, ts.addr)
	if got := next.call(t, "min;5;3"); got != "3" {
		t.Errorf("got %q, want %q", got, "3")
	}
}

// lockedBuffer is a log sink shared with the serving goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_SessionErrorLeftToHandler(t *testing.T) {
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := newRecordingHandler()
	ts := startServer(t, Config{Logger: logger}, nil, h)

	c := dial(t, ts.addr)
	c.send(t, "bogus\n")
	c.expectClosed(t)
	if cause := h.waitDisconnect(t); !errors.Is(cause, mberrors.ErrUnknownCommand) {
		t.Fatalf("Expected ErrUnknownCommand, got %v", cause)
	}

	// Sessions run one after another, so the first one has finished logging
	// once the next client is answered.
	next := dial(t, ts.addr)
	next.call(t, "gcd;1;1")

	if out := logs.String(); strings.Contains(out, "unknown command") {
		t.Errorf("session error logged by the server:\n%s", out)
	}
}

func TestServer_MalformedFrame(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, nil, h)

	c := dial(t, ts.addr)
	c.send(t, string([]byte{0xff, 0xfe, 'x', '\n'}))
	c.expectClosed(t)

	if cause := h.waitDisconnect(t); !errors.Is(cause, mberrors.ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", cause)
	}
}

func TestServer_FrameTooLarge(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{Limits: framer.Limits{MaxFrameSize: 64}}, nil, h)

	c := dial(t, ts.addr)
	huge := make([]byte, 4096)
	for i := range huge {
		huge[i] = '1'
	}
	c.send(t, string(huge))
	c.expectClosed(t)

	if cause := h.waitDisconnect(t); !errors.Is(cause, mberrors.ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", cause)
	}
}

func TestServer_OneClientAtATime(t *testing.T) {
	ts := startServer(t, Config{}, nil, nil)

	first := dial(t, ts.addr)
	if got := first.call(t, "gcd;12;18"); got != "6" {
		t.Fatalf("got %q, want %q", got, "6")
	}

	// The second client is queued in the backlog and not served yet.
	second := dial(t, ts.addr)
	second.send(t, "pow;2;3\n")
	second.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := second.conn.Read(buf)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected second client to wait, got %v", err)
	}

	first.send(t, "\n")
	first.expectClosed(t)

	resp, err := second.recv(t)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp != "8" {
		t.Errorf("got %q, want %q", resp, "8")
	}
}

func TestServer_HandlerRefusesConnection(t *testing.T) {
	h := newRecordingHandler()
	h.connectErr = errors.New("not allowed")
	ts := startServer(t, Config{}, nil, h)

	c := dial(t, ts.addr)
	c.send(t, "gcd;12;18\n")
	c.expectClosed(t)

	if cause := h.waitDisconnect(t); !errors.Is(cause, h.connectErr) {
		t.Errorf("Expected connect error, got %v", cause)
	}
}

type panicDispatcher struct {
	calls atomic.Int32
}

func (d *panicDispatcher) Dispatch(text string) (dispatcher.Result, error) {
	if d.calls.Add(1) == 1 {
		panic("boom")
	}
	return dispatcher.Result{Command: "echo", Response: text}, nil
}

func TestServer_PanicEndsOnlySession(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, &panicDispatcher{}, h)

	c := dial(t, ts.addr)
	c.send(t, "first\n")
	c.expectClosed(t)

	if cause := h.waitDisconnect(t); !errors.Is(cause, errSessionPanic) {
		t.Errorf("Expected session panic, got %v", cause)
	}

	next := dial(t, ts.addr)
	if got := next.call(t, "second"); got != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
}

func TestServer_SessionContext(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{}, nil, h)

	c := dial(t, ts.addr)
	c.call(t, "gcd;1;1")

	select {
	case hctx := <-h.connects:
		if hctx.SessionID == "" {
			t.Error("Expected session id")
		}
		if hctx.Protocol != "tcp" {
			t.Errorf("Expected protocol tcp, got %q", hctx.Protocol)
		}
		if hctx.RemoteAddr != c.conn.LocalAddr().String() {
			t.Errorf("Expected remote %s, got %s", c.conn.LocalAddr(), hctx.RemoteAddr)
		}
	case <-time.After(time.Second):
		t.Fatal("missing connect")
	}

	if ts.server.Addr() == nil {
		t.Error("Expected server address while serving")
	}
	if err := ts.server.Ready(context.Background()); err != nil {
		t.Errorf("Expected server to be ready, got %v", err)
	}
}

// flakyListener fails the first Accept calls with a transient error.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("accept: too many open files")
	}
	return l.Listener.Accept()
}

func TestServer_AcceptErrorRetries(t *testing.T) {
	inner, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	listener := &flakyListener{Listener: inner}
	listener.failures.Store(3)

	server := New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		dispatcher.New(numeric.Library{}, sequence.Library{}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, listener)
	}()

	c := dial(t, inner.Addr().String())
	if got := c.call(t, "gcd;12;18"); got != "6" {
		t.Errorf("got %q, want %q", got, "6")
	}
	c.send(t, "\n")
	c.expectClosed(t)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Server shutdown with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Server shutdown timeout")
	}
}

func TestServer_Shutdown(t *testing.T) {
	ts := startServer(t, Config{ShutdownTimeout: 5 * time.Second}, nil, nil)

	c := dial(t, ts.addr)
	c.call(t, "gcd;12;18")
	c.send(t, "\n")
	c.expectClosed(t)

	ts.cancel()

	select {
	case err := <-ts.errCh:
		if err != nil {
			t.Errorf("Server shutdown with error: %v", err)
		}
		ts.errCh <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Server shutdown timeout")
	}

	if ts.server.Addr() != nil {
		t.Error("Expected no address after shutdown")
	}
	if _, err := net.DialTimeout("tcp", ts.addr, time.Second); err == nil {
		t.Error("Expected dial to fail after shutdown")
	}
}

func TestServer_ShutdownTimeout(t *testing.T) {
	h := newRecordingHandler()
	ts := startServer(t, Config{ShutdownTimeout: 100 * time.Millisecond}, nil, h)

	// Keep a session open without ever ending it.
	c := dial(t, ts.addr)
	c.call(t, "gcd;12;18")

	ts.cancel()

	select {
	case err := <-ts.errCh:
		if !errors.Is(err, ErrShutdownTimeout) {
			t.Errorf("Expected ErrShutdownTimeout, got %v", err)
		}
		ts.errCh <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Test timeout waiting for server shutdown")
	}

	c.expectClosed(t)
	h.waitDisconnect(t)
}

func TestServer_InvalidAddress(t *testing.T) {
	cfg := Config{
		Address:         "invalid:address:99999", // Invalid address
		ShutdownTimeout: 5 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	server := New(cfg, dispatcher.New(numeric.Library{}, sequence.Library{}), nil)

	if err := server.Listen(context.Background()); err == nil {
		t.Error("Expected error for invalid address")
	}
	if err := server.Ready(context.Background()); !errors.Is(err, ErrNotListening) {
		t.Errorf("Expected ErrNotListening, got %v", err)
	}
}

func TestNextDelay(t *testing.T) {
	d := time.Duration(0)
	want := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	for _, w := range want {
		d = nextDelay(d)
		if d != w {
			t.Errorf("got %v, want %v", d, w)
		}
	}
	if got := nextDelay(800 * time.Millisecond); got != maxAcceptDelay {
		t.Errorf("got %v, want %v", got, maxAcceptDelay)
	}
}
