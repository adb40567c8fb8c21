// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client talks to an mBridge server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	mberrors "github.com/absmach/mbridge/pkg/errors"
	"github.com/absmach/mbridge/pkg/framer"
	"github.com/absmach/mbridge/pkg/request"
)

const (
	// DefaultAddress is the address of a local server on the default port.
	DefaultAddress = "127.0.0.1:1337"

	defaultDialTimeout = 5 * time.Second
)

// ErrUnexpectedResponse is returned when a response cannot be converted to
// the type the command returns.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Client is a single connection to the server. Calls are serialized: the
// server answers requests strictly in order.
//
// A call that fails for any reason, including a cancelled context, closes the
// connection: a late response would otherwise answer the next request. Every
// later call returns errors.ErrConnectionClosed.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *framer.Reader
	broken bool
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	if addr == "" {
		addr = DefaultAddress
	}
	d := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		reader: framer.NewReader(conn, framer.DefaultLimits()),
	}, nil
}

// Call sends name with params and returns the raw response text. The
// context deadline, if any, bounds the round trip.
func (c *Client) Call(ctx context.Context, name string, params ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return "", mberrors.Wrap(mberrors.ErrConnectionClosed, name)
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", c.fail(ctx, name, err)
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	msg := strings.Join(append([]string{name}, params...), request.Separator)
	if err := framer.WriteFrame(c.conn, []byte(msg)); err != nil {
		return "", c.fail(ctx, name, err)
	}

	frame, err := c.reader.ReadFrame()
	if err != nil {
		return "", c.fail(ctx, name, err)
	}
	return string(frame), nil
}

// fail closes the connection after a failed call and classifies err.
func (c *Client) fail(ctx context.Context, name string, err error) error {
	c.broken = true
	c.conn.Close()

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		// The socket deadline can fire before the context notices.
		err = context.DeadlineExceeded
	}
	if errors.Is(err, io.EOF) {
		err = mberrors.ErrConnectionClosed
	}
	return mberrors.Wrap(err, name)
}

// Close ends the session with an empty frame and closes the connection.
// Closing a client whose connection is already gone is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil
	}
	c.broken = true

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	werr := framer.WriteFrame(c.conn, nil)
	return errors.Join(werr, c.conn.Close())
}

// NextPrime returns the smallest prime greater than or equal to n.
func (c *Client) NextPrime(ctx context.Context, n int) (int, error) {
	return c.callInt(ctx, "nextPrime", itoa(n))
}

// IsPrime reports whether n is prime.
func (c *Client) IsPrime(ctx context.Context, n int) (bool, error) {
	return c.callBool(ctx, "isPrime", itoa(n))
}

func (c *Client) GCD(ctx context.Context, a, b int) (int, error) {
	return c.callInt(ctx, "gcd", itoa(a), itoa(b))
}

func (c *Client) Pow(ctx context.Context, k, e int) (int, error) {
	return c.callInt(ctx, "pow", itoa(k), itoa(e))
}

// Stirling returns the Stirling number of the second kind S(n, k).
func (c *Client) Stirling(ctx context.Context, n, k int) (int64, error) {
	resp, err := c.Call(ctx, "stirling", itoa(n), itoa(k))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(resp, 10, 64)
	if err != nil {
		return 0, unexpected("stirling", resp)
	}
	return v, nil
}

func (c *Client) Acos(ctx context.Context, x float64) (float64, error) {
	return c.callFloat(ctx, "acos", ftoa(x))
}

func (c *Client) Log10(ctx context.Context, x float64) (float64, error) {
	return c.callFloat(ctx, "log10", ftoa(x))
}

func (c *Client) Sin(ctx context.Context, x float64) (float64, error) {
	return c.callFloat(ctx, "sin", ftoa(x))
}

func (c *Client) Sinh(ctx context.Context, x float64) (float64, error) {
	return c.callFloat(ctx, "sinh", ftoa(x))
}

func (c *Client) Tan(ctx context.Context, x float64) (float64, error) {
	return c.callFloat(ctx, "tan", ftoa(x))
}

// IsSorted reports whether values are in ascending order.
func (c *Client) IsSorted(ctx context.Context, values ...int) (bool, error) {
	return c.callBool(ctx, "isSorted", itoas(values)...)
}

// IndexOf returns the first position of target inside array, or -1.
func (c *Client) IndexOf(ctx context.Context, array, target []bool) (int, error) {
	params := make([]string, 0, 1+len(array)+len(target))
	params = append(params, itoa(len(array)))
	for _, b := range append(append([]bool{}, array...), target...) {
		params = append(params, strconv.FormatBool(b))
	}
	return c.callInt(ctx, "indexOf", params...)
}

// MeanOf returns the arithmetic mean of values.
func (c *Client) MeanOf(ctx context.Context, values ...int) (float64, error) {
	return c.callFloat(ctx, "meanOf", itoas(values)...)
}

func (c *Client) Min(ctx context.Context, values ...int) (int, error) {
	return c.callInt(ctx, "min", itoas(values)...)
}

// Sort returns values with the range [from, to) sorted ascending.
func (c *Client) Sort(ctx context.Context, from, to int, values ...int8) ([]int8, error) {
	params := make([]string, 0, 2+len(values))
	params = append(params, itoa(from), itoa(to))
	for _, v := range values {
		params = append(params, strconv.Itoa(int(v)))
	}

	resp, err := c.Call(ctx, "sort", params...)
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return []int8{}, nil
	}
	fields := strings.Split(resp, request.Separator)
	out := make([]int8, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 8)
		if err != nil {
			return nil, unexpected("sort", resp)
		}
		out[i] = int8(v)
	}
	return out, nil
}

func (c *Client) callInt(ctx context.Context, name string, params ...string) (int, error) {
	resp, err := c.Call(ctx, name, params...)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(resp, 10, 32)
	if err != nil {
		return 0, unexpected(name, resp)
	}
	return int(v), nil
}

func (c *Client) callFloat(ctx context.Context, name string, params ...string) (float64, error) {
	resp, err := c.Call(ctx, name, params...)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, unexpected(name, resp)
	}
	return v, nil
}

func (c *Client) callBool(ctx context.Context, name string, params ...string) (bool, error) {
	resp, err := c.Call(ctx, name, params...)
	if err != nil {
		return false, err
	}
	switch resp {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, unexpected(name, resp)
	}
}

func unexpected(name, resp string) error {
	return fmt.Errorf("%s: %w %q", name, ErrUnexpectedResponse, resp)
}

func itoa(n int) string { return strconv.Itoa(n) }

func itoas(values []int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func ftoa(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) }
