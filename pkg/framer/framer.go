// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package framer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	mberrors "github.com/absmach/mbridge/pkg/errors"
)

const (
	// Terminator marks the end of every frame.
	Terminator byte = '\n'

	// ChunkSize is the size of a single read from the underlying stream.
	ChunkSize = 512

	// DefaultMaxFrameSize bounds a frame that has not seen its terminator yet.
	DefaultMaxFrameSize = 1 << 20
)

// Limits constrains frame memory use.
type Limits struct {
	MaxFrameSize int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxFrameSize: DefaultMaxFrameSize}
}

// Reader reads terminator-delimited frames from a byte stream.
// It is not safe for concurrent use; a connection has exactly one reader.
type Reader struct {
	r      io.Reader
	limits Limits
	chunk  []byte
	buf    []byte
	// scanned is the prefix of buf known to hold no terminator.
	scanned int
	err     error
}

// NewReader returns a Reader over r. A non-positive MaxFrameSize falls back
// to DefaultMaxFrameSize.
func NewReader(r io.Reader, limits Limits) *Reader {
	if limits.MaxFrameSize <= 0 {
		limits.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Reader{
		r:      r,
		limits: limits,
		chunk:  make([]byte, ChunkSize),
	}
}

// ReadFrame returns the next frame payload without its terminator.
//
// It returns io.EOF once the peer has closed the stream. Bytes of a frame
// whose terminator never arrived are discarded at EOF. Bytes that follow a
// terminator in the same read are kept for the next call.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		if j := bytes.IndexByte(r.buf[r.scanned:], Terminator); j >= 0 {
			i := r.scanned + j
			frame := make([]byte, i)
			copy(frame, r.buf[:i])
			r.buf = r.buf[i+1:]
			r.scanned = 0
			return frame, nil
		}
		r.scanned = len(r.buf)
		if len(r.buf) > r.limits.MaxFrameSize {
			return nil, mberrors.ErrFrameTooLarge
		}
		if r.err != nil {
			err := r.err
			if errors.Is(err, io.EOF) {
				r.buf = nil
				r.scanned = 0
			} else {
				// Timeouts and other read errors may be retried.
				r.err = nil
			}
			return nil, err
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			r.err = err
			continue
		}
		if n == 0 {
			// A reader returning 0, nil is treated as a closed stream.
			r.err = io.EOF
		}
	}
}

// Buffered returns the number of bytes read but not yet returned as a frame.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// WriteFrame writes payload followed by the terminator in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, payload...)
	out = append(out, Terminator)
	_, err := w.Write(out)
	return err
}

// Decode interprets a frame as UTF-8 text and trims surrounding whitespace.
func Decode(frame []byte) (string, error) {
	if !utf8.Valid(frame) {
		return "", mberrors.ErrMalformedFrame
	}
	return strings.TrimSpace(string(frame)), nil
}
