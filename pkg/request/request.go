// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package request splits request text into fields and converts fields to
// typed values on demand.
package request

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	mberrors "github.com/absmach/mbridge/pkg/errors"
)

// Separator splits a request into fields. It cannot be escaped.
const Separator = ";"

// ErrInvalidRange is returned when a helper is asked for fields that do not
// exist, or for a negative number of fields.
var ErrInvalidRange = errors.New("field range out of bounds")

// ParseError reports a field that could not be converted.
type ParseError struct {
	Index int    // Field index
	Field string // Raw field value
	Kind  string // Target type (int, float, byte)
	Err   error  // Underlying conversion error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("field %d %q is not a valid %s: %v", e.Index, e.Field, e.Kind, e.Err)
}

// Unwrap allows errors.Is(err, errors.ErrInvalidInput).
func (e *ParseError) Unwrap() []error {
	return []error{mberrors.ErrInvalidInput, e.Err}
}

// Fields is a request split on Separator. Field 0 is the command name.
type Fields []string

// Split splits text on every Separator. Trailing empty fields are dropped,
// so "sort;0;0;" has three fields and ";;" has none.
func Split(text string) Fields {
	parts := strings.Split(text, Separator)
	end := len(parts)
	for end > 0 && parts[end-1] == "" {
		end--
	}
	return Fields(parts[:end])
}

// Command returns field 0, or "" when there are no fields.
func (f Fields) Command() string {
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// Len returns the number of fields, command included.
func (f Fields) Len() int {
	return len(f)
}

// Args returns the number of fields after the command.
func (f Fields) Args() int {
	if len(f) == 0 {
		return 0
	}
	return len(f) - 1
}

func (f Fields) field(i int) (string, error) {
	if i < 0 || i >= len(f) {
		return "", fmt.Errorf("%w: field %d of %d", ErrInvalidRange, i, len(f))
	}
	return f[i], nil
}

func (f Fields) span(begin, length int) error {
	if length < 0 || begin < 0 || begin+length > len(f) {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrInvalidRange, begin, begin+length, len(f))
	}
	return nil
}

// Int parses field i as a 32-bit signed decimal integer.
func (f Fields) Int(i int) (int, error) {
	s, err := f.field(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, &ParseError{Index: i, Field: s, Kind: "int", Err: err}
	}
	return int(v), nil
}

// Float parses field i as a 64-bit float. Surrounding whitespace and a
// trailing d, D, f or F type suffix are accepted. Values too large for a
// float64 become infinities. Digit separators and the lower case inf and
// nan spellings are rejected.
func (f Fields) Float(i int) (float64, error) {
	s, err := f.field(i)
	if err != nil {
		return 0, err
	}
	v, err := parseFloat(s)
	if err != nil {
		return 0, &ParseError{Index: i, Field: s, Kind: "float", Err: err}
	}
	return v, nil
}

// Ints parses fields [begin, begin+length) as 32-bit integers.
func (f Fields) Ints(begin, length int) ([]int, error) {
	if err := f.span(begin, length); err != nil {
		return nil, err
	}
	out := make([]int, length)
	for i := range out {
		v, err := f.Int(begin + i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Bytes parses fields [begin, begin+length) as 32-bit integers narrowed to
// signed bytes. Values outside [-128, 127] wrap around.
func (f Fields) Bytes(begin, length int) ([]int8, error) {
	if err := f.span(begin, length); err != nil {
		return nil, err
	}
	out := make([]int8, length)
	for i := range out {
		s := f[begin+i]
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, &ParseError{Index: begin + i, Field: s, Kind: "byte", Err: err}
		}
		out[i] = int8(v)
	}
	return out, nil
}

// Bools reads fields [begin, begin+length) as booleans. "true" in any case
// is true and every other value is false, so only the range can fail.
func (f Fields) Bools(begin, length int) ([]bool, error) {
	if err := f.span(begin, length); err != nil {
		return nil, err
	}
	out := make([]bool, length)
	for i := range out {
		out[i] = strings.EqualFold(f[begin+i], "true")
	}
	return out, nil
}

// parseFloat accepts the decimal and hexadecimal forms strconv.ParseFloat
// knows, without digit separators. The only word forms are NaN and
// Infinity, optionally signed and case-sensitive.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	syntaxErr := &strconv.NumError{Func: "ParseFloat", Num: s, Err: strconv.ErrSyntax}

	body := s
	if body != "" && (body[0] == '+' || body[0] == '-') {
		body = body[1:]
	}
	switch body {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		if s[0] == '-' {
			return math.Inf(-1), nil
		}
		return math.Inf(1), nil
	}

	if strings.ContainsRune(s, '_') {
		return 0, syntaxErr
	}
	if n := len(s); n > 1 {
		switch s[n-1] {
		case 'd', 'D', 'f', 'F':
			s = s[:n-1]
		}
	}
	if lower := strings.ToLower(strings.TrimLeft(s, "+-")); strings.HasPrefix(lower, "inf") || strings.HasPrefix(lower, "nan") {
		return 0, syntaxErr
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return v, nil
		}
		return 0, err
	}
	return v, nil
}
