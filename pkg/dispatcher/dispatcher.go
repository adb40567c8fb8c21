// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	mberrors "github.com/absmach/mbridge/pkg/errors"
	"github.com/absmach/mbridge/pkg/request"
)

// Fallback literals returned when any step of a command fails.
const (
	FallbackBool  = "false"
	FallbackInt   = "0"
	FallbackFloat = "0.0"
	FallbackList  = ""
)

const separator = request.Separator

// ErrPanic wraps a panic recovered from an external operation.
var ErrPanic = errors.New("operation panicked")

// Numeric is the number theory and floating point collaborator.
type Numeric interface {
	NextPrime(n int) (int, error)
	IsPrime(n int) bool
	GCD(a, b int) (int, error)
	Pow(k, e int) (int, error)
	StirlingS2(n, k int) (int64, error)
	Acos(x float64) float64
	Log10(x float64) float64
	Sin(x float64) float64
	Sinh(x float64) float64
	Tan(x float64) float64
}

// Sequence is the array collaborator.
type Sequence interface {
	IsSorted(a []int) bool
	IndexOf(array, target []bool) int
	MeanOf(a []int) (float64, error)
	Min(a []int) (int, error)
	Sort(a []int8, from, to int) ([]int8, error)
}

// ArgKind describes one argument of a command.
type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgFloat
	// ArgInts consumes every remaining field as an int.
	ArgInts
	// ArgBools consumes a counted run of booleans.
	ArgBools
	// ArgBytes consumes every remaining field as a signed byte.
	ArgBytes
)

// String returns the placeholder used in usage strings.
func (k ArgKind) String() string {
	switch k {
	case ArgInt:
		return "<int>"
	case ArgFloat:
		return "<float>"
	case ArgInts:
		return "<int>..."
	case ArgBools:
		return "<bool>..."
	case ArgBytes:
		return "<byte>..."
	default:
		return "<?>"
	}
}

// ResultKind is the type of a successful response.
type ResultKind int

const (
	ResultInt ResultKind = iota
	ResultFloat
	ResultBool
	ResultList
)

// String returns a string representation of the result kind.
func (k ResultKind) String() string {
	switch k {
	case ResultInt:
		return "int"
	case ResultFloat:
		return "float"
	case ResultBool:
		return "bool"
	case ResultList:
		return "list"
	default:
		return "unknown"
	}
}

// Command describes one entry of the command table.
type Command struct {
	Name     string
	Args     []ArgKind
	Result   ResultKind
	Fallback string
	run      func(f request.Fields) (string, error)
}

// Usage returns the request shape, e.g. "gcd;<int>;<int>".
func (c Command) Usage() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, separator)
}

func (c Command) invoke(f request.Fields) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPanic, c.Name, r)
		}
	}()
	return c.run(f)
}

// Result is the outcome of one dispatched request.
type Result struct {
	// Command is field 0 of the request.
	Command string
	// Response is the payload of the response frame.
	Response string
	// Fallback is set when Response is the command's fallback literal.
	Fallback bool
	// Err is the failure that caused the fallback.
	Err error
}

// Dispatcher maps command names to operations. It holds no mutable state
// and is safe for concurrent use.
type Dispatcher struct {
	commands map[string]Command
}

// New builds the command table over the given collaborators.
func New(num Numeric, seq Sequence) *Dispatcher {
	cmds := commands(num, seq)
	d := &Dispatcher{commands: make(map[string]Command, len(cmds))}
	for _, c := range cmds {
		d.commands[c.Name] = c
	}
	return d
}

// Dispatch handles one request. A failure while converting arguments or
// running the operation yields the command's fallback literal and a nil
// error. The only error returned is errors.ErrUnknownCommand.
func (d *Dispatcher) Dispatch(text string) (Result, error) {
	fields := request.Split(text)
	name := fields.Command()

	cmd, ok := d.commands[name]
	if !ok {
		return Result{Command: name}, fmt.Errorf("%w: %q", mberrors.ErrUnknownCommand, name)
	}

	out, err := cmd.invoke(fields)
	if err != nil {
		return Result{Command: name, Response: cmd.Fallback, Fallback: true, Err: err}, nil
	}
	return Result{Command: name, Response: out}, nil
}

// Lookup returns the command registered under name.
func (d *Dispatcher) Lookup(name string) (Command, bool) {
	c, ok := d.commands[name]
	return c, ok
}

// Commands returns the command table sorted by name.
func (d *Dispatcher) Commands() []Command {
	out := make([]Command, 0, len(d.commands))
	for _, c := range d.commands {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Command) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
