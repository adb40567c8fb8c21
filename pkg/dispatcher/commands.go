// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"github.com/absmach/mbridge/pkg/request"
)

func commands(num Numeric, seq Sequence) []Command {
	return []Command{
		unaryInt("nextPrime", num.NextPrime),
		{
			Name:   "isPrime",
			Args:   []ArgKind{ArgInt},
			Result: ResultBool,
			// isPrime has always answered "0" on failure, not "false".
			Fallback: FallbackInt,
			run: func(f request.Fields) (string, error) {
				n, err := f.Int(1)
				if err != nil {
					return "", err
				}
				return formatBool(num.IsPrime(n)), nil
			},
		},
		binaryInt("gcd", num.GCD),
		binaryInt("pow", num.Pow),
		binaryInt("stirling", num.StirlingS2),
		unaryFloat("acos", num.Acos),
		unaryFloat("log10", num.Log10),
		unaryFloat("sin", num.Sin),
		unaryFloat("sinh", num.Sinh),
		unaryFloat("tan", num.Tan),
		{
			Name:     "isSorted",
			Args:     []ArgKind{ArgInts},
			Result:   ResultBool,
			Fallback: FallbackBool,
			run: func(f request.Fields) (string, error) {
				values, err := f.Ints(1, f.Args())
				if err != nil {
					return "", err
				}
				return formatBool(seq.IsSorted(values)), nil
			},
		},
		{
			Name:     "indexOf",
			Args:     []ArgKind{ArgInt, ArgBools, ArgBools},
			Result:   ResultInt,
			Fallback: FallbackInt,
			run: func(f request.Fields) (string, error) {
				size, err := f.Int(1)
				if err != nil {
					return "", err
				}
				array, err := f.Bools(2, size)
				if err != nil {
					return "", err
				}
				target, err := f.Bools(2+size, f.Len()-2-size)
				if err != nil {
					return "", err
				}
				return formatInt(seq.IndexOf(array, target)), nil
			},
		},
		{
			Name:     "meanOf",
			Args:     []ArgKind{ArgInts},
			Result:   ResultFloat,
			Fallback: FallbackFloat,
			run: func(f request.Fields) (string, error) {
				values, err := f.Ints(1, f.Args())
				if err != nil {
					return "", err
				}
				mean, err := seq.MeanOf(values)
				if err != nil {
					return "", err
				}
				return formatFloat(mean), nil
			},
		},
		{
			Name:     "min",
			Args:     []ArgKind{ArgInts},
			Result:   ResultInt,
			Fallback: FallbackInt,
			run: func(f request.Fields) (string, error) {
				values, err := f.Ints(1, f.Args())
				if err != nil {
					return "", err
				}
				m, err := seq.Min(values)
				if err != nil {
					return "", err
				}
				return formatInt(m), nil
			},
		},
		{
			Name:     "sort",
			Args:     []ArgKind{ArgInt, ArgInt, ArgBytes},
			Result:   ResultList,
			Fallback: FallbackList,
			run: func(f request.Fields) (string, error) {
				values, err := f.Bytes(3, f.Len()-3)
				if err != nil {
					return "", err
				}
				// Nothing to sort: the bounds are not looked at.
				if len(values) == 0 {
					return "", nil
				}
				from, err := f.Int(1)
				if err != nil {
					return "", err
				}
				to, err := f.Int(2)
				if err != nil {
					return "", err
				}
				sorted, err := seq.Sort(values, from, to)
				if err != nil {
					return "", err
				}
				return formatBytes(sorted), nil
			},
		},
	}
}

func unaryInt(name string, op func(int) (int, error)) Command {
	return Command{
		Name:     name,
		Args:     []ArgKind{ArgInt},
		Result:   ResultInt,
		Fallback: FallbackInt,
		run: func(f request.Fields) (string, error) {
			n, err := f.Int(1)
			if err != nil {
				return "", err
			}
			v, err := op(n)
			if err != nil {
				return "", err
			}
			return formatInt(v), nil
		},
	}
}

func binaryInt[T int | int64](name string, op func(int, int) (T, error)) Command {
	return Command{
		Name:     name,
		Args:     []ArgKind{ArgInt, ArgInt},
		Result:   ResultInt,
		Fallback: FallbackInt,
		run: func(f request.Fields) (string, error) {
			a, err := f.Int(1)
			if err != nil {
				return "", err
			}
			b, err := f.Int(2)
			if err != nil {
				return "", err
			}
			v, err := op(a, b)
			if err != nil {
				return "", err
			}
			return formatInt(v), nil
		},
	}
}

func unaryFloat(name string, op func(float64) float64) Command {
	return Command{
		Name:     name,
		Args:     []ArgKind{ArgFloat},
		Result:   ResultFloat,
		Fallback: FallbackFloat,
		run: func(f request.Fields) (string, error) {
			x, err := f.Float(1)
			if err != nil {
				return "", err
			}
			return formatFloat(op(x)), nil
		},
	}
}
