// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package numeric provides the default number theory and floating point
// operations served by mBridge. Integer operations use 32-bit semantics and
// report overflow as an error instead of wrapping.
package numeric

import (
	"errors"
	"math"
	"math/bits"
)

var (
	// ErrNegative is returned for an argument that must not be negative.
	ErrNegative = errors.New("argument must not be negative")

	// ErrOverflow is returned when a result does not fit its type.
	ErrOverflow = errors.New("integer overflow")

	// ErrTooLarge is returned when k exceeds n in a combinatorial function.
	ErrTooLarge = errors.New("k must not exceed n")
)

// Library is the default implementation. The zero value is ready to use.
type Library struct{}

// NextPrime returns the smallest prime greater than or equal to n.
func (Library) NextPrime(n int) (int, error) {
	if n < 0 {
		return 0, ErrNegative
	}
	if n <= 2 {
		return 2, nil
	}
	if n%2 == 0 {
		n++
	}
	for ; n <= math.MaxInt32; n += 2 {
		if isPrime(n) {
			return n, nil
		}
	}
	return 0, ErrOverflow
}

// IsPrime reports whether n is prime.
func (Library) IsPrime(n int) bool {
	return isPrime(n)
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n < 4 {
		return true
	}
	if n%2 == 0 || n%3 == 0 {
		return false
	}
	for i := 5; i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

// GCD returns the greatest common divisor of a and b, always non-negative.
// GCD(0, 0) is 0. It fails when the result is 2^31.
func (Library) GCD(a, b int) (int, error) {
	x, y := abs64(a), abs64(b)
	for y != 0 {
		x, y = y, x%y
	}
	if x > math.MaxInt32 {
		return 0, ErrOverflow
	}
	return int(x), nil
}

// Pow returns k raised to e.
func (Library) Pow(k, e int) (int, error) {
	if e < 0 {
		return 0, ErrNegative
	}
	result := int64(1)
	base := int64(k)
	for e > 0 {
		if e&1 == 1 {
			result *= base
			if result > math.MaxInt32 || result < math.MinInt32 {
				return 0, ErrOverflow
			}
		}
		e >>= 1
		if e > 0 {
			base *= base
			if base > math.MaxInt32 {
				return 0, ErrOverflow
			}
		}
	}
	return int(result), nil
}

// StirlingS2 returns the Stirling number of the second kind S(n, k), the
// number of ways to partition n elements into k non-empty subsets.
func (Library) StirlingS2(n, k int) (int64, error) {
	if k < 0 {
		return 0, ErrNegative
	}
	if k > n {
		return 0, ErrTooLarge
	}
	// row[j] holds S(i, j) for the current i. Only cells that can still
	// reach S(n, k) are computed; they never exceed the result.
	row := make([]uint64, k+1)
	row[0] = 1
	for i := 1; i <= n; i++ {
		top := min(i, k)
		low := max(1, k-(n-i))
		for j := top; j >= low; j-- {
			hi, lo := bits.Mul64(uint64(j), row[j])
			sum, carry := bits.Add64(lo, row[j-1], 0)
			if hi != 0 || carry != 0 || sum > math.MaxInt64 {
				return 0, ErrOverflow
			}
			row[j] = sum
		}
		row[0] = 0
	}
	return int64(row[k]), nil
}

// Acos returns the arc cosine of x. NaN outside [-1, 1].
func (Library) Acos(x float64) float64 { return math.Acos(x) }

// Log10 returns the decimal logarithm of x.
func (Library) Log10(x float64) float64 { return math.Log10(x) }

// Sin returns the sine of x.
func (Library) Sin(x float64) float64 { return math.Sin(x) }

// Sinh returns the hyperbolic sine of x.
func (Library) Sinh(x float64) float64 { return math.Sinh(x) }

// Tan returns the tangent of x.
func (Library) Tan(x float64) float64 { return math.Tan(x) }

func abs64(v int) int64 {
	x := int64(v)
	if x < 0 {
		return -x
	}
	return x
}
