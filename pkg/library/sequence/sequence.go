// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sequence provides the default array operations served by mBridge.
package sequence

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrEmpty is returned by aggregations over an empty array.
	ErrEmpty = errors.New("array must not be empty")

	// ErrInvalidRange is returned when sort bounds do not describe a range
	// of the array.
	ErrInvalidRange = errors.New("invalid range")
)

// Library is the default implementation. The zero value is ready to use.
type Library struct{}

// IsSorted reports whether a is in non-decreasing order.
func (Library) IsSorted(a []int) bool {
	return slices.IsSorted(a)
}

// IndexOf returns the start of the first occurrence of target in array,
// 0 for an empty target and -1 when target does not occur.
func (Library) IndexOf(array, target []bool) int {
	if len(target) == 0 {
		return 0
	}
outer:
	for i := 0; i <= len(array)-len(target); i++ {
		for j := range target {
			if array[i+j] != target[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// MeanOf returns the arithmetic mean of a using a running mean, which does
// not overflow for large inputs.
func (Library) MeanOf(a []int) (float64, error) {
	if len(a) == 0 {
		return 0, ErrEmpty
	}
	mean := float64(a[0])
	for i := 1; i < len(a); i++ {
		v := float64(a[i])
		if !math.IsInf(mean, 0) && !math.IsNaN(mean) {
			mean += (v - mean) / float64(i+1)
		}
	}
	return mean, nil
}

// Min returns the smallest element of a.
func (Library) Min(a []int) (int, error) {
	if len(a) == 0 {
		return 0, ErrEmpty
	}
	return slices.Min(a), nil
}

// Sort returns a copy of a with the elements in [from, to) sorted in
// ascending order. Elements outside the range keep their positions.
func (Library) Sort(a []int8, from, to int) ([]int8, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, from, to)
	}
	if from < 0 || to > len(a) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrInvalidRange, from, to, len(a))
	}
	out := slices.Clone(a)
	slices.Sort(out[from:to])
	return out, nil
}
