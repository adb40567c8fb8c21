// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"math"
	"strconv"
	"strings"
)

// formatFloat renders f the way bridge clients parse doubles: integral
// values keep a ".0", magnitudes outside [1e-3, 1e7) use "E" notation
// without a plus sign, and non-finite values are NaN, Infinity, -Infinity.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	if abs := math.Abs(f); abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	s := strconv.FormatFloat(f, 'E', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, err := strconv.Atoi(exp)
	if err != nil {
		return s
	}
	return mantissa + "E" + strconv.Itoa(e)
}

func formatInt[T int | int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func formatBytes(values []int8) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	return sb.String()
}
