// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher maps request text to numeric and sequence operations.
//
// # Command Table
//
// The table is built once by New and never changes. Each Command carries
// its argument shape, the operation to call and a fallback literal:
//
//	nextPrime;<int>                      -> int    (fallback "0")
//	isPrime;<int>                        -> bool   (fallback "0")
//	gcd|pow|stirling;<int>;<int>         -> int    (fallback "0")
//	acos|log10|sin|sinh|tan;<float>      -> float  (fallback "0.0")
//	isSorted;<int>...                    -> bool   (fallback "false")
//	indexOf;<n>;<bool>{n};<bool>...      -> int    (fallback "0")
//	meanOf;<int>...                      -> float  (fallback "0.0")
//	min;<int>...                         -> int    (fallback "0")
//	sort;<from>;<to>;<byte>...           -> list   (fallback "")
//
// # Fallback
//
// Any failure while converting arguments or running the operation
// collapses into the command's fallback literal. There is no partial
// result, and the client never sees an error message:
//
//	d := dispatcher.New(numeric.Library{}, sequence.Library{})
//	res, _ := d.Dispatch("gcd;12;18")  // res.Response == "6"
//	res, _ = d.Dispatch("gcd;12;abc")  // res.Response == "0", res.Fallback
//
// An unknown command name is not answered: Dispatch returns
// errors.ErrUnknownCommand and the server closes the connection.
//
// # Formatting
//
// Integers are decimal, booleans are "true" or "false", doubles keep a
// fractional part ("2.0") and switch to "E" notation outside [1e-3, 1e7).
// Sort results are joined with ";".
package dispatcher
