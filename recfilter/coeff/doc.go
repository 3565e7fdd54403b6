// Copyright 2025 go-recfilter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coeff builds the small boundary-transfer operators that make a
// tiled recursive filter numerically equivalent to the direct recursion.
//
// A scan of order k computes
//
//	y[n] = b0·x[n] + a1·y[n-1] + ... + ak·y[n-k]
//
// with b0 the feedforward coefficient and a1..ak the feedback coefficients.
// Feedback coefficients are stored scan-major: row s of the feedback matrix
// holds a1..ak of scan s, padded with zeros up to the largest order.
//
// # Operators
//
//	R(feedback, scan, T)            // T×k zero-input response to the previous tile's state
//	B(feedfwd, feedback, scan, T, clamp) // feedforward-scaled R, plus a border column when clamped
//	Antidiagonal(k)                 // reverses tail order into state order
//
// State vectors are ordered most recent first: column j of R is the response
// to a unit value of y[-1-j]. Tile tails are stored in natural order, so the
// carry from one tile to the next is
//
//	tail[t] = intraTail[t] + Mult(R[T-k:], Antidiagonal(k)) · tail[t-1]
package coeff
