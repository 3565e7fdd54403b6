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

package coeff

import (
	"math"

	"github.com/pkg/errors"
)

// ErrUnstable is returned when the steady-state gain of a scan is undefined,
// i.e. its feedback coefficients sum to one.
var ErrUnstable = errors.New("coeff: feedback coefficients have no steady state")

// R returns the tileWidth×k matrix (k = feedback.Cols()) mapping the state a
// tile inherits from its predecessor to that tile's zero-input outputs.
// Column j is obtained by running the recursion of the given scan for
// tileWidth steps from a unit value of y[-1-j] and zero everywhere else.
//
// The last k rows map the incoming state to the outgoing tail.
func R(feedback *Matrix, scan, tileWidth int) *Matrix {
	k := feedback.Cols()
	r := New(tileWidth, k)
	if tileWidth <= 0 || k == 0 {
		return r
	}
	a := feedback.Row(scan)

	// Accumulate in float64 so long tiles do not drift from the simulated
	// recursion.
	state := make([]float64, k)
	for j := range k {
		clear(state)
		state[j] = 1
		for n := range tileWidth {
			var y float64
			for m := range k {
				y += float64(a[m]) * state[m]
			}
			copy(state[1:], state[:k-1])
			state[0] = y
			r.Set(n, j, float32(y))
		}
	}
	return r
}

// B returns the operator that turns a tile's raw within-tile result into the
// true filter output. Raw results are computed with unit feedforward; B folds
// in feedfwd[scan] and applies the state inherited from the previous tile:
//
//	y = feedfwd[scan]·raw + B·[state; border]
//
// Without clampBorder, B is feedfwd[scan]·R (tileWidth×k). With clampBorder
// an extra column maps the border input sample to the first tile's
// correction, assuming the input is replicated beyond the image edge so the
// state before the first tile is the steady-state response to that sample.
func B(feedfwd []float32, feedback *Matrix, scan, tileWidth int, clampBorder bool) (*Matrix, error) {
	if scan < 0 || scan >= len(feedfwd) || scan >= feedback.Rows() {
		return nil, errors.Wrapf(ErrShape, "B: scan %d out of range (%d feedforward, %d feedback rows)",
			scan, len(feedfwd), feedback.Rows())
	}
	k := feedback.Cols()
	r := R(feedback, scan, tileWidth)
	b0 := feedfwd[scan]

	cols := k
	var gain float32
	if clampBorder {
		g, err := SteadyStateGain(feedback, scan)
		if err != nil {
			return nil, errors.WithMessagef(err, "B: scan %d", scan)
		}
		gain = g
		cols++
	}

	b := New(tileWidth, cols)
	for i := range tileWidth {
		var rowSum float32
		for j := range k {
			rij := r.At(i, j)
			b.Set(i, j, b0*rij)
			rowSum += rij
		}
		if clampBorder {
			b.Set(i, k, b0*gain*rowSum)
		}
	}
	return b, nil
}

// SteadyStateGain returns 1/(1-Σa) for the given scan: the raw output a scan
// settles to when fed a constant unit input forever.
func SteadyStateGain(feedback *Matrix, scan int) (float32, error) {
	var sum float64
	for _, a := range feedback.Row(scan) {
		sum += float64(a)
	}
	d := 1 - sum
	if math.Abs(d) < 1e-12 {
		return 0, errors.Wrapf(ErrUnstable, "scan %d", scan)
	}
	return float32(1 / d), nil
}

// CarryMatrix returns the k×k operator advancing a tile tail (natural order)
// by one tile: Mult(last k rows of R, Antidiagonal(k)).
func CarryMatrix(feedback *Matrix, scan, tileWidth int) (*Matrix, error) {
	k := feedback.Cols()
	if tileWidth < k {
		return nil, errors.Wrapf(ErrShape, "CarryMatrix: tile width %d smaller than order %d", tileWidth, k)
	}
	r := R(feedback, scan, tileWidth)
	return Mult(r.Slice(tileWidth-k, tileWidth), Antidiagonal(k))
}

// GaussianWeights returns third-order recursive Gaussian coefficients
// (Young and van Vliet) approximating a Gaussian of the given standard
// deviation when applied as a causal followed by an anticausal scan.
func GaussianWeights(sigma float64) (feedfwd float32, feedback []float32, err error) {
	var q float64
	switch {
	case sigma >= 2.5:
		q = 0.98711*sigma - 0.96330
	case sigma >= 0.5:
		q = 3.97156 - 4.14554*math.Sqrt(1-0.26891*sigma)
	default:
		return 0, nil, errors.Errorf("GaussianWeights: sigma %g below 0.5", sigma)
	}
	q2, q3 := q*q, q*q*q
	b0 := 1.57825 + 2.44413*q + 1.4281*q2 + 0.422205*q3
	b1 := 2.44413*q + 2.85619*q2 + 1.26661*q3
	b2 := -(1.4281*q2 + 1.26661*q3)
	b3 := 0.422205 * q3

	feedback = []float32{float32(b1 / b0), float32(b2 / b0), float32(b3 / b0)}

	// Unit DC gain must hold for the rounded feedback, not the exact one:
	// 1-Σa is small for wide kernels.
	sum := 0.0
	for _, a := range feedback {
		sum += float64(a)
	}
	feedfwd = float32(1 - sum)
	return feedfwd, feedback, nil
}
