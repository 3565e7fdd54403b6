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
	"errors"
	"fmt"
	"math"
	"testing"
)

const tol = 1e-5

// simulate runs y[n] = Σ a[m]·y[n-1-m] for steps outputs from the given
// state (most recent first).
func simulate(a []float32, state []float64, steps int) []float64 {
	s := append([]float64(nil), state...)
	out := make([]float64, steps)
	for n := range steps {
		var y float64
		for m := range a {
			y += float64(a[m]) * s[m]
		}
		copy(s[1:], s[:len(s)-1])
		s[0] = y
		out[n] = y
	}
	return out
}

var feedbackCases = [][]float32{
	{0.5},
	{-0.3},
	{0.9},
	{0.6, 0.2},
	{1.2, -0.5},
	{0.5, 0.2, -0.1},
	{0.4, 0.2, 0.1, 0.05},
}

func TestRMatchesSimulation(t *testing.T) {
	for _, a := range feedbackCases {
		for _, tw := range []int{4, 32, 64, 256} {
			t.Run(fmt.Sprintf("a=%v/T=%d", a, tw), func(t *testing.T) {
				fb := FromRows([][]float32{a})
				r := R(fb, 0, tw)
				k := len(a)
				if r.Rows() != tw || r.Cols() != k {
					t.Fatalf("R is %dx%d, want %dx%d", r.Rows(), r.Cols(), tw, k)
				}
				for j := range k {
					state := make([]float64, k)
					state[j] = 1
					want := simulate(a, state, tw)
					for n := range tw {
						if d := math.Abs(float64(r.At(n, j)) - want[n]); d > tol {
							t.Fatalf("R[%d][%d] = %g, simulated %g", n, j, r.At(n, j), want[n])
						}
					}
				}
			})
		}
	}
}

func TestRSelectsScanRow(t *testing.T) {
	fb := FromRows([][]float32{{0.5}, {0.25}})
	r := R(fb, 1, 3)
	want := []float32{0.25, 0.0625, 0.015625}
	for n, w := range want {
		if math.Abs(float64(r.At(n, 0)-w)) > tol {
			t.Errorf("R[%d] = %g, want %g", n, r.At(n, 0), w)
		}
	}
}

func TestBReducesToScaledR(t *testing.T) {
	for _, a := range feedbackCases {
		fb := FromRows([][]float32{a})
		ff := []float32{0.75}
		b, err := B(ff, fb, 0, 16, false)
		if err != nil {
			t.Fatalf("B: %v", err)
		}
		r := R(fb, 0, 16)
		if b.Rows() != r.Rows() || b.Cols() != r.Cols() {
			t.Fatalf("B is %dx%d, R is %dx%d", b.Rows(), b.Cols(), r.Rows(), r.Cols())
		}
		for i := range r.Rows() {
			for j := range r.Cols() {
				if math.Abs(float64(b.At(i, j)-0.75*r.At(i, j))) > tol {
					t.Fatalf("a=%v: B[%d][%d] = %g, want %g", a, i, j, b.At(i, j), 0.75*r.At(i, j))
				}
			}
		}
	}
}

// The border column must equal the zero-input response to the steady state
// a replicated border sample induces.
func TestBClampBorderColumn(t *testing.T) {
	for _, a := range feedbackCases {
		if a[0] >= 0.9 {
			continue
		}
		t.Run(fmt.Sprintf("a=%v", a), func(t *testing.T) {
			fb := FromRows([][]float32{a})
			ff := []float32{0.5}
			const tw = 8
			b, err := B(ff, fb, 0, tw, true)
			if err != nil {
				t.Fatalf("B: %v", err)
			}
			k := len(a)
			if b.Cols() != k+1 {
				t.Fatalf("B has %d columns, want %d", b.Cols(), k+1)
			}

			var sum float64
			for _, v := range a {
				sum += float64(v)
			}
			steady := 0.5 / (1 - sum) // b0·x0/(1-Σa) with x0 = 1
			state := make([]float64, k)
			for j := range state {
				state[j] = steady
			}
			want := simulate(a, state, tw)
			for n := range tw {
				if d := math.Abs(float64(b.At(n, k)) - want[n]); d > tol {
					t.Errorf("B[%d][%d] = %g, want %g", n, k, b.At(n, k), want[n])
				}
			}
		})
	}
}

func TestBErrors(t *testing.T) {
	fb := FromRows([][]float32{{1}})
	if _, err := B([]float32{1}, fb, 0, 4, true); !errors.Is(err, ErrUnstable) {
		t.Errorf("B with unit gain = %v, want ErrUnstable", err)
	}
	if _, err := B([]float32{1}, fb, 0, 4, false); err != nil {
		t.Errorf("B without clamp must not need a steady state: %v", err)
	}
	if _, err := B([]float32{1}, fb, 2, 4, false); !errors.Is(err, ErrShape) {
		t.Errorf("B with bad scan = %v, want ErrShape", err)
	}
}

func TestCarryMatrix(t *testing.T) {
	a := []float32{0.6, 0.2}
	fb := FromRows([][]float32{a})
	const tw = 6
	c, err := CarryMatrix(fb, 0, tw)
	if err != nil {
		t.Fatal(err)
	}
	// A tail (y[-2], y[-1]) carried over one zero-input tile lands on
	// (y[tw-2], y[tw-1]).
	tail := []float32{0.3, -1.2}
	got, err := MultVec(c, tail)
	if err != nil {
		t.Fatal(err)
	}
	out := simulate(a, []float64{float64(tail[1]), float64(tail[0])}, tw)
	want := out[tw-2:]
	for i := range want {
		if math.Abs(float64(got[i])-want[i]) > tol {
			t.Errorf("carry[%d] = %g, want %g", i, got[i], want[i])
		}
	}

	if _, err := CarryMatrix(fb, 0, 1); !errors.Is(err, ErrShape) {
		t.Errorf("CarryMatrix with tile < order = %v, want ErrShape", err)
	}
}

// Eight ones through y[n] = x[n] + 0.5·y[n-1] in tiles of four, composed
// from within-tile results and the boundary operators.
func TestTiledCompositionMatchesDirect(t *testing.T) {
	const (
		tw    = 4
		tiles = 2
		k     = 1
		width = tw * tiles
	)
	fb := FromRows([][]float32{{0.5}})
	ff := []float32{1}

	b, err := B(ff, fb, 0, tw, false)
	if err != nil {
		t.Fatal(err)
	}
	carry, err := CarryMatrix(fb, 0, tw)
	if err != nil {
		t.Fatal(err)
	}
	toState := Antidiagonal(k)
	correction, err := Mult(b, toState)
	if err != nil {
		t.Fatal(err)
	}

	x := make([]float32, width)
	for i := range x {
		x[i] = 1
	}

	// Within-tile results with zero incoming state and unit feedforward.
	raw := make([]float32, width)
	for tile := range tiles {
		var prev float32
		for i := range tw {
			n := tile*tw + i
			raw[n] = x[n] + 0.5*prev
			prev = raw[n]
		}
	}

	// Carries, sequential over tiles.
	tails := make([][]float32, tiles)
	for tile := range tiles {
		tails[tile] = append([]float32(nil), raw[(tile+1)*tw-k:(tile+1)*tw]...)
		if tile > 0 {
			add, err := MultVec(carry, tails[tile-1])
			if err != nil {
				t.Fatal(err)
			}
			for i := range add {
				tails[tile][i] += add[i]
			}
		}
	}

	y := make([]float32, width)
	for tile := range tiles {
		var fix []float32
		if tile > 0 {
			fix, err = MultVec(correction, tails[tile-1])
			if err != nil {
				t.Fatal(err)
			}
		}
		for i := range tw {
			n := tile*tw + i
			y[n] = ff[0] * raw[n]
			if fix != nil {
				y[n] += fix[i]
			}
		}
	}

	for n := range width {
		want := 2 - math.Pow(0.5, float64(n))
		if math.Abs(float64(y[n])-want) > tol {
			t.Errorf("y[%d] = %g, want %g", n, y[n], want)
		}
	}
}

func TestSteadyStateGain(t *testing.T) {
	fb := FromRows([][]float32{{0.5}, {0.6, 0.2}})
	g, err := SteadyStateGain(fb, 0)
	if err != nil || math.Abs(float64(g)-2) > tol {
		t.Errorf("gain = %g, %v; want 2", g, err)
	}
	g, err = SteadyStateGain(fb, 1)
	if err != nil || math.Abs(float64(g)-5) > 1e-4 {
		t.Errorf("gain = %g, %v; want 5", g, err)
	}
}

func TestGaussianWeightsUnitDCGain(t *testing.T) {
	for _, sigma := range []float64{0.5, 1, 2, 2.5, 5, 16, 32, 64} {
		ff, fb, err := GaussianWeights(sigma)
		if err != nil {
			t.Fatalf("sigma=%g: %v", sigma, err)
		}
		if len(fb) != 3 {
			t.Fatalf("sigma=%g: %d feedback coefficients, want 3", sigma, len(fb))
		}
		g, err := SteadyStateGain(FromRows([][]float32{fb}), 0)
		if err != nil {
			t.Fatalf("sigma=%g: %v", sigma, err)
		}
		if d := math.Abs(float64(ff)*float64(g) - 1); d > 1e-5 {
			t.Errorf("sigma=%g: DC gain %g, want 1", sigma, ff*g)
		}
	}
	if _, _, err := GaussianWeights(0.1); err == nil {
		t.Error("sigma below 0.5 must fail")
	}
}
