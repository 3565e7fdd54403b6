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

// Package kernel holds the per-line loops of a recursive filter scan: the
// direct recursion, the within-tile recursion, tail extraction, the carry
// across tiles and the completion of a tile from its inherited state.
//
// Every loop works on a Line in logical order; anticausal scans use a
// reversed Line so they are written exactly like causal ones.
package kernel

import (
	"github.com/ajroetker/go-highway/hwy/contrib/matvec"
	"github.com/ajroetker/go-highway/hwy/contrib/vec"
	"github.com/ajroetker/go-recfilter/recfilter/buffer"
	"github.com/ajroetker/go-recfilter/recfilter/coeff"
	"github.com/pkg/errors"
)

// Line addresses N elements of Data, Stride apart, starting at Start.
// A reversed line visits them from the last to the first.
type Line struct {
	Data    []float32
	Start   int
	Stride  int
	N       int
	Reverse bool
}

// LineOf returns line l of b along dimension d.
func LineOf(b *buffer.Buffer, d, l int, reverse bool) Line {
	return Line{
		Data:    b.Data(),
		Start:   b.LineStart(d, l),
		Stride:  b.Stride(d),
		N:       b.Dim(d),
		Reverse: reverse,
	}
}

// Index returns the storage offset of logical element p.
func (l Line) Index(p int) int {
	if l.Reverse {
		p = l.N - 1 - p
	}
	return l.Start + p*l.Stride
}

// At returns logical element p.
func (l Line) At(p int) float32 { return l.Data[l.Index(p)] }

// Set sets logical element p.
func (l Line) Set(p int, v float32) { l.Data[l.Index(p)] = v }

// Scan runs y[p] = b0·x[p] + Σ a[m]·y[p-1-m] over the whole line. With clamp
// the state before the line is the steady-state response to x[0]
// (b0·gain·x[0]); otherwise it is zero. src and dst may be the same line.
func Scan(src, dst Line, b0 float32, a []float32, clamp bool, gain float32) {
	state := make([]float32, len(a))
	if clamp && src.N > 0 {
		init := b0 * gain * src.At(0)
		for m := range state {
			state[m] = init
		}
	}
	for p := range src.N {
		y := b0 * src.At(p)
		for m, am := range a {
			y += am * state[m]
		}
		shift(state, y)
		dst.Set(p, y)
	}
}

// Intra runs the recursion with unit feedforward and zero initial state over
// tile t (width w) of the line.
func Intra(src, dst Line, a []float32, t, w int) {
	state := make([]float32, len(a))
	for i := range w {
		p := t*w + i
		y := src.At(p)
		for m, am := range a {
			y += am * state[m]
		}
		shift(state, y)
		dst.Set(p, y)
	}
}

// Tail copies the last len(tail) elements of tile t (width w) into tail, in
// natural order.
func Tail(src Line, tail []float32, t, w int) {
	k := len(tail)
	base := t*w + w - k
	for m := range tail {
		tail[m] = src.At(base + m)
	}
}

// Carry turns within-tile tails into true tails, sequentially over tiles:
//
//	tails[t] += carry · tails[t-1]
//
// tails holds one k-vector per tile back to back. initial, when non-nil, is
// the tail inherited by tile 0.
func Carry(tails []float32, k int, carry *coeff.Matrix, initial []float32) error {
	add := make([]float32, k)
	prev := initial
	for off := 0; off+k <= len(tails); off += k {
		cur := tails[off : off+k]
		if prev != nil {
			if err := coeff.MultVecTo(carry, prev, add); err != nil {
				return errors.Wrapf(err, "carry into tile %d", off/k)
			}
			vec.AddFloat32(cur, add)
		}
		prev = cur
	}
	return nil
}

// Contiguous reports whether the line is stored in logical order with unit
// stride, so that any run of it is a plain slice of Data.
func (l Line) Contiguous() bool { return l.Stride == 1 && !l.Reverse }

// Complete turns the raw result of tile t into the filter output in place:
//
//	y = b0·z + correction·prevTail
//
// correction is tileWidth×k and prevTail the true tail of tile t-1 (nil for
// the first tile). For the first tile of a clamped scan, border is the border
// column of the B operator and x0 the border input sample.
func Complete(z Line, t, w int, b0 float32, correction *coeff.Matrix, prevTail []float32, border []float32, x0 float32) {
	if z.Contiguous() {
		start := z.Start + t*w
		seg := z.Data[start : start+w]
		vec.ScaleFloat32(b0, seg)
		if prevTail != nil {
			add := make([]float32, w)
			matvec.MatVecFloat32(correction.Data(), w, correction.Cols(), prevTail, add)
			vec.AddFloat32(seg, add)
		} else if border != nil {
			vec.MulConstAddToFloat32(seg, x0, border[:w])
		}
		return
	}

	// Strided or reversed lines are not slices of Data.
	for i := range w {
		p := t*w + i
		y := b0 * z.At(p)
		if prevTail != nil {
			for j, cij := range correction.Row(i) {
				y += cij * prevTail[j]
			}
		} else if border != nil {
			y += border[i] * x0
		}
		z.Set(p, y)
	}
}

// shift pushes y into a most-recent-first state vector.
func shift(state []float32, y float32) {
	if len(state) == 0 {
		return
	}
	copy(state[1:], state[:len(state)-1])
	state[0] = y
}
