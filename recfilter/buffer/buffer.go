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

// Package buffer provides the dense float32 arrays a recursive filter reads
// and writes.
//
// A Buffer stores up to five dimensions with the first dimension varying
// fastest, so a filter dimension d is addressed as a set of lines: every
// combination of the other coordinates names one line, and consecutive
// elements of a line are Stride(d) apart.
//
// Example usage:
//
//	img := buffer.New(640, 480)
//	for l := range img.Lines(1) {
//	    start := img.LineStart(1, l)
//	    // img.Data()[start + i*img.Stride(1)] is element i of column l
//	}
package buffer

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxDims is the largest supported rank: four filter dimensions plus a
// channel dimension.
const MaxDims = 5

// ErrShape is returned when a buffer does not have the expected shape.
var ErrShape = errors.New("buffer: shape mismatch")

// Buffer is a dense float32 array.
type Buffer struct {
	data    []float32
	shape   []int
	strides []int
}

// New creates a zeroed buffer with the given extents. It panics on a
// non-positive extent or more than MaxDims dimensions.
func New(shape ...int) *Buffer {
	if len(shape) == 0 || len(shape) > MaxDims {
		panic(fmt.Sprintf("buffer: rank %d not in [1, %d]", len(shape), MaxDims))
	}
	b := &Buffer{
		shape:   append([]int(nil), shape...),
		strides: make([]int, len(shape)),
	}
	n := 1
	for d, e := range shape {
		if e <= 0 {
			panic(fmt.Sprintf("buffer: extent %d of dimension %d", e, d))
		}
		b.strides[d] = n
		n *= e
	}
	b.data = make([]float32, n)
	return b
}

// FromSlice wraps a copy of data in a buffer of the given shape.
func FromSlice(data []float32, shape ...int) (*Buffer, error) {
	b := New(shape...)
	if len(data) != len(b.data) {
		return nil, errors.Wrapf(ErrShape, "FromSlice: %d values for shape %v", len(data), shape)
	}
	copy(b.data, data)
	return b, nil
}

// Rank returns the number of dimensions.
func (b *Buffer) Rank() int { return len(b.shape) }

// Shape returns a copy of the extents.
func (b *Buffer) Shape() []int { return append([]int(nil), b.shape...) }

// Dim returns the extent of dimension d.
func (b *Buffer) Dim(d int) int { return b.shape[d] }

// Len returns the number of elements.
func (b *Buffer) Len() int { return len(b.data) }

// Data returns the backing storage.
func (b *Buffer) Data() []float32 { return b.data }

// Stride returns the distance between consecutive elements of dimension d.
func (b *Buffer) Stride(d int) int { return b.strides[d] }

// Lines returns the number of lines along dimension d.
func (b *Buffer) Lines(d int) int { return len(b.data) / b.shape[d] }

// LineStart returns the offset of element 0 of line l along dimension d.
// Lines are numbered with the remaining dimensions in storage order.
func (b *Buffer) LineStart(d, l int) int {
	inner := b.strides[d] // product of extents before d
	lo := l % inner
	hi := l / inner
	return lo + hi*inner*b.shape[d]
}

func (b *Buffer) offset(idx []int) int {
	if len(idx) != len(b.shape) {
		panic(fmt.Sprintf("buffer: %d indices for rank %d", len(idx), len(b.shape)))
	}
	off := 0
	for d, i := range idx {
		off += i * b.strides[d]
	}
	return off
}

// At returns the element at the given coordinates.
func (b *Buffer) At(idx ...int) float32 {
	return b.data[b.offset(idx)]
}

// Set sets the element at the given coordinates.
func (b *Buffer) Set(v float32, idx ...int) {
	b.data[b.offset(idx)] = v
}

// Fill sets every element to v.
func (b *Buffer) Fill(v float32) {
	for i := range b.data {
		b.data[i] = v
	}
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{
		data:    make([]float32, len(b.data)),
		shape:   append([]int(nil), b.shape...),
		strides: append([]int(nil), b.strides...),
	}
	copy(c.data, b.data)
	return c
}

// SameShape reports whether a and b have identical extents.
func SameShape(a, b *Buffer) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for d := range a.shape {
		if a.shape[d] != b.shape[d] {
			return false
		}
	}
	return true
}

// CheckShape returns ErrShape unless b has exactly the given extents.
func (b *Buffer) CheckShape(shape ...int) error {
	if len(shape) != len(b.shape) {
		return errors.Wrapf(ErrShape, "have %v, want %v", b.shape, shape)
	}
	for d := range shape {
		if shape[d] != b.shape[d] {
			return errors.Wrapf(ErrShape, "have %v, want %v", b.shape, shape)
		}
	}
	return nil
}
