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
	"fmt"
	"math"
	"strings"

	"github.com/ajroetker/go-highway/hwy/contrib/matmul"
	"github.com/ajroetker/go-highway/hwy/contrib/matvec"
	"github.com/pkg/errors"
)

// ErrShape is returned when matrix dimensions do not agree.
var ErrShape = errors.New("coeff: matrix shape mismatch")

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	rows, cols int
	data       []float32
}

// New returns a zero rows×cols matrix. Non-positive sizes give an empty
// matrix.
func New(rows, cols int) *Matrix {
	if rows <= 0 || cols <= 0 {
		return &Matrix{}
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// FromRows copies rows into a new matrix. Short rows are zero padded to the
// longest row.
func FromRows(rows [][]float32) *Matrix {
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	m := New(len(rows), cols)
	for i, r := range rows {
		copy(m.data[i*m.cols:], r)
	}
	return m
}

// Identity returns the n×n identity.
func Identity(n int) *Matrix {
	m := New(n, n)
	for i := range n {
		m.data[i*n+i] = 1
	}
	return m
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// At returns element (i, j).
func (m *Matrix) At(i, j int) float32 {
	return m.data[i*m.cols+j]
}

// Set sets element (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.data[i*m.cols+j] = v
}

// Row returns row i. The slice aliases the matrix storage.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{rows: m.rows, cols: m.cols}
	if m.data != nil {
		c.data = make([]float32, len(m.data))
		copy(c.data, m.data)
	}
	return c
}

// Slice returns a copy of rows [r0, r1).
func (m *Matrix) Slice(r0, r1 int) *Matrix {
	s := New(r1-r0, m.cols)
	copy(s.data, m.data[r0*m.cols:r1*m.cols])
	return s
}

// Equal reports whether m and o have the same shape and every element differs
// by at most tol.
func (m *Matrix) Equal(o *Matrix, tol float64) bool {
	if m.rows != o.rows || m.cols != o.cols {
		return false
	}
	for i := range m.data {
		if math.Abs(float64(m.data[i])-float64(o.data[i])) > tol {
			return false
		}
	}
	return true
}

// String formats the matrix one row per line.
func (m *Matrix) String() string {
	var sb strings.Builder
	for i := range m.rows {
		sb.WriteString("[")
		for j := range m.cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", m.At(i, j))
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}

// Transpose returns Aᵗ.
func Transpose(a *Matrix) *Matrix {
	t := New(a.cols, a.rows)
	for i := range a.rows {
		for j := range a.cols {
			t.data[j*t.cols+i] = a.data[i*a.cols+j]
		}
	}
	return t
}

// Mult returns the product A·B. It fails with ErrShape when A.Cols() differs
// from B.Rows(); no result is produced in that case.
func Mult(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.rows {
		return nil, errors.Wrapf(ErrShape, "Mult: [%d×%d]·[%d×%d]", a.rows, a.cols, b.rows, b.cols)
	}
	c := New(a.rows, b.cols)
	if len(c.data) == 0 || a.cols == 0 {
		return c, nil
	}
	matmul.MatMulAutoFloat32(a.data, b.data, c.data, a.rows, b.cols, a.cols)
	return c, nil
}

// MultVec returns A·x.
func MultVec(a *Matrix, x []float32) ([]float32, error) {
	y := make([]float32, a.rows)
	if err := MultVecTo(a, x, y); err != nil {
		return nil, err
	}
	return y, nil
}

// MultVecTo writes A·x into y, which must hold A.Rows() elements.
func MultVecTo(a *Matrix, x, y []float32) error {
	if a.cols != len(x) || a.rows != len(y) {
		return errors.Wrapf(ErrShape, "MultVec: [%d×%d]·[%d] -> [%d]", a.rows, a.cols, len(x), len(y))
	}
	if a.rows == 0 {
		return nil
	}
	if a.cols == 0 {
		clear(y)
		return nil
	}
	matvec.MatVecFloat32(a.data, a.rows, a.cols, x, y)
	return nil
}

// Data returns the row-major storage of the matrix. It aliases the matrix.
func (m *Matrix) Data() []float32 { return m.data }

// Antidiagonal returns the n×n matrix with ones on the antidiagonal. It
// reverses the order of a vector and is its own inverse.
func Antidiagonal(n int) *Matrix {
	m := New(n, n)
	for i := range n {
		m.data[i*n+(n-1-i)] = 1
	}
	return m
}
