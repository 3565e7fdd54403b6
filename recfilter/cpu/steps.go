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

package cpu

import (
	"context"

	"github.com/ajroetker/go-recfilter/internal/kernel"
	"github.com/ajroetker/go-recfilter/internal/workerpool"
	"github.com/ajroetker/go-recfilter/recfilter/buffer"
	"github.com/ajroetker/go-recfilter/recfilter/coeff"
	"github.com/pkg/errors"
)

// step filters a buffer in place.
type step interface {
	name() string
	run(ctx context.Context, pool *workerpool.Pool, b *buffer.Buffer) error
}

// each calls fn for every line i in [0, n), in one contiguous run of lines
// per worker when parallel.
func each(ctx context.Context, pool *workerpool.Pool, parallel bool, n int, fn func(i int)) error {
	if parallel {
		return pool.ForRange(ctx, n, func(start, end int) {
			for i := start; i < end; i++ {
				fn(i)
			}
		})
	}
	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(i)
	}
	return nil
}

// directStep runs one scan over whole lines.
type directStep struct {
	stage    string
	dim      int
	reverse  bool
	b0       float32
	a        []float32
	clamp    bool
	gain     float32
	parallel bool
}

func (s *directStep) name() string { return s.stage }

func (s *directStep) run(ctx context.Context, pool *workerpool.Pool, b *buffer.Buffer) error {
	return each(ctx, pool, s.parallel, b.Lines(s.dim), func(l int) {
		line := kernel.LineOf(b, s.dim, l, s.reverse)
		kernel.Scan(line, line, s.b0, s.a, s.clamp, s.gain)
	})
}

// tiledStep runs one scan split into tiles.
type tiledStep struct {
	stage     string
	dim       int
	reverse   bool
	tileWidth int
	tiles     int
	order     int

	b0    float32
	a     []float32
	clamp bool
	gain  float32

	correction *coeff.Matrix // tileWidth×order, applied to the previous true tail
	carry      *coeff.Matrix // order×order, advances a tail by one tile
	border     []float32     // clamp only: response of the first tile to the border sample

	intraParallel bool
	tileParallel  bool
	tailParallel  bool
	interParallel bool
}

func (s *tiledStep) name() string { return s.stage }

func (s *tiledStep) run(ctx context.Context, pool *workerpool.Pool, b *buffer.Buffer) error {
	lines := b.Lines(s.dim)
	k, w, nt := s.order, s.tileWidth, s.tiles
	line := func(l int) kernel.Line { return kernel.LineOf(b, s.dim, l, s.reverse) }

	// The border sample is overwritten by the first phase.
	var x0 []float32
	if s.clamp {
		x0 = make([]float32, lines)
		for l := range lines {
			x0[l] = line(l).At(0)
		}
	}

	// perTile runs fn over every (line, tile) pair: tile by tile on the
	// pool, line by line on the pool, or serially.
	perTile := func(fn func(l, t int)) error {
		if s.tileParallel {
			return pool.For(ctx, lines*nt, func(i int) { fn(i/nt, i%nt) })
		}
		return each(ctx, pool, s.intraParallel, lines, func(l int) {
			for t := range nt {
				fn(l, t)
			}
		})
	}

	// Within tile, from zero state.
	if err := perTile(func(l, t int) {
		ln := line(l)
		kernel.Intra(ln, ln, s.a, t, w)
	}); err != nil {
		return err
	}

	// Gather the tails.
	tails := make([]float32, lines*nt*k)
	if err := each(ctx, pool, s.tailParallel, lines, func(l int) {
		ln := line(l)
		for t := range nt {
			off := (l*nt + t) * k
			kernel.Tail(ln, tails[off:off+k], t, w)
		}
	}); err != nil {
		return err
	}

	// Carry across tiles, sequentially along each line.
	carryErrs := make([]error, lines)
	if err := each(ctx, pool, s.interParallel, lines, func(l int) {
		var initial []float32
		if s.clamp {
			initial = make([]float32, k)
			for j := range initial {
				initial[j] = s.gain * x0[l]
			}
		}
		carryErrs[l] = kernel.Carry(tails[l*nt*k:(l+1)*nt*k], k, s.carry, initial)
	}); err != nil {
		return err
	}
	for l, err := range carryErrs {
		if err != nil {
			return errors.Wrapf(err, "line %d", l)
		}
	}

	// Complete every tile from the true tail of the tile before it.
	return perTile(func(l, t int) {
		var prev []float32
		if t > 0 {
			off := (l*nt + t - 1) * k
			prev = tails[off : off+k]
		}
		var border []float32
		var x float32
		if s.clamp {
			border, x = s.border, x0[l]
		}
		kernel.Complete(line(l), t, w, s.b0, s.correction, prev, border, x)
	})
}
