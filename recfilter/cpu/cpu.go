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

// Package cpu compiles tiled recursive filters for the host CPU.
//
// Compile walks the stage graph from the output stage back to the input,
// following the REINDEX links, and turns every scan into a step: a direct
// scan for untiled dimensions, or the four phases of a tiled scan (within
// tile, tail gather, carry across tiles, completion). The boundary
// operators of every tiled scan are computed once at compile time.
//
// Stages with a parallel directive run on a worker pool owned by the
// program: tile by tile when the directive names the tile index of the
// scanned dimension, line by line otherwise.
package cpu

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/ajroetker/go-recfilter/internal/config"
	"github.com/ajroetker/go-recfilter/internal/workerpool"
	"github.com/ajroetker/go-recfilter/recfilter"
	"github.com/ajroetker/go-recfilter/recfilter/buffer"
	"github.com/ajroetker/go-recfilter/recfilter/target"
)

// Backend is the CPU backend. The zero value is not usable; call New.
type Backend struct {
	workers int
	log     *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithWorkers sets the worker count of compiled programs; 0 means
// GOMAXPROCS and 1 runs everything on the calling goroutine.
func WithWorkers(n int) Option {
	return func(b *Backend) { b.workers = n }
}

// WithConfig applies the worker settings of cfg.
func WithConfig(cfg config.Config) Option {
	return func(b *Backend) { b.workers = cfg.EffectiveWorkers() }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// New returns a CPU backend.
func New(opts ...Option) *Backend {
	b := &Backend{workers: config.Default().EffectiveWorkers(), log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "cpu")
	return b
}

var _ recfilter.Backend = (*Backend)(nil)

// Compile implements recfilter.Backend.
func (b *Backend) Compile(ctx context.Context, g *recfilter.Graph, t target.Target) (recfilter.Program, error) {
	if g.Type != recfilter.Float32 {
		return nil, errors.Errorf("cpu: output type %v is not supported", g.Type)
	}
	if f, ok := t.GPU(); ok {
		return nil, errors.Errorf("cpu: target %s requests GPU feature %s", t, f)
	}
	if !t.MatchesHost() {
		return nil, errors.Errorf("cpu: target %s does not run on host %s", t, target.Host())
	}
	if g.External != nil {
		b.log.Debug("output consumed externally, materializing anyway",
			"filter", g.Name, "consumer", g.External.Stage, "at", g.External.Var)
	}
	steps, err := plan(g)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &program{
		name:  g.Name,
		shape: g.InputShape(),
		steps: steps,
		pool:  workerpool.New(b.workers),
	}
	b.log.Debug("compiled", "filter", g.Name, "steps", len(steps), "workers", p.pool.Workers())
	return p, nil
}

// program is a compiled filter.
type program struct {
	name  string
	shape []int
	steps []step
	pool  *workerpool.Pool
}

func (p *program) Run(ctx context.Context, in *buffer.Buffer) (*buffer.Buffer, error) {
	if err := in.CheckShape(p.shape...); err != nil {
		return nil, err
	}
	out := in.Clone()
	for _, s := range p.steps {
		if err := s.run(ctx, p.pool, out); err != nil {
			return nil, errors.Wrapf(err, "cpu: %s", s.name())
		}
	}
	return out, nil
}

func (p *program) Close() error {
	p.pool.Close()
	return nil
}
