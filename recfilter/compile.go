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

package recfilter

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ajroetker/go-recfilter/recfilter/buffer"
	"github.com/ajroetker/go-recfilter/recfilter/coeff"
	"github.com/ajroetker/go-recfilter/recfilter/target"
)

// Backend turns a finalized stage graph into an executable program.
type Backend interface {
	// Compile compiles g for t. The error message is reported to the
	// caller verbatim as the diagnostic of a *CompileError.
	Compile(ctx context.Context, g *Graph, t target.Target) (Program, error)
}

// Program is a compiled filter.
type Program interface {
	// Run filters in and returns the output. in is not modified.
	Run(ctx context.Context, in *buffer.Buffer) (*buffer.Buffer, error)

	// Close releases the resources of the program.
	Close() error
}

// Graph is a read-only snapshot of a finalized filter handed to a Backend.
type Graph struct {
	FilterID    uuid.UUID
	Name        string
	Type        Type
	ClampBorder bool
	Channels    int
	Infos       []FilterInfo
	Stages      []Stage
	Feedforward []float32

	// Feedback is the num_scans × max_order feedback matrix.
	Feedback *coeff.Matrix

	// External is the consumer recorded by ComputeAt, or nil.
	External *ExternalConsumer
}

// Stage returns the stage with the given id.
func (g *Graph) Stage(id StageID) (*Stage, bool) {
	if id < 0 || int(id) >= len(g.Stages) {
		return nil, false
	}
	return &g.Stages[id], true
}

// Output returns the stage producing the filter output.
func (g *Graph) Output() *Stage {
	return &g.Stages[0]
}

// InputShape returns the extents of the buffers the filter runs on: one per
// dimension, then the channels when there are several.
func (g *Graph) InputShape() []int {
	return inputShape(g.Infos, g.Channels)
}

func inputShape(infos []FilterInfo, channels int) []int {
	shape := make([]int, 0, len(infos)+1)
	for _, fi := range infos {
		shape = append(shape, fi.ImageWidth)
	}
	if channels > 1 {
		shape = append(shape, channels)
	}
	return shape
}

func (c *contents) graph() *Graph {
	g := &Graph{
		FilterID:    c.id,
		Name:        c.name,
		Type:        c.typ,
		ClampBorder: c.clamped,
		Channels:    c.channels,
		Stages:      c.snapshotStages(),
		Feedforward: append([]float32(nil), c.feedfwd...),
		Feedback:    c.feedback.Clone(),
	}
	for _, fi := range c.infos {
		g.Infos = append(g.Infos, fi.clone())
	}
	g.External = g.Stages[0].External
	return g
}

// Compile compiles the finalized filter for t with the filter's Backend.
// It may be called once. If the backend fails the error is a *CompileError
// carrying its diagnostic and the filter stays FINALIZED.
func (rf *RecFilter) Compile(ctx context.Context, t target.Target) error {
	c, err := rf.get("Compile")
	if err != nil {
		return err
	}
	switch {
	case c.compiled:
		return stateErrorf("Compile: filter %q is already compiled", c.name)
	case !c.finalized:
		return stateErrorf("Compile: filter %q is not finalized", c.name)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "Compile: filter %q", c.name)
	}
	if c.backend == nil {
		return &CompileError{Filter: c.name, Target: t, Diagnostic: "no backend configured"}
	}

	log := c.log.With("target", t.String())
	log.Debug("compiling")
	prog, err := c.backend.Compile(ctx, c.graph(), t)
	if err != nil {
		log.Warn("compile failed", "error", err)
		return &CompileError{Filter: c.name, Target: t, Diagnostic: err.Error(), Err: err}
	}
	c.program = prog
	c.target = t
	c.compiled = true
	log.Info("compiled")
	return nil
}

// Realize runs the compiled filter on in and returns the output. in must
// have the shape of Graph.InputShape.
func (rf *RecFilter) Realize(ctx context.Context, in *buffer.Buffer) (*buffer.Buffer, error) {
	c, err := rf.get("Realize")
	if err != nil {
		return nil, err
	}
	if !c.compiled || c.program == nil {
		return nil, stateErrorf("Realize: filter %q is not compiled", c.name)
	}
	if in == nil {
		return nil, errors.Wrapf(buffer.ErrShape, "Realize: filter %q: nil input", c.name)
	}
	if err := in.CheckShape(inputShape(c.infos, c.channels)...); err != nil {
		return nil, errors.WithMessagef(err, "Realize: filter %q", c.name)
	}
	out, err := c.program.Run(ctx, in)
	if err != nil {
		return nil, errors.WithMessagef(err, "Realize: filter %q", c.name)
	}
	return out, nil
}
