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

package recfilter_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-recfilter/recfilter"
	"github.com/ajroetker/go-recfilter/recfilter/buffer"
	"github.com/ajroetker/go-recfilter/recfilter/tag"
	"github.com/ajroetker/go-recfilter/recfilter/target"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeBackend records compile calls and returns err when set.
type fakeBackend struct {
	calls  int
	graph  *recfilter.Graph
	err    error
	closed int
}

func (b *fakeBackend) Compile(_ context.Context, g *recfilter.Graph, _ target.Target) (recfilter.Program, error) {
	b.calls++
	b.graph = g
	if b.err != nil {
		return nil, b.err
	}
	return &fakeProgram{b: b}, nil
}

type fakeProgram struct{ b *fakeBackend }

func (p *fakeProgram) Run(_ context.Context, in *buffer.Buffer) (*buffer.Buffer, error) {
	return in.Clone(), nil
}

func (p *fakeProgram) Close() error {
	p.b.closed++
	return nil
}

// spec1D is an order 1 causal filter over 256 samples in tiles of 64.
func spec1D(be recfilter.Backend) recfilter.Spec {
	return recfilter.Spec{
		Name:        "F",
		Dims:        []recfilter.Dimension{{Var: "x", ImageWidth: 256, TileWidth: 64, Order: 1, Causal: []bool{true}}},
		Feedforward: []float32{1},
		Feedback:    [][]float32{{0.5}},
		Backend:     be,
		Logger:      quiet,
	}
}

func newFilter(t *testing.T, spec recfilter.Spec) *recfilter.RecFilter {
	t.Helper()
	rf, err := recfilter.New(spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rf.Release() })
	return rf
}

func state(t *testing.T, rf *recfilter.RecFilter) recfilter.State {
	t.Helper()
	s, err := rf.State()
	require.NoError(t, err)
	return s
}

func TestNewSingleStage(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	assert.Equal(t, recfilter.Created, state(t, rf))
	assert.NotEqual(t, uuid.Nil, rf.ID())

	stages := rf.Stages()
	require.Len(t, stages, 1)
	s := stages[0]
	assert.Equal(t, "F", s.Name)
	assert.Equal(t, tag.Inline, s.Tag)
	assert.Equal(t, []string{"x"}, s.PureVars)
	assert.Equal(t, tag.Full|tag.Pos1, s.PureVarTags["x"])
	require.Len(t, s.Updates, 1)
	assert.Equal(t, tag.Full|tag.Scan|tag.Pos1, s.Updates[0].VarTags["rx"])

	infos := rf.Infos()
	require.Len(t, infos, 1)
	assert.Equal(t, 4, infos[0].NumTiles())
	assert.True(t, infos[0].Tileable())
	assert.False(t, infos[0].Untiled)
	assert.Equal(t, recfilter.RDom{Var: "rx", Extent: 256}, infos[0].RDom)
}

func TestTileFinalize1D(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	require.NoError(t, rf.Tile())
	assert.Equal(t, recfilter.Tiled, state(t, rf))

	dec := rf.Decomposition()
	assert.Equal(t, 4, dec.IntraTiles)
	assert.Equal(t, 3, dec.Carries)
	assert.Equal(t, map[tag.Func]int{tag.Intra1: 1, tag.Reindex: 2, tag.Inter: 1}, dec.Stages)

	intra, ok := rf.Stage("F_Intra_x0")
	require.True(t, ok)
	tail, ok := rf.Stage("F_Tail_x0")
	require.True(t, ok)
	inter, ok := rf.Stage("F_Inter_x0")
	require.True(t, ok)
	out, ok := rf.Stage("F")
	require.True(t, ok)

	assert.Equal(t, tag.Intra1, intra.Tag)
	assert.Equal(t, inter.ID, intra.Def.Carry)
	assert.Equal(t, recfilter.NoStage, intra.Def.Input)
	assert.Equal(t, tag.Inner|tag.Pos1, intra.PureVarTags["xi"])
	assert.Equal(t, tag.Outer|tag.Pos1, intra.PureVarTags["xo"])
	assert.Equal(t, tag.Inner|tag.Scan|tag.Pos1, intra.Updates[0].VarTags["rxi"])

	assert.Equal(t, tag.Reindex, tail.Tag)
	assert.Equal(t, intra.ID, tail.Producer)
	assert.Equal(t, inter.ID, tail.Consumer)
	assert.Equal(t, tag.Tail|tag.Pos1, tail.PureVarTags["xt"])

	assert.Equal(t, tail.ID, inter.Def.Input)
	assert.Equal(t, tag.Outer|tag.Scan|tag.Pos1, inter.Updates[0].VarTags["rxo"])
	assert.Equal(t, 3, inter.Carries())

	assert.Equal(t, recfilter.StageID(0), out.ID)
	assert.Equal(t, tag.Reindex, out.Tag)
	assert.Equal(t, intra.ID, out.Producer)
	assert.Equal(t, recfilter.OutputStage, out.Consumer)

	require.NoError(t, rf.Finalize())
	assert.Equal(t, recfilter.Finalized, state(t, rf))
	assert.True(t, rf.Infos()[0].Tiled)
}

func TestCompileBeforeFinalize(t *testing.T) {
	be := &fakeBackend{}
	rf := newFilter(t, spec1D(be))
	require.NoError(t, rf.Tile())

	err := rf.Compile(context.Background(), target.Host())
	assert.True(t, errors.Is(err, recfilter.ErrState), "got %v", err)
	assert.Zero(t, be.calls, "backend must not be invoked")
	assert.Equal(t, recfilter.Tiled, state(t, rf))
}

func TestTileTwiceLeavesGraphUnchanged(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	require.NoError(t, rf.Tile())
	before := rf.Stages()
	infos := rf.Infos()

	err := rf.Tile()
	assert.True(t, errors.Is(err, recfilter.ErrState), "got %v", err)
	if diff := cmp.Diff(before, rf.Stages()); diff != "" {
		t.Errorf("stages changed by second Tile (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(infos, rf.Infos()); diff != "" {
		t.Errorf("infos changed by second Tile (-before +after):\n%s", diff)
	}
}

func TestTileNothingTileable(t *testing.T) {
	spec := spec1D(nil)
	spec.Dims[0].TileWidth = 0
	rf := newFilter(t, spec)
	err := rf.Tile()
	var ce *recfilter.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Len(t, rf.Stages(), 1)
	assert.Equal(t, recfilter.Created, state(t, rf))

	// An untiled filter finalizes as is.
	require.NoError(t, rf.Finalize())
}

func TestFinalizeRequiresTilingDecision(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	err := rf.Finalize()
	var ce *recfilter.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Contains(t, ce.Problems[0], "neither tiled nor marked untiled")
	assert.Equal(t, recfilter.Created, state(t, rf))

	require.NoError(t, rf.MarkUntiled("x"))
	require.NoError(t, rf.Finalize())
	assert.False(t, rf.Infos()[0].Tiled)
}

func TestMarkUntiled(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	err := rf.MarkUntiled("y")
	var ce *recfilter.ConfigError
	assert.True(t, errors.As(err, &ce), "got %v", err)

	require.NoError(t, rf.MarkUntiled("x"))
	assert.Error(t, rf.Tile(), "no dimension left to tile")

	rf2 := newFilter(t, spec1D(nil))
	require.NoError(t, rf2.Tile())
	assert.True(t, errors.Is(rf2.MarkUntiled("x"), recfilter.ErrState))
}

func TestNewConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*recfilter.Spec)
		want   string
	}{
		{"order", func(s *recfilter.Spec) { s.Dims[0].Order = 0 }, "order 0 must be positive"},
		{"tile too wide", func(s *recfilter.Spec) { s.Dims[0].TileWidth = 512 }, "exceeds image width"},
		{"tile not dividing", func(s *recfilter.Spec) { s.Dims[0].TileWidth = 60 }, "does not divide"},
		{"causal count", func(s *recfilter.Spec) { s.Dims[0].Causal = []bool{true, false} }, "feedforward coefficients for 2 scans"},
		{"no scans", func(s *recfilter.Spec) { s.Dims[0].Causal = nil }, "no scans"},
		{"no name", func(s *recfilter.Spec) { s.Name = "" }, "empty filter name"},
		{"feedback too short", func(s *recfilter.Spec) { s.Feedback = [][]float32{{}} }, "0 feedback coefficients for order 1"},
		{"feedback beyond order", func(s *recfilter.Spec) { s.Feedback = [][]float32{{0.5, 0.1}} }, "beyond order"},
		{"unstable clamp", func(s *recfilter.Spec) { s.ClampBorder = true; s.Feedback = [][]float32{{1}} }, "steady state"},
		{"tile below order", func(s *recfilter.Spec) {
			s.Dims[0].Order = 3
			s.Dims[0].TileWidth = 2
			s.Dims[0].ImageWidth = 8
			s.Feedback = [][]float32{{0.1, 0.1, 0.1}}
		}, "smaller than filter order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := spec1D(nil)
			tt.modify(&spec)
			rf, err := recfilter.New(spec)
			assert.Nil(t, rf)
			var ce *recfilter.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Contains(t, ce.Error(), tt.want)
		})
	}
}

func TestConfigErrorListsEveryProblem(t *testing.T) {
	_, err := recfilter.New(recfilter.Spec{
		Name: "bad",
		Dims: []recfilter.Dimension{
			{Var: "x", ImageWidth: 8, TileWidth: 16, Order: 0, Causal: []bool{true}},
			{Var: "x", ImageWidth: 8, Order: 1, Causal: []bool{true}},
		},
	})
	var ce *recfilter.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "bad", ce.Filter)
	assert.GreaterOrEqual(t, len(ce.Problems), 4, "problems: %q", ce.Problems)
}

func TestComputeAt(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	require.NoError(t, rf.ComputeAt("Blend", "y"))
	require.NoError(t, rf.Tile())
	out, _ := rf.Stage("F")
	assert.Equal(t, &recfilter.ExternalConsumer{Stage: "Blend", Var: "y"}, out.External)

	var ce *recfilter.ConfigError
	assert.True(t, errors.As(rf.ComputeAt("F_Intra_x0", "x"), &ce), "internal stages are not external consumers")

	require.NoError(t, rf.Finalize())
	err := rf.ComputeAt("Other", "x")
	assert.True(t, errors.Is(err, recfilter.ErrState), "got %v", err)
	out, _ = rf.Stage("F")
	assert.Equal(t, "Blend", out.External.Stage)
}

func TestComputeAtNameTakenByTile(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	require.NoError(t, rf.ComputeAt("F_Intra_x0", "x"), "no such stage before Tile")
	require.NoError(t, rf.Tile())

	err := rf.Finalize()
	var ce *recfilter.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Contains(t, ce.Problems[0], `"F_Intra_x0" collides`)
	assert.Equal(t, recfilter.Tiled, state(t, rf), "a failed Finalize leaves the filter unchanged")
}

func TestCompile(t *testing.T) {
	be := &fakeBackend{}
	rf := newFilter(t, spec1D(be))
	require.NoError(t, rf.ComputeAt("Blend", "x"))
	require.NoError(t, rf.Tile())
	require.NoError(t, rf.Finalize())
	assert.True(t, errors.Is(rf.Tile(), recfilter.ErrState))

	in := buffer.New(256)
	_, err := rf.Realize(context.Background(), in)
	assert.True(t, errors.Is(err, recfilter.ErrState), "Realize before Compile: %v", err)

	tgt := target.Host()
	require.NoError(t, rf.Compile(context.Background(), tgt))
	assert.Equal(t, recfilter.Compiled, state(t, rf))
	assert.Equal(t, 1, be.calls)
	got, ok := rf.Target()
	assert.True(t, ok)
	assert.Equal(t, tgt, got)

	g := be.graph
	assert.Equal(t, rf.ID(), g.FilterID)
	assert.Equal(t, []int{256}, g.InputShape())
	assert.Equal(t, &recfilter.ExternalConsumer{Stage: "Blend", Var: "x"}, g.External)
	assert.Equal(t, "F", g.Output().Name)
	if diff := cmp.Diff(rf.Stages(), g.Stages); diff != "" {
		t.Errorf("graph stages differ from the filter (-filter +graph):\n%s", diff)
	}

	assert.True(t, errors.Is(rf.Compile(context.Background(), tgt), recfilter.ErrState))
	assert.True(t, errors.Is(rf.Finalize(), recfilter.ErrState))
	assert.Equal(t, 1, be.calls)

	out, err := rf.Realize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 256, out.Len())

	_, err = rf.Realize(context.Background(), buffer.New(128))
	assert.True(t, errors.Is(err, buffer.ErrShape), "got %v", err)
}

func TestCompileErrorKeepsState(t *testing.T) {
	be := &fakeBackend{err: errors.New("codegen: unsupported vector width 3")}
	rf := newFilter(t, spec1D(be))
	require.NoError(t, rf.Tile())
	require.NoError(t, rf.Finalize())
	before := rf.Stages()

	tgt := target.MustParse("arm-64-linux-sve2")
	err := rf.Compile(context.Background(), tgt)
	var ce *recfilter.CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "codegen: unsupported vector width 3", ce.Diagnostic)
	assert.Equal(t, tgt, ce.Target)
	assert.Equal(t, be.err, errors.Cause(ce.Err))
	assert.Equal(t, recfilter.Finalized, state(t, rf))
	if diff := cmp.Diff(before, rf.Stages()); diff != "" {
		t.Errorf("failed Compile changed the stages:\n%s", diff)
	}

	// A later successful compile still works.
	be.err = nil
	require.NoError(t, rf.Compile(context.Background(), target.Host()))
}

func TestCompileWithoutBackend(t *testing.T) {
	rf := newFilter(t, spec1D(nil))
	require.NoError(t, rf.Tile())
	require.NoError(t, rf.Finalize())
	var ce *recfilter.CompileError
	require.True(t, errors.As(rf.Compile(context.Background(), target.Host()), &ce))
	assert.Equal(t, "no backend configured", ce.Diagnostic)
}

func TestShareRelease(t *testing.T) {
	be := &fakeBackend{}
	rf, err := recfilter.New(spec1D(be))
	require.NoError(t, err)
	other, err := rf.Share()
	require.NoError(t, err)
	assert.Equal(t, rf.ID(), other.ID())

	// Changes through one handle are seen through the other.
	require.NoError(t, other.Tile())
	assert.Equal(t, recfilter.Tiled, state(t, rf))
	require.NoError(t, rf.Finalize())
	require.NoError(t, other.Compile(context.Background(), target.Host()))

	require.NoError(t, rf.Release())
	assert.Zero(t, be.closed, "program closed while a handle remains")
	_, err = rf.State()
	assert.True(t, errors.Is(err, recfilter.ErrState))
	assert.True(t, errors.Is(rf.Release(), recfilter.ErrState), "double release")
	_, err = rf.Share()
	assert.True(t, errors.Is(err, recfilter.ErrState))

	assert.Equal(t, recfilter.Compiled, state(t, other))
	require.NoError(t, other.Release())
	assert.Equal(t, 1, be.closed)
}

func TestDirect(t *testing.T) {
	spec := spec1D(nil)
	spec.Dims[0].ImageWidth = 8
	spec.Dims[0].TileWidth = 4
	rf := newFilter(t, spec)
	in := buffer.New(8)
	in.Fill(1)
	out, err := rf.Direct(in)
	require.NoError(t, err)
	want := []float32{1, 1.5, 1.75, 1.875, 1.9375, 1.96875, 1.984375, 1.9921875}
	assert.InDeltaSlice(t, want, out.Data(), 1e-6)
	assert.Equal(t, float32(1), in.At(7), "input must not change")

	_, err = rf.Direct(buffer.New(4))
	assert.True(t, errors.Is(err, buffer.ErrShape))
}
