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

// Package recfilter decomposes linear recursive (IIR) filters over large
// arrays into independently schedulable stages that reproduce the direct
// recursion exactly.
//
// A filter is described once with a Spec: one Dimension per filtered axis,
// each with its order, the causal/anticausal direction of every scan, the
// image width and the tile width, plus feedforward and feedback
// coefficients. The resulting RecFilter moves through a fixed lifecycle:
//
//	CREATED -> Tile -> TILED -> Finalize -> FINALIZED -> Compile -> COMPILED
//
// Tile splits every scan of a tileable dimension into a within-tile stage
// (INTRA_1, one scan per stage), a tail gather (REINDEX) and a carry across tiles
// (INTER), and turns the filter's own stage into the REINDEX stage that
// writes the result back to global coordinates. Every stage and loop
// variable is tagged (see package tag) so schedules can be built from tag
// queries alone:
//
//	rf.Schedule(tag.Intra).Parallel(tag.Outer).Vectorize(tag.Inner, 8)
//
// Finalize checks the decomposition, Compile hands an immutable Graph to a
// Backend (package cpu provides one) and Realize runs the compiled program.
//
// # Usage Example
//
//	rf, err := recfilter.New(recfilter.Spec{
//	    Name:        "Smooth",
//	    Dims:        []recfilter.Dimension{{Var: "x", ImageWidth: 1024, TileWidth: 64, Order: 1, Causal: []bool{true, false}}},
//	    Feedforward: []float32{0.5, 0.5},
//	    Feedback:    [][]float32{{0.5}, {0.5}},
//	    Backend:     cpu.New(),
//	})
//	if err != nil { ... }
//	defer rf.Release()
//	err = rf.Tile()
//	err = rf.DefaultSchedule()
//	err = rf.Finalize()
//	err = rf.Compile(ctx, target.Host())
//	out, err := rf.Realize(ctx, in)
//
// # Handles
//
// A *RecFilter is a handle on a shared aggregate. Share returns another
// handle; changes made through any handle are seen by all of them. The
// aggregate, and the compiled program with its worker pool, are released
// when the last handle calls Release. Building a filter is single
// threaded: handles do not lock.
package recfilter
