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
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ajroetker/go-recfilter/recfilter/coeff"
	"github.com/ajroetker/go-recfilter/recfilter/tag"
	"github.com/ajroetker/go-recfilter/recfilter/target"
)

// channelVar names the channel loop variable of multi-channel filters.
const channelVar = "c"

// Spec describes a recursive filter.
type Spec struct {
	// Name names the filter and prefixes every generated stage.
	Name string

	// Type is the element type of the output.
	Type Type

	// ClampBorder replicates the first input sample of every scan before
	// the line instead of assuming zeros.
	ClampBorder bool

	// Channels is the number of interleaved channels, each filtered
	// independently. 0 and 1 both mean a single channel.
	Channels int

	// Dims holds one entry per filtered dimension, fastest varying first.
	Dims []Dimension

	// Feedforward holds b0 for every scan, indexed by global scan id: the
	// scans of Dims[0] first, in order, then those of Dims[1], and so on.
	Feedforward []float32

	// Feedback holds a1..ak for every scan, indexed like Feedforward.
	Feedback [][]float32

	// Backend compiles the finalized filter.
	Backend Backend

	// Logger receives lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// State is a lifecycle state of a filter.
type State int

const (
	Created State = iota
	Tiled
	Finalized
	Compiled
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Tiled:
		return "TILED"
	case Finalized:
		return "FINALIZED"
	case Compiled:
		return "COMPILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// contents is the aggregate shared by every handle on a filter.
type contents struct {
	refs atomic.Int32

	id       uuid.UUID
	name     string
	typ      Type
	clamped  bool
	channels int

	infos    []FilterInfo
	stages   []*Stage
	byName   map[string]StageID
	feedfwd  []float32
	feedback *coeff.Matrix

	backend Backend
	target  target.Target
	program Program

	tiled     bool
	finalized bool
	compiled  bool

	log *slog.Logger
}

// RecFilter is a handle on a recursive filter. See the package
// documentation for the lifecycle.
type RecFilter struct {
	c        *contents
	released atomic.Bool
}

// New validates spec and returns a CREATED filter holding a single stage,
// named after the filter, that runs every scan directly.
func New(spec Spec) (*RecFilter, error) {
	infos, feedback, probs := buildInfos(spec)
	if err := probs.err(spec.Name); err != nil {
		return nil, err
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &contents{
		id:       uuid.New(),
		name:     spec.Name,
		typ:      spec.Type,
		clamped:  spec.ClampBorder,
		channels: max(spec.Channels, 1),
		infos:    infos,
		byName:   make(map[string]StageID),
		feedfwd:  append([]float32(nil), spec.Feedforward...),
		feedback: feedback,
		backend:  spec.Backend,
	}
	c.log = logger.With("component", "recfilter", "filter", c.name, "id", c.id.String())
	c.refs.Store(1)
	c.addStage(c.directStage())
	c.log.Debug("created", "dims", len(infos), "scans", c.numScans())
	return &RecFilter{c: c}, nil
}

func (c *contents) numScans() int {
	return len(c.feedfwd)
}

func (c *contents) addStage(s *Stage) {
	s.ID = StageID(len(c.stages))
	c.stages = append(c.stages, s)
	c.byName[s.Name] = s.ID
}

// pureVars returns the loop variables every stage of the filter shares,
// given which dimensions are tiled.
func (c *contents) pureVars(tiled []bool) *varSet {
	vs := newVarSet()
	for d, fi := range c.infos {
		pos := tag.Pos(d)
		if tiled != nil && tiled[d] {
			vs.add(fi.Var+"i", tag.Inner|pos)
			vs.add(fi.Var+"o", tag.Outer|pos)
		} else {
			vs.add(fi.Var, tag.Full|pos)
		}
	}
	if c.channels > 1 {
		vs.add(channelVar, tag.Channel)
	}
	return vs
}

// directStage builds stage 0 of a CREATED filter: one update per scan, each
// scanning the full extent of its dimension.
func (c *contents) directStage() *Stage {
	pure := c.pureVars(nil)
	s := &Stage{
		Name:        c.name,
		Tag:         tag.Inline,
		Def:         Definition{Op: OpDirect, Dim: -1, Input: NoStage, Carry: NoStage, Tiles: 1},
		PureVars:    pure.names,
		PureVarTags: pure.tags,
		PureSplits:  map[string]string{},
		Producer:    NoStage,
		Consumer:    NoStage,
	}
	for _, fi := range c.infos {
		for _, scan := range fi.ScanID {
			s.Def.Scans = append(s.Def.Scans, scan)
			s.Updates = append(s.Updates, scanUpdate(pure, fi.Var, fi.RDom.Var, tag.Full|tag.Scan|tag.Pos(fi.Dim)))
		}
	}
	return s
}

// scanUpdate returns an update over the vars of pure with v replaced by the
// scan variable rv.
func scanUpdate(pure *varSet, v, rv string, rt tag.Var) Update {
	vs := newVarSet()
	for _, name := range pure.names {
		if name == v {
			vs.add(rv, rt)
			continue
		}
		vs.add(name, pure.tags[name])
	}
	return vs.update()
}

// get returns the aggregate unless the handle was released.
func (rf *RecFilter) get(op string) (*contents, error) {
	if rf == nil || rf.c == nil || rf.released.Load() {
		return nil, stateErrorf("%s: released filter handle", op)
	}
	return rf.c, nil
}

// mutable returns a state error once the stage graph is frozen.
func (c *contents) mutable(op string) error {
	switch {
	case c.compiled:
		return stateErrorf("%s: filter %q is compiled", op, c.name)
	case c.finalized:
		return stateErrorf("%s: filter %q is finalized", op, c.name)
	}
	return nil
}

func (c *contents) state() State {
	switch {
	case c.compiled:
		return Compiled
	case c.finalized:
		return Finalized
	case c.tiled:
		return Tiled
	default:
		return Created
	}
}

// Share returns a new handle on the same filter.
func (rf *RecFilter) Share() (*RecFilter, error) {
	c, err := rf.get("Share")
	if err != nil {
		return nil, err
	}
	c.refs.Add(1)
	return &RecFilter{c: c}, nil
}

// Release drops the handle. Releasing the last handle closes the compiled
// program, if any.
func (rf *RecFilter) Release() error {
	if rf == nil || rf.c == nil || rf.released.Swap(true) {
		return stateErrorf("Release: released filter handle")
	}
	c := rf.c
	if c.refs.Add(-1) > 0 {
		return nil
	}
	c.log.Debug("released")
	if c.program == nil {
		return nil
	}
	prog := c.program
	c.program = nil
	return prog.Close()
}

// Name returns the filter name, or "" on a released handle.
func (rf *RecFilter) Name() string {
	c, err := rf.get("Name")
	if err != nil {
		return ""
	}
	return c.name
}

// ID returns the identifier assigned to the filter at creation. Shared
// handles report the same ID.
func (rf *RecFilter) ID() uuid.UUID {
	c, err := rf.get("ID")
	if err != nil {
		return uuid.Nil
	}
	return c.id
}

// State returns the lifecycle state.
func (rf *RecFilter) State() (State, error) {
	c, err := rf.get("State")
	if err != nil {
		return Created, err
	}
	return c.state(), nil
}

// Target returns the target the filter was compiled for.
func (rf *RecFilter) Target() (target.Target, bool) {
	c, err := rf.get("Target")
	if err != nil || !c.compiled {
		return target.Target{}, false
	}
	return c.target, true
}

// Infos returns a copy of the per-dimension descriptions.
func (rf *RecFilter) Infos() []FilterInfo {
	c, err := rf.get("Infos")
	if err != nil {
		return nil
	}
	out := make([]FilterInfo, len(c.infos))
	for i, fi := range c.infos {
		out[i] = fi.clone()
	}
	return out
}

// Stages returns a copy of every stage, indexed by StageID.
func (rf *RecFilter) Stages() []Stage {
	c, err := rf.get("Stages")
	if err != nil {
		return nil
	}
	return c.snapshotStages()
}

func (c *contents) snapshotStages() []Stage {
	out := make([]Stage, len(c.stages))
	for i, s := range c.stages {
		out[i] = *s.clone()
	}
	return out
}

// Stage returns a copy of the stage with the given name.
func (rf *RecFilter) Stage(name string) (Stage, bool) {
	c, err := rf.get("Stage")
	if err != nil {
		return Stage{}, false
	}
	id, ok := c.byName[name]
	if !ok {
		return Stage{}, false
	}
	return *c.stages[id].clone(), true
}

// Decomposition summarizes the stage graph.
type Decomposition struct {
	// Stages counts stages per function tag.
	Stages map[tag.Func]int

	// IntraTiles counts within-tile computations: one per tile of every
	// INTRA stage.
	IntraTiles int

	// Carries counts tile-to-tile carries over every INTER stage.
	Carries int
}

// Decomposition returns the current stage graph summary.
func (rf *RecFilter) Decomposition() Decomposition {
	d := Decomposition{Stages: make(map[tag.Func]int)}
	c, err := rf.get("Decomposition")
	if err != nil {
		return d
	}
	for _, s := range c.stages {
		d.Stages[s.Tag]++
		if s.Def.Op == OpIntra {
			d.IntraTiles += s.Def.Tiles
		}
		d.Carries += s.Carries()
	}
	return d
}
