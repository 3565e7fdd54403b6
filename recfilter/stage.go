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
	"maps"
	"slices"

	"github.com/ajroetker/go-recfilter/recfilter/tag"
)

// StageID indexes the stage table of a filter. Stage 0 is always the stage
// named after the filter, which produces its output.
type StageID int

const (
	// NoStage marks an absent link; as an input it means the filter input.
	NoStage StageID = -1

	// OutputStage is the consumer of the filter's output stage: the realized
	// output buffer, or the external consumer recorded by ComputeAt.
	OutputStage StageID = -2
)

func (id StageID) String() string {
	switch id {
	case NoStage:
		return "none"
	case OutputStage:
		return "output"
	default:
		return fmt.Sprintf("#%d", int(id))
	}
}

// Op is the computation a stage performs.
type Op int

const (
	// OpDirect runs whole scans along an untiled dimension.
	OpDirect Op = iota
	// OpIntra runs one scan within each tile from zero state, then completes
	// the tile from the state carried in by its Inter stage.
	OpIntra
	// OpTail gathers the last order elements of every tile.
	OpTail
	// OpInter carries tile tails across tiles.
	OpInter
	// OpGather writes the last stage back to global coordinates.
	OpGather
)

func (o Op) String() string {
	switch o {
	case OpDirect:
		return "direct"
	case OpIntra:
		return "intra"
	case OpTail:
		return "tail"
	case OpInter:
		return "inter"
	case OpGather:
		return "gather"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Definition is the computation behind a stage.
type Definition struct {
	Op Op

	// Dim is the filter dimension the stage scans or tiles; -1 for stages
	// spanning every dimension.
	Dim int

	// Scans lists the scan ids computed, in order.
	Scans []int

	// Input is the stage whose output this stage reads.
	Input StageID

	// Carry is the Inter stage whose carries complete an OpIntra stage.
	Carry StageID

	// Tiles is the number of tiles along Dim for tiled stages.
	Tiles int
}

// Update is one update definition of a stage.
type Update struct {
	Vars     []string
	VarTags  map[string]tag.Var
	Splits   map[string]string // var created by Split -> var it came from
	Schedule []Directive
}

// ExternalConsumer names a stage outside the filter that consumes its
// output, and the loop variable at which it does.
type ExternalConsumer struct {
	Stage string
	Var   string
}

// Stage is a generated computation with its tags, split lineage, links and
// scheduling directives.
type Stage struct {
	ID   StageID
	Name string
	Tag  tag.Func
	Def  Definition

	PureVars     []string
	PureVarTags  map[string]tag.Var
	PureSplits   map[string]string
	PureSchedule []Directive

	Updates []Update

	// Producer and Consumer are only set on REINDEX stages.
	Producer StageID
	Consumer StageID

	// External is only set on the output stage, by ComputeAt.
	External *ExternalConsumer
}

// VarTag returns the tag of v in the pure definition (update < 0) or in the
// given update definition.
func (s *Stage) VarTag(update int, v string) tag.Var {
	if update < 0 {
		return s.PureVarTags[v]
	}
	if update >= len(s.Updates) {
		return tag.Invalid
	}
	return s.Updates[update].VarTags[v]
}

// Vars returns the variables of the pure definition (update < 0) or of the
// given update definition, in loop order.
func (s *Stage) Vars(update int) []string {
	if update < 0 {
		return s.PureVars
	}
	if update >= len(s.Updates) {
		return nil
	}
	return s.Updates[update].Vars
}

// Directives returns the scheduling directives of a definition.
func (s *Stage) Directives(update int) []Directive {
	if update < 0 {
		return s.PureSchedule
	}
	if update >= len(s.Updates) {
		return nil
	}
	return s.Updates[update].Schedule
}

// Carries returns the number of tile-to-tile carries an INTER stage
// performs along one line.
func (s *Stage) Carries() int {
	if s.Tag != tag.Inter || s.Def.Tiles == 0 {
		return 0
	}
	return s.Def.Tiles - 1
}

func (s *Stage) clone() *Stage {
	c := *s
	c.Def.Scans = slices.Clone(s.Def.Scans)
	c.PureVars = slices.Clone(s.PureVars)
	c.PureVarTags = maps.Clone(s.PureVarTags)
	c.PureSplits = maps.Clone(s.PureSplits)
	c.PureSchedule = slices.Clone(s.PureSchedule)
	c.Updates = make([]Update, len(s.Updates))
	for i, u := range s.Updates {
		c.Updates[i] = Update{
			Vars:     slices.Clone(u.Vars),
			VarTags:  maps.Clone(u.VarTags),
			Splits:   maps.Clone(u.Splits),
			Schedule: slices.Clone(u.Schedule),
		}
	}
	if s.External != nil {
		ext := *s.External
		c.External = &ext
	}
	return &c
}

// varSet is an ordered variable list with tags, used to build definitions.
type varSet struct {
	names []string
	tags  map[string]tag.Var
}

func newVarSet() *varSet {
	return &varSet{tags: make(map[string]tag.Var)}
}

func (vs *varSet) add(name string, t tag.Var) *varSet {
	vs.names = append(vs.names, name)
	vs.tags[name] = t
	return vs
}

func (vs *varSet) update() Update {
	return Update{
		Vars:    slices.Clone(vs.names),
		VarTags: maps.Clone(vs.tags),
		Splits:  map[string]string{},
	}
}
