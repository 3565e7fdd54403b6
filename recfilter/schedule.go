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
	"strings"

	"github.com/ajroetker/go-recfilter/recfilter/tag"
)

// DirectiveKind is a scheduling directive.
type DirectiveKind int

const (
	Parallel DirectiveKind = iota
	Vectorize
	Unroll
	SplitVar
	ComputeRoot
	ComputeInline
)

var directiveNames = [...]string{
	Parallel:      "parallel",
	Vectorize:     "vectorize",
	Unroll:        "unroll",
	SplitVar:      "split",
	ComputeRoot:   "compute_root",
	ComputeInline: "compute_inline",
}

func (k DirectiveKind) String() string {
	if k < 0 || int(k) >= len(directiveNames) {
		return fmt.Sprintf("DirectiveKind(%d)", int(k))
	}
	return directiveNames[k]
}

// Directive is one scheduling directive of a stage definition. Var is empty
// for stage-level directives; Outer and Inner are the vars a split creates.
type Directive struct {
	Kind   DirectiveKind
	Var    string
	Factor int
	Outer  string
	Inner  string
}

func (d Directive) String() string {
	var args []string
	switch d.Kind {
	case SplitVar:
		args = []string{d.Var, d.Outer, d.Inner, fmt.Sprint(d.Factor)}
	case Vectorize, Unroll:
		args = []string{d.Var, fmt.Sprint(d.Factor)}
	case Parallel:
		args = []string{d.Var}
	}
	return d.Kind.String() + "(" + strings.Join(args, ",") + ")"
}

// Schedule selects stages by function tag and applies directives to the
// loop variables of their definitions selected by variable tag masks.
//
// A variable matches a mask when its tag holds every bit of the mask.
// Variables created by a split only match masks naming tag.Split.
// Errors are sticky: once a directive fails, later calls do nothing and
// Err reports the first failure.
type Schedule struct {
	rf   *RecFilter
	funs tag.FuncSet
	err  error
}

// Schedule starts a schedule over the stages tagged with any function in
// funs.
func (rf *RecFilter) Schedule(funs tag.FuncSet) *Schedule {
	return &Schedule{rf: rf, funs: funs}
}

// Err returns the first error of the schedule.
func (s *Schedule) Err() error { return s.err }

func matches(t, mask tag.Var) bool {
	if mask == tag.Invalid || !t.Has(mask) {
		return false
	}
	return mask.Has(tag.Split) || !t.Has(tag.Split)
}

// noFactor marks directives without a factor.
const noFactor = -1

// begin returns the stages to schedule, or nil when the schedule failed.
// Stage-level directives pass tag.Invalid as mask.
func (s *Schedule) begin(op string, mask tag.Var, factor int) []*Stage {
	if s.err != nil {
		return nil
	}
	c, err := s.rf.get(op)
	if err != nil {
		s.err = err
		return nil
	}
	if err := c.mutable(op); err != nil {
		s.err = err
		return nil
	}
	var probs problems
	if factor != noFactor && factor < 2 {
		probs.addf("%s: factor %d must be at least 2", op, factor)
	}
	if mask != tag.Invalid && !mask.Valid() {
		probs.addf("%s: invalid variable mask %v", op, mask)
	}
	if err := probs.err(c.name); err != nil {
		s.err = err
		return nil
	}
	var out []*Stage
	for _, st := range c.stages {
		if st.Tag.In(s.funs) {
			out = append(out, st)
		}
	}
	return out
}

// definition is a view on the pure (update < 0) or an update definition.
type definition struct {
	vars     *[]string
	tags     map[string]tag.Var
	splits   map[string]string
	schedule *[]Directive
}

func definitions(st *Stage) []definition {
	defs := []definition{{&st.PureVars, st.PureVarTags, st.PureSplits, &st.PureSchedule}}
	for i := range st.Updates {
		u := &st.Updates[i]
		defs = append(defs, definition{&u.Vars, u.VarTags, u.Splits, &u.Schedule})
	}
	return defs
}

func (s *Schedule) each(op string, mask tag.Var, factor int, fn func(def definition, v string) bool) *Schedule {
	for _, st := range s.begin(op, mask, factor) {
		for _, def := range definitions(st) {
			for _, v := range *def.vars {
				if matches(def.tags[v], mask) && !fn(def, v) {
					break
				}
			}
		}
	}
	return s
}

// Parallel runs every matching variable in parallel. Scan variables are
// never selected.
func (s *Schedule) Parallel(mask tag.Var) *Schedule {
	return s.each("Parallel", mask, noFactor, func(def definition, v string) bool {
		if !def.tags[v].Has(tag.Scan) {
			*def.schedule = append(*def.schedule, Directive{Kind: Parallel, Var: v})
		}
		return true
	})
}

// Vectorize vectorizes the innermost matching variable of each definition
// by factor. Scan variables are never selected.
func (s *Schedule) Vectorize(mask tag.Var, factor int) *Schedule {
	return s.each("Vectorize", mask, factor, func(def definition, v string) bool {
		if def.tags[v].Has(tag.Scan) {
			return true
		}
		*def.schedule = append(*def.schedule, Directive{Kind: Vectorize, Var: v, Factor: factor})
		return false
	})
}

// Unroll unrolls every matching variable by factor.
func (s *Schedule) Unroll(mask tag.Var, factor int) *Schedule {
	return s.each("Unroll", mask, factor, func(def definition, v string) bool {
		*def.schedule = append(*def.schedule, Directive{Kind: Unroll, Var: v, Factor: factor})
		return true
	})
}

// Split splits every matching non-scan variable v by factor into v_i, which
// keeps the tag of v plus tag.Split, and v_o, which keeps the tag of v. The
// lineage of both is recorded.
func (s *Schedule) Split(mask tag.Var, factor int) *Schedule {
	for _, st := range s.begin("Split", mask, factor) {
		for _, def := range definitions(st) {
			var vars []string
			for _, v := range *def.vars {
				t := def.tags[v]
				if !matches(t, mask) || t.Has(tag.Scan) {
					vars = append(vars, v)
					continue
				}
				inner, outer := v+"_i", v+"_o"
				vars = append(vars, inner, outer)
				delete(def.tags, v)
				def.tags[inner] = t | tag.Split
				def.tags[outer] = t
				def.splits[inner] = v
				def.splits[outer] = v
				*def.schedule = append(*def.schedule, Directive{Kind: SplitVar, Var: v, Factor: factor, Outer: outer, Inner: inner})
			}
			*def.vars = vars
		}
	}
	return s
}

// ComputeRoot computes the selected stages into their own buffers.
func (s *Schedule) ComputeRoot() *Schedule {
	return s.stageDirective("ComputeRoot", ComputeRoot)
}

// ComputeInline inlines the selected stages into their consumers.
func (s *Schedule) ComputeInline() *Schedule {
	return s.stageDirective("ComputeInline", ComputeInline)
}

func (s *Schedule) stageDirective(op string, k DirectiveKind) *Schedule {
	for _, st := range s.begin(op, tag.Invalid, noFactor) {
		st.PureSchedule = append(st.PureSchedule, Directive{Kind: k})
	}
	return s
}

// DefaultSchedule parallelizes tiles and lines and vectorizes within tiles
// of every INTRA and INLINE (full-extent) stage, parallelizes the lines of
// every INTER stage, and parallelizes the gathers.
func (rf *RecFilter) DefaultSchedule() error {
	if err := rf.Schedule(tag.AnyOf(tag.Intra1, tag.IntraN, tag.Inline)).
		Parallel(tag.Outer).Vectorize(tag.Inner, 8).Parallel(tag.Full).Err(); err != nil {
		return err
	}
	if err := rf.Schedule(tag.AnyOf(tag.Inter)).Parallel(tag.Outer).Parallel(tag.Full).Err(); err != nil {
		return err
	}
	return rf.Schedule(tag.AnyOf(tag.Reindex)).Parallel(tag.Outer).Err()
}
