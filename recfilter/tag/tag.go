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

// Package tag classifies the stages and loop variables of a tiled recursive
// filter.
//
// Every stage carries exactly one Func, a category that is assigned and
// replaced but never combined. Every loop variable carries a Var, a bitset
// that combines kind bits (Full, Inner, Outer, Tail, Scan, Channel, Split)
// with one positional bit naming the filter dimension it descends from.
//
// Schedules are built by querying tags against named masks:
//
//	if stage.Tag.In(tag.Intra) {
//	    for _, v := range stage.PureVars {
//	        if stage.PureVarTags[v].Has(tag.Outer) && !stage.PureVarTags[v].Has(tag.Scan) {
//	            // parallel over tiles
//	        }
//	    }
//	}
package tag

import (
	"fmt"
	"strings"
)

// Func is the scheduling category of a stage.
type Func uint8

const (
	// Inline marks a stage to be removed by inlining into its consumers.
	Inline Func = iota

	// Inter filters tile tails across tiles (one 1D scan, sequential over tiles).
	Inter

	// IntraN filters within a tile and shares the tile with other scans or
	// dimensions.
	IntraN

	// Intra1 filters within a tile and is the only scan of its filter.
	Intra1

	// Reindex gathers a subset of one producer for exactly one consumer.
	Reindex

	numFuncs
)

// String returns the canonical name of the category.
func (f Func) String() string {
	switch f {
	case Inline:
		return "INLINE"
	case Inter:
		return "INTER"
	case IntraN:
		return "INTRA_N"
	case Intra1:
		return "INTRA_1"
	case Reindex:
		return "REINDEX"
	default:
		return fmt.Sprintf("Func(%d)", uint8(f))
	}
}

// Valid reports whether f is one of the defined categories.
func (f Func) Valid() bool {
	return f < numFuncs
}

// In reports whether f belongs to the set s.
func (f Func) In(s FuncSet) bool {
	return s.Has(f)
}

// FuncSet is a set of categories used to select stages. It is a query mask:
// a stage never carries a FuncSet.
type FuncSet uint8

// Named category masks.
var (
	Intra    = AnyOf(Intra1, IntraN)
	AllFuncs = AnyOf(Inline, Inter, IntraN, Intra1, Reindex)
)

// AnyOf returns the set holding the given categories.
func AnyOf(fs ...Func) FuncSet {
	var s FuncSet
	for _, f := range fs {
		if f.Valid() {
			s |= 1 << f
		}
	}
	return s
}

// Has reports whether f is in s.
func (s FuncSet) Has(f Func) bool {
	return f.Valid() && s&(1<<f) != 0
}

// Union returns the categories in either set.
func (s FuncSet) Union(o FuncSet) FuncSet {
	return s | o
}

// Intersect returns the categories in both sets.
func (s FuncSet) Intersect(o FuncSet) FuncSet {
	return s & o
}

// String lists the members of s, e.g. "{INTRA_N,INTRA_1}".
func (s FuncSet) String() string {
	var names []string
	for f := Inline; f < numFuncs; f++ {
		if s.Has(f) {
			names = append(names, f.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Var classifies a loop variable of a stage definition.
type Var uint16

const (
	Invalid Var = 0x0000

	Pos1 Var = 0x0001 // descends from the first filter dimension
	Pos2 Var = 0x0002
	Pos3 Var = 0x0004
	Pos4 Var = 0x0008

	Full    Var = 0x0010 // full dimension before tiling
	Inner   Var = 0x0020 // position inside a tile
	Outer   Var = 0x0040 // tile index
	Tail    Var = 0x0080 // last elements of a tile
	Scan    Var = 0x0100 // the variable a recursive update scans along
	Channel Var = 0x0200 // color channel, never filtered
	Split   Var = 0x1000 // created by a split directive

	posMask  = Pos1 | Pos2 | Pos3 | Pos4
	kindMask = Full | Inner | Outer | Tail | Scan | Channel | Split
)

// MaxDims is the number of positional bits.
const MaxDims = 4

// Pos returns the positional bit of filter dimension dim (0-based).
// It returns Invalid for dimensions outside [0, MaxDims).
func Pos(dim int) Var {
	if dim < 0 || dim >= MaxDims {
		return Invalid
	}
	return Pos1 << dim
}

// Union returns v with the bits of o added.
func (v Var) Union(o Var) Var {
	return v | o
}

// Intersect returns the bits set in both v and o.
func (v Var) Intersect(o Var) Var {
	return v & o
}

// Without returns v with the bits of o cleared.
func (v Var) Without(o Var) Var {
	return v &^ o
}

// Has reports whether every bit of mask is set in v.
func (v Var) Has(mask Var) bool {
	return mask != Invalid && v&mask == mask
}

// Overlaps reports whether any bit of mask is set in v.
func (v Var) Overlaps(mask Var) bool {
	return v&mask != 0
}

// Kind returns v without its positional bit.
func (v Var) Kind() Var {
	return v & kindMask
}

// Position returns the filter dimension v descends from, or -1 when v has no
// positional bit.
func (v Var) Position() int {
	switch v & posMask {
	case Pos1:
		return 0
	case Pos2:
		return 1
	case Pos3:
		return 2
	case Pos4:
		return 3
	}
	return -1
}

// Valid reports whether v has at least one kind bit, no unknown bits and at
// most one positional bit.
func (v Var) Valid() bool {
	if v&^(kindMask|posMask) != 0 || v&kindMask == 0 {
		return false
	}
	p := v & posMask
	return p&(p-1) == 0
}

var varNames = []struct {
	bit  Var
	name string
}{
	{Full, "FULL"},
	{Inner, "INNER"},
	{Outer, "OUTER"},
	{Tail, "TAIL"},
	{Scan, "SCAN"},
	{Channel, "CHANNEL"},
	{Split, "SPLIT"},
	{Pos1, "__1"},
	{Pos2, "__2"},
	{Pos3, "__3"},
	{Pos4, "__4"},
}

// String returns the canonical form, kind bits first, e.g. "INNER|SCAN|__2".
func (v Var) String() string {
	if v == Invalid {
		return "INVALID"
	}
	var parts []string
	rest := v
	for _, n := range varNames {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04x", uint16(rest)))
	}
	return strings.Join(parts, "|")
}
