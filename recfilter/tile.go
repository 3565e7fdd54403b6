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
	"github.com/ajroetker/go-recfilter/recfilter/tag"
)

// Tile decomposes every tileable dimension that was not marked untiled.
//
// Each scan of a tiled dimension becomes three stages: an INTRA stage
// computing the scan inside every tile from zero state and completing the
// tile once its carry is known, a REINDEX stage gathering the last order
// elements of every tile, and an INTER stage carrying those tails across
// tiles. Scans of the remaining dimensions run over their full extent in
// their own stage. The filter's own stage becomes the REINDEX stage writing
// the last result back to global coordinates.
//
// Tile may be called once. On error the filter is unchanged.
func (rf *RecFilter) Tile() error {
	c, err := rf.get("Tile")
	if err != nil {
		return err
	}
	if err := c.mutable("Tile"); err != nil {
		return err
	}
	if c.tiled {
		return stateErrorf("Tile: filter %q is already tiled", c.name)
	}

	tiled := make([]bool, len(c.infos))
	some := false
	for d, fi := range c.infos {
		tiled[d] = !fi.Untiled && !fi.Tiled && fi.Tileable()
		some = some || tiled[d]
	}
	if !some {
		var probs problems
		probs.addf("no tileable dimension")
		return probs.err(c.name)
	}

	b := &tiler{c: c, tiled: tiled, pure: c.pureVars(tiled)}
	b.build()

	// Commit.
	c.stages = b.stages
	c.byName = b.byName
	for d := range c.infos {
		if tiled[d] {
			c.infos[d].Tiled = true
		}
	}
	c.tiled = true
	dec := rf.Decomposition()
	c.log.Debug("tiled",
		"stages", len(c.stages),
		"intra_tiles", dec.IntraTiles,
		"carries", dec.Carries)
	return nil
}

// tiler builds the tiled stage graph without touching the filter.
type tiler struct {
	c     *contents
	tiled []bool
	pure  *varSet

	stages []*Stage
	byName map[string]StageID
}

func (b *tiler) add(s *Stage) StageID {
	s.ID = StageID(len(b.stages))
	b.stages = append(b.stages, s)
	b.byName[s.Name] = s.ID
	return s.ID
}

func (b *tiler) stage(op Op, t tag.Func, v string, scan int, vs *varSet) *Stage {
	return &Stage{
		Name:        stageName(b.c.name, op, v, scan),
		Tag:         t,
		PureVars:    append([]string(nil), vs.names...),
		PureVarTags: vs.update().VarTags,
		PureSplits:  map[string]string{},
		Producer:    NoStage,
		Consumer:    NoStage,
	}
}

// tailVars returns the vars of the tail and carry stages of dimension d:
// the position within the tile becomes a tail index.
func (b *tiler) tailVars(d int) *varSet {
	fi := b.c.infos[d]
	inner := fi.Var + "i"
	vs := newVarSet()
	for _, name := range b.pure.names {
		if name == inner {
			vs.add(fi.Var+"t", tag.Tail|tag.Pos(d))
			continue
		}
		vs.add(name, b.pure.tags[name])
	}
	return vs
}

// intraTag names a within-tile stage by how many scans it computes.
func intraTag(scans int) tag.Func {
	if scans == 1 {
		return tag.Intra1
	}
	return tag.IntraN
}

func (b *tiler) build() {
	c := b.c
	b.byName = make(map[string]StageID)

	out := c.stages[0].clone()
	b.add(out)

	prev := NoStage
	for d, fi := range c.infos {
		pos := tag.Pos(d)
		for _, scan := range fi.ScanID {
			if !b.tiled[d] {
				full := b.stage(OpDirect, tag.Inline, fi.Var, scan, b.pure)
				full.Def = Definition{Op: OpDirect, Dim: d, Scans: []int{scan}, Input: prev, Carry: NoStage, Tiles: 1}
				full.Updates = []Update{scanUpdate(b.pure, fi.Var, fi.RDom.Var, tag.Full|tag.Scan|pos)}
				prev = b.add(full)
				continue
			}

			tiles := fi.NumTiles()
			inner, outer := fi.Var+"i", fi.Var+"o"

			scans := []int{scan}
			intra := b.stage(OpIntra, intraTag(len(scans)), fi.Var, scan, b.pure)
			intra.Def = Definition{Op: OpIntra, Dim: d, Scans: scans, Input: prev, Tiles: tiles}
			intra.Updates = []Update{
				scanUpdate(b.pure, inner, "r"+inner, tag.Inner|tag.Scan|pos),
				b.pure.update(),
			}
			intraID := b.add(intra)

			tv := b.tailVars(d)
			tail := b.stage(OpTail, tag.Reindex, fi.Var, scan, tv)
			tail.Def = Definition{Op: OpTail, Dim: d, Scans: []int{scan}, Input: intraID, Carry: NoStage, Tiles: tiles}
			tail.Producer = intraID
			tailID := b.add(tail)

			inter := b.stage(OpInter, tag.Inter, fi.Var, scan, tv)
			inter.Def = Definition{Op: OpInter, Dim: d, Scans: []int{scan}, Input: tailID, Carry: NoStage, Tiles: tiles}
			inter.Updates = []Update{scanUpdate(tv, outer, "r"+outer, tag.Outer|tag.Scan|pos)}
			interID := b.add(inter)

			tail.Consumer = interID
			intra.Def.Carry = interID
			prev = intraID
		}
	}

	// The filter's stage now only gathers the last result.
	out.Tag = tag.Reindex
	out.Def = Definition{Op: OpGather, Dim: -1, Input: prev, Carry: NoStage, Tiles: 1}
	out.Updates = nil
	out.Producer = prev
	out.Consumer = OutputStage
}

// MarkUntiled keeps dimension v whole: Tile leaves it alone and Finalize
// accepts it untiled. It must be called before Tile.
func (rf *RecFilter) MarkUntiled(v string) error {
	c, err := rf.get("MarkUntiled")
	if err != nil {
		return err
	}
	if err := c.mutable("MarkUntiled"); err != nil {
		return err
	}
	if c.tiled {
		return stateErrorf("MarkUntiled: filter %q is already tiled", c.name)
	}
	for d := range c.infos {
		if c.infos[d].Var == v {
			c.infos[d].Untiled = true
			return nil
		}
	}
	var probs problems
	probs.addf("MarkUntiled: unknown dimension %q", v)
	return probs.err(c.name)
}
