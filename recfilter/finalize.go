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

	"github.com/ajroetker/go-recfilter/recfilter/tag"
)

// ComputeAt records that stage, outside the filter, consumes the filter's
// output at its loop variable v, so the backend can fuse the last stage into
// it. It must be called before Finalize.
func (rf *RecFilter) ComputeAt(stage, v string) error {
	c, err := rf.get("ComputeAt")
	if err != nil {
		return err
	}
	if err := c.mutable("ComputeAt"); err != nil {
		return err
	}
	var probs problems
	if stage == "" {
		probs.addf("ComputeAt: empty consumer stage")
	}
	if v == "" {
		probs.addf("ComputeAt: empty consumer variable")
	}
	if _, ok := c.byName[stage]; ok {
		probs.addf("ComputeAt: %q is a stage of the filter", stage)
	}
	if err := probs.err(c.name); err != nil {
		return err
	}
	c.stages[0].External = &ExternalConsumer{Stage: stage, Var: v}
	return nil
}

// Finalize checks the decomposition and freezes the stage graph. Every
// dimension must be tiled or marked untiled, every stage must carry a
// valid function tag and valid variable tags, and every REINDEX stage must
// link one producer to one consumer. All problems found are reported in a
// single *ConfigError and leave the filter unchanged.
func (rf *RecFilter) Finalize() error {
	c, err := rf.get("Finalize")
	if err != nil {
		return err
	}
	if err := c.mutable("Finalize"); err != nil {
		return err
	}
	var probs problems
	c.checkInfos(&probs)
	if ext := c.stages[0].External; ext != nil {
		// Tile may have created a stage of that name after ComputeAt.
		if _, ok := c.byName[ext.Stage]; ok {
			probs.addf("external consumer %q collides with a stage of the filter", ext.Stage)
		}
	}
	for _, s := range c.stages {
		c.checkStage(s, &probs)
	}
	if err := probs.err(c.name); err != nil {
		c.log.Warn("finalize failed", "problems", len(probs))
		return err
	}
	c.finalized = true
	c.log.Debug("finalized", "stages", len(c.stages))
	return nil
}

func (c *contents) checkInfos(probs *problems) {
	for _, fi := range c.infos {
		if !fi.Tiled && !fi.Untiled {
			probs.addf("dimension %s: neither tiled nor marked untiled", fi.Var)
		}
	}
}

func (c *contents) validID(id StageID) bool {
	return id >= 0 && int(id) < len(c.stages)
}

func (c *contents) checkStage(s *Stage, probs *problems) {
	if !s.Tag.Valid() {
		probs.addf("stage %s: invalid function tag %v", s.Name, s.Tag)
	}
	c.checkVars(s.Name, "pure definition", s.PureVars, s.PureVarTags, 0, probs)
	for i, u := range s.Updates {
		want := 0
		if s.Def.Op != OpIntra || i == 0 {
			want = 1
		}
		c.checkVars(s.Name, fmt.Sprintf("update %d", i), u.Vars, u.VarTags, want, probs)
	}

	if s.Tag == tag.Reindex {
		switch {
		case !c.validID(s.Producer):
			probs.addf("stage %s: REINDEX stage without producer", s.Name)
		case s.Producer == s.ID:
			probs.addf("stage %s: REINDEX stage produces itself", s.Name)
		}
		switch {
		case s.Consumer == OutputStage && s.ID != 0:
			probs.addf("stage %s: only the output stage feeds the filter output", s.Name)
		case s.Consumer != OutputStage && !c.validID(s.Consumer):
			probs.addf("stage %s: REINDEX stage without consumer", s.Name)
		}
	} else if s.Producer != NoStage || s.Consumer != NoStage {
		probs.addf("stage %s: producer/consumer links on a %v stage", s.Name, s.Tag)
	}
	if s.External != nil && s.ID != 0 {
		probs.addf("stage %s: external consumer on an inner stage", s.Name)
	}

	switch s.Def.Op {
	case OpIntra:
		if !c.validID(s.Def.Carry) || c.stages[s.Def.Carry].Tag != tag.Inter {
			probs.addf("stage %s: no INTER stage carries its tiles", s.Name)
			return
		}
		inter := c.stages[s.Def.Carry]
		if !c.validID(inter.Def.Input) {
			probs.addf("stage %s: no tail stage feeds it", inter.Name)
			return
		}
		tail := c.stages[inter.Def.Input]
		if tail.Tag != tag.Reindex || tail.Producer != s.ID || tail.Consumer != inter.ID {
			probs.addf("stage %s: tail stage %s does not link %s to %s", s.Name, tail.Name, s.Name, inter.Name)
		}
	case OpGather:
		if s.Def.Input != s.Producer {
			probs.addf("stage %s: gathers from %v but its producer is %v", s.Name, s.Def.Input, s.Producer)
		}
	}
	if s.Def.Input != NoStage && !c.validID(s.Def.Input) {
		probs.addf("stage %s: unknown input stage %v", s.Name, s.Def.Input)
	}
}

// checkVars checks the variable tags of one definition, which must scan
// exactly scans variables.
func (c *contents) checkVars(stage, def string, vars []string, tags map[string]tag.Var, scans int, probs *problems) {
	n := 0
	for _, v := range vars {
		t, ok := tags[v]
		switch {
		case !ok:
			probs.addf("stage %s %s: variable %s has no tag", stage, def, v)
			continue
		case !t.Valid():
			probs.addf("stage %s %s: variable %s has invalid tag %v", stage, def, v, t)
			continue
		case t.Position() >= len(c.infos):
			probs.addf("stage %s %s: variable %s tagged with dimension %d of %d", stage, def, v, t.Position()+1, len(c.infos))
		}
		if t.Has(tag.Scan) {
			n++
		}
	}
	if n != scans {
		probs.addf("stage %s %s: %d scan variables, want %d", stage, def, n, scans)
	}
}
