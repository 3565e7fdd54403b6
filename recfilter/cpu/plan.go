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

package cpu

import (
	"github.com/pkg/errors"

	"github.com/ajroetker/go-recfilter/recfilter"
	"github.com/ajroetker/go-recfilter/recfilter/coeff"
	"github.com/ajroetker/go-recfilter/recfilter/tag"
)

// scanInfo locates a global scan id.
type scanInfo struct {
	info   recfilter.FilterInfo
	causal bool
}

func scanIndex(g *recfilter.Graph) map[int]scanInfo {
	m := make(map[int]scanInfo)
	for _, fi := range g.Infos {
		for i, s := range fi.ScanID {
			m[s] = scanInfo{info: fi, causal: fi.ScanCausal[i]}
		}
	}
	return m
}

// plan returns the steps computing the output of g, in execution order.
func plan(g *recfilter.Graph) ([]step, error) {
	out := g.Output()
	scans := scanIndex(g)

	switch out.Def.Op {
	case recfilter.OpDirect:
		// Untiled filter: the output stage runs every scan itself.
		var steps []step
		for _, s := range out.Def.Scans {
			st, err := newDirect(g, out, scans, s)
			if err != nil {
				return nil, err
			}
			steps = append(steps, st)
		}
		return steps, nil
	case recfilter.OpGather:
	default:
		return nil, errors.Errorf("cpu: output stage %s: unexpected %v stage", out.Name, out.Def.Op)
	}
	if out.Tag != tag.Reindex || out.Producer != out.Def.Input {
		return nil, errors.Errorf("cpu: output stage %s is not a gather of its producer", out.Name)
	}

	// Walk the chain back to the input.
	var chain []*recfilter.Stage
	for id := out.Def.Input; id != recfilter.NoStage; {
		s, ok := g.Stage(id)
		if !ok {
			return nil, errors.Errorf("cpu: unknown stage %v", id)
		}
		if len(chain) >= len(g.Stages) {
			return nil, errors.Errorf("cpu: stage %s: cycle in the stage chain", s.Name)
		}
		chain = append(chain, s)
		id = s.Def.Input
	}

	steps := make([]step, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		s := chain[i]
		if len(s.Def.Scans) != 1 {
			return nil, errors.Errorf("cpu: stage %s computes %d scans, want 1", s.Name, len(s.Def.Scans))
		}
		var (
			st  step
			err error
		)
		switch s.Def.Op {
		case recfilter.OpDirect:
			st, err = newDirect(g, s, scans, s.Def.Scans[0])
		case recfilter.OpIntra:
			st, err = newTiled(g, s, scans)
		default:
			err = errors.Errorf("cpu: stage %s: unexpected %v stage in the chain", s.Name, s.Def.Op)
		}
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

// parallelism reports whether any definition of s runs a variable in
// parallel, and whether one of them is the tile index of dimension dim.
func parallelism(s *recfilter.Stage, dim int) (parallel, tiles bool) {
	check := func(ds []recfilter.Directive, tags map[string]tag.Var) {
		for _, d := range ds {
			if d.Kind != recfilter.Parallel {
				continue
			}
			parallel = true
			t := tags[d.Var]
			if t.Has(tag.Outer) && !t.Has(tag.Scan) && t.Position() == dim {
				tiles = true
			}
		}
	}
	check(s.PureSchedule, s.PureVarTags)
	for _, u := range s.Updates {
		check(u.Schedule, u.VarTags)
	}
	return parallel, tiles
}

func coefficients(g *recfilter.Graph, scan int) (b0 float32, a []float32, gain float32, err error) {
	if scan < 0 || scan >= len(g.Feedforward) || scan >= g.Feedback.Rows() {
		return 0, nil, 0, errors.Errorf("cpu: no coefficients for scan %d", scan)
	}
	if g.ClampBorder {
		if gain, err = coeff.SteadyStateGain(g.Feedback, scan); err != nil {
			return 0, nil, 0, err
		}
	}
	return g.Feedforward[scan], g.Feedback.Row(scan), gain, nil
}

func newDirect(g *recfilter.Graph, s *recfilter.Stage, scans map[int]scanInfo, scan int) (step, error) {
	si, ok := scans[scan]
	if !ok {
		return nil, errors.Errorf("cpu: stage %s: unknown scan %d", s.Name, scan)
	}
	b0, a, gain, err := coefficients(g, scan)
	if err != nil {
		return nil, errors.WithMessagef(err, "cpu: stage %s", s.Name)
	}
	parallel, _ := parallelism(s, si.info.Dim)
	return &directStep{
		stage:    s.Name,
		dim:      si.info.Dim,
		reverse:  !si.causal,
		b0:       b0,
		a:        a,
		clamp:    g.ClampBorder,
		gain:     gain,
		parallel: parallel,
	}, nil
}

func newTiled(g *recfilter.Graph, intra *recfilter.Stage, scans map[int]scanInfo) (step, error) {
	scan := intra.Def.Scans[0]
	si, ok := scans[scan]
	if !ok {
		return nil, errors.Errorf("cpu: stage %s: unknown scan %d", intra.Name, scan)
	}
	inter, ok := g.Stage(intra.Def.Carry)
	if !ok || inter.Tag != tag.Inter || inter.Def.Op != recfilter.OpInter {
		return nil, errors.Errorf("cpu: stage %s: no INTER stage carries its tiles", intra.Name)
	}
	tail, ok := g.Stage(inter.Def.Input)
	if !ok || tail.Tag != tag.Reindex || tail.Producer != intra.ID || tail.Consumer != inter.ID {
		return nil, errors.Errorf("cpu: stage %s: no tail stage links it to %s", intra.Name, inter.Name)
	}

	b0, a, gain, err := coefficients(g, scan)
	if err != nil {
		return nil, errors.WithMessagef(err, "cpu: stage %s", intra.Name)
	}
	w := si.info.TileWidth
	k := g.Feedback.Cols()
	b, err := coeff.B(g.Feedforward, g.Feedback, scan, w, g.ClampBorder)
	if err != nil {
		return nil, errors.WithMessagef(err, "cpu: stage %s", intra.Name)
	}
	bk := coeff.New(w, k)
	for i := range w {
		copy(bk.Row(i), b.Row(i)[:k])
	}
	correction, err := coeff.Mult(bk, coeff.Antidiagonal(k))
	if err != nil {
		return nil, errors.WithMessagef(err, "cpu: stage %s", intra.Name)
	}
	carry, err := coeff.CarryMatrix(g.Feedback, scan, w)
	if err != nil {
		return nil, errors.WithMessagef(err, "cpu: stage %s", intra.Name)
	}
	var border []float32
	if g.ClampBorder {
		border = make([]float32, w)
		for i := range border {
			border[i] = b.At(i, k)
		}
	}

	st := &tiledStep{
		stage:      intra.Name,
		dim:        si.info.Dim,
		reverse:    !si.causal,
		tileWidth:  w,
		tiles:      si.info.NumTiles(),
		order:      k,
		b0:         b0,
		a:          a,
		clamp:      g.ClampBorder,
		gain:       gain,
		correction: correction,
		carry:      carry,
		border:     border,
	}
	st.intraParallel, st.tileParallel = parallelism(intra, st.dim)
	st.tailParallel, _ = parallelism(tail, st.dim)
	st.interParallel, _ = parallelism(inter, st.dim)
	return st, nil
}
