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

	"github.com/ajroetker/go-recfilter/recfilter/coeff"
	"github.com/ajroetker/go-recfilter/recfilter/tag"
)

// Type is the element type of the filter output.
type Type int

const (
	Float32 Type = iota
	Float64
)

func (t Type) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Dimension describes the scans along one axis of the input.
type Dimension struct {
	// Var names the loop variable of the axis, e.g. "x".
	Var string

	// ImageWidth is the extent of the axis.
	ImageWidth int

	// TileWidth is the tile extent. Zero, or ImageWidth, leaves the axis
	// untiled.
	TileWidth int

	// Order is the filter order of every scan along the axis.
	Order int

	// Causal holds one entry per scan, in execution order: true scans
	// forward, false backward.
	Causal []bool
}

// RDom is the reduction domain a dimension's scans iterate over.
type RDom struct {
	Var    string
	Min    int
	Extent int
}

// FilterInfo describes the scans of one filtered dimension.
type FilterInfo struct {
	Order      int
	Dim        int
	NumScans   int
	ImageWidth int
	TileWidth  int
	Var        string
	RDom       RDom
	ScanCausal []bool
	ScanID     []int

	// Tiled is set by Tile; Untiled marks a dimension that stays whole,
	// either because it cannot be tiled or through MarkUntiled.
	Tiled   bool
	Untiled bool
}

// Tileable reports whether tiling applies to the dimension.
func (fi FilterInfo) Tileable() bool {
	return fi.TileWidth > 0 && fi.TileWidth < fi.ImageWidth
}

// NumTiles returns the number of tiles along the dimension.
func (fi FilterInfo) NumTiles() int {
	if !fi.Tileable() {
		return 1
	}
	return fi.ImageWidth / fi.TileWidth
}

func (fi FilterInfo) clone() FilterInfo {
	c := fi
	c.ScanCausal = append([]bool(nil), fi.ScanCausal...)
	c.ScanID = append([]int(nil), fi.ScanID...)
	return c
}

// buildInfos validates the per-dimension description and the coefficients
// and returns one FilterInfo per dimension plus the scan-major feedback
// matrix.
func buildInfos(spec Spec) ([]FilterInfo, *coeff.Matrix, problems) {
	var probs problems
	if spec.Name == "" {
		probs.addf("empty filter name")
	}
	if len(spec.Dims) == 0 {
		probs.addf("no dimensions")
	}
	if len(spec.Dims) > tag.MaxDims {
		probs.addf("%d dimensions, at most %d supported", len(spec.Dims), tag.MaxDims)
	}
	if spec.Channels < 0 {
		probs.addf("negative channel count %d", spec.Channels)
	}
	switch spec.Type {
	case Float32, Float64:
	default:
		probs.addf("unknown output type %v", spec.Type)
	}

	seen := make(map[string]bool)
	infos := make([]FilterInfo, 0, len(spec.Dims))
	maxOrder := 0
	numScans := 0
	for d, dim := range spec.Dims {
		name := dim.Var
		if name == "" {
			name = fmt.Sprintf("#%d", d)
			probs.addf("dimension %d: empty variable name", d)
		} else if seen[name] || name == channelVar {
			probs.addf("dimension %d: duplicate variable name %q", d, name)
		}
		seen[name] = true

		if dim.Order <= 0 {
			probs.addf("dimension %s: order %d must be positive", name, dim.Order)
		}
		if dim.ImageWidth <= 0 {
			probs.addf("dimension %s: image width %d must be positive", name, dim.ImageWidth)
		}
		if len(dim.Causal) == 0 {
			probs.addf("dimension %s: no scans", name)
		}
		tw := dim.TileWidth
		switch {
		case tw < 0:
			probs.addf("dimension %s: negative tile width %d", name, tw)
		case tw > dim.ImageWidth:
			probs.addf("dimension %s: tile width %d exceeds image width %d", name, tw, dim.ImageWidth)
		case tw > 0 && tw < dim.ImageWidth && dim.ImageWidth%tw != 0:
			probs.addf("dimension %s: tile width %d does not divide image width %d", name, tw, dim.ImageWidth)
		}
		if tw == 0 {
			tw = dim.ImageWidth
		}

		fi := FilterInfo{
			Order:      dim.Order,
			Dim:        d,
			NumScans:   len(dim.Causal),
			ImageWidth: dim.ImageWidth,
			TileWidth:  tw,
			Var:        name,
			RDom:       RDom{Var: "r" + name, Extent: dim.ImageWidth},
			ScanCausal: append([]bool(nil), dim.Causal...),
		}
		for range dim.Causal {
			fi.ScanID = append(fi.ScanID, numScans)
			numScans++
		}
		fi.Untiled = !fi.Tileable()
		maxOrder = max(maxOrder, dim.Order)
		infos = append(infos, fi)
	}

	if len(spec.Feedforward) != numScans {
		probs.addf("%d feedforward coefficients for %d scans", len(spec.Feedforward), numScans)
	}
	if len(spec.Feedback) != numScans {
		probs.addf("%d feedback coefficient rows for %d scans", len(spec.Feedback), numScans)
	}
	feedback := coeff.New(numScans, maxOrder)
	for _, fi := range infos {
		if fi.Tileable() && fi.TileWidth < maxOrder {
			probs.addf("dimension %s: tile width %d smaller than filter order %d", fi.Var, fi.TileWidth, maxOrder)
		}
		for _, s := range fi.ScanID {
			if s >= len(spec.Feedback) {
				continue
			}
			row := spec.Feedback[s]
			if len(row) < fi.Order {
				probs.addf("scan %d: %d feedback coefficients for order %d", s, len(row), fi.Order)
			}
			for j, a := range row {
				if j >= fi.Order {
					if a != 0 {
						probs.addf("scan %d: non-zero feedback coefficient %d beyond order %d", s, j+1, fi.Order)
					}
					continue
				}
				feedback.Set(s, j, a)
			}
		}
	}

	if spec.ClampBorder && len(probs) == 0 {
		for s := range numScans {
			if _, err := coeff.SteadyStateGain(feedback, s); err != nil {
				probs.addf("scan %d: clamped border needs a steady state: feedback coefficients sum to 1", s)
			}
		}
	}
	return infos, feedback, probs
}
