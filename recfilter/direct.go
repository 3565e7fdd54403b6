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
	"github.com/pkg/errors"

	"github.com/ajroetker/go-recfilter/internal/kernel"
	"github.com/ajroetker/go-recfilter/recfilter/buffer"
	"github.com/ajroetker/go-recfilter/recfilter/coeff"
)

// Direct filters in with the plain recursion, one scan after the other over
// whole lines, and returns the result. It works in every state and is the
// reference compiled programs are checked against.
func (rf *RecFilter) Direct(in *buffer.Buffer) (*buffer.Buffer, error) {
	c, err := rf.get("Direct")
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, errors.Wrapf(buffer.ErrShape, "Direct: filter %q: nil input", c.name)
	}
	if err := in.CheckShape(inputShape(c.infos, c.channels)...); err != nil {
		return nil, errors.WithMessagef(err, "Direct: filter %q", c.name)
	}
	out := in.Clone()
	for _, fi := range c.infos {
		for i, scan := range fi.ScanID {
			a := c.feedback.Row(scan)[:fi.Order]
			var gain float32
			if c.clamped {
				if gain, err = coeff.SteadyStateGain(c.feedback, scan); err != nil {
					return nil, errors.WithMessagef(err, "Direct: filter %q scan %d", c.name, scan)
				}
			}
			for l := range out.Lines(fi.Dim) {
				line := kernel.LineOf(out, fi.Dim, l, !fi.ScanCausal[i])
				kernel.Scan(line, line, c.feedfwd[scan], a, c.clamped, gain)
			}
		}
	}
	return out, nil
}
