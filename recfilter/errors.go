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

	"github.com/pkg/errors"

	"github.com/ajroetker/go-recfilter/recfilter/target"
)

// ErrState is returned, wrapped with the offending call, when a lifecycle
// operation is invoked out of order: tiling twice, changing a finalized
// filter, compiling before finalizing, realizing before compiling, or using
// a released handle.
var ErrState = errors.New("recfilter: invalid lifecycle state")

func stateErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrState, format, args...)
}

// ConfigError reports an invalid filter description or an inconsistent
// decomposition. It lists every problem found, not just the first.
type ConfigError struct {
	Filter   string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("recfilter: filter %q: invalid configuration: %s", e.Filter, strings.Join(e.Problems, "; "))
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err(filter string) error {
	if len(p) == 0 {
		return nil
	}
	return &ConfigError{Filter: filter, Problems: p}
}

// CompileError reports that a backend rejected the filter. Diagnostic is the
// backend's message, unchanged.
type CompileError struct {
	Filter     string
	Target     target.Target
	Diagnostic string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("recfilter: compiling %q for %s: %s", e.Filter, e.Target, e.Diagnostic)
}

func (e *CompileError) Unwrap() error { return e.Err }
