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

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// phase returns the label a stage name carries for the operation.
func phase(op Op) string {
	label := op.String()
	if op == OpDirect {
		label = "full"
	}
	// A Caser keeps state, so each call gets its own.
	return cases.Title(language.Und).String(label)
}

// stageName returns the name of the stage computing scan (a global scan id)
// of dimension variable v: <filter>_<Phase>_<var><scan>.
func stageName(filter string, op Op, v string, scan int) string {
	return fmt.Sprintf("%s_%s_%s%d", filter, phase(op), v, scan)
}
