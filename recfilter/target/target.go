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

// Package target describes the architecture a recursive filter is compiled
// for.
//
// Targets are written as dash-separated strings, arch-bits-os followed by
// features, e.g. "x86-64-linux-avx2-fma" or "arm-64-osx". The string "host"
// (optionally followed by features, "host-cuda") names the running machine
// as detected by golang.org/x/sys/cpu.
package target

import (
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
)

// Feature is an optional instruction set or device API.
type Feature string

// Known features.
const (
	SSE41  Feature = "sse41"
	AVX    Feature = "avx"
	AVX2   Feature = "avx2"
	AVX512 Feature = "avx512"
	FMA    Feature = "fma"
	NEON   Feature = "neon"
	SVE    Feature = "sve"
	SVE2   Feature = "sve2"
	CUDA   Feature = "cuda"
	OpenCL Feature = "opencl"
	Metal  Feature = "metal"
)

var knownFeatures = []Feature{SSE41, AVX, AVX2, AVX512, FMA, NEON, SVE, SVE2, CUDA, OpenCL, Metal}

// GPU reports whether f selects a device API rather than a CPU instruction
// set.
func (f Feature) GPU() bool {
	return f == CUDA || f == OpenCL || f == Metal
}

// Target is a compilation and execution target.
type Target struct {
	Arch     string // "x86", "arm", or another GOARCH family
	Bits     int    // 32 or 64
	OS       string // "linux", "osx", "windows", ...
	Features []Feature
}

// Host returns the target of the running process with the CPU features
// reported by golang.org/x/sys/cpu.
func Host() Target {
	t := Target{OS: hostOS()}
	t.Arch, t.Bits = hostArch()

	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasSSE41 {
			t.Features = append(t.Features, SSE41)
		}
		if cpu.X86.HasAVX {
			t.Features = append(t.Features, AVX)
		}
		if cpu.X86.HasAVX2 {
			t.Features = append(t.Features, AVX2)
		}
		if cpu.X86.HasAVX512F {
			t.Features = append(t.Features, AVX512)
		}
		if cpu.X86.HasFMA {
			t.Features = append(t.Features, FMA)
		}
	case "arm64":
		// ASIMD is part of the ARMv8-A base architecture.
		if cpu.ARM64.HasASIMD {
			t.Features = append(t.Features, NEON)
		}
		if cpu.ARM64.HasSVE {
			t.Features = append(t.Features, SVE)
		}
		if cpu.ARM64.HasSVE2 {
			t.Features = append(t.Features, SVE2)
		}
	}
	return t
}

func hostOS() string {
	if runtime.GOOS == "darwin" {
		return "osx"
	}
	return runtime.GOOS
}

func hostArch() (string, int) {
	switch runtime.GOARCH {
	case "amd64":
		return "x86", 64
	case "386":
		return "x86", 32
	case "arm64":
		return "arm", 64
	case "arm":
		return "arm", 32
	default:
		return runtime.GOARCH, 64
	}
}

// Parse reads a target string. Unknown features are an error.
func Parse(s string) (Target, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "-")
	if len(parts) == 0 || parts[0] == "" {
		return Target{}, errors.Errorf("target: empty target string")
	}

	var t Target
	var rest []string
	if parts[0] == "host" {
		t = Host()
		rest = parts[1:]
	} else {
		if len(parts) < 3 {
			return Target{}, errors.Errorf("target: %q is not arch-bits-os[-features]", s)
		}
		bits, err := strconv.Atoi(parts[1])
		if err != nil || (bits != 32 && bits != 64) {
			return Target{}, errors.Errorf("target: %q has invalid bit width %q", s, parts[1])
		}
		t = Target{Arch: parts[0], Bits: bits, OS: parts[2]}
		rest = parts[3:]
	}

	for _, p := range rest {
		f := Feature(p)
		if !slices.Contains(knownFeatures, f) {
			return Target{}, errors.Errorf("target: %q has unknown feature %q", s, p)
		}
		if !t.Has(f) {
			t.Features = append(t.Features, f)
		}
	}
	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Target {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Has reports whether t enables f.
func (t Target) Has(f Feature) bool {
	return slices.Contains(t.Features, f)
}

// GPU returns the first device feature of t, if any.
func (t Target) GPU() (Feature, bool) {
	for _, f := range t.Features {
		if f.GPU() {
			return f, true
		}
	}
	return "", false
}

// MatchesHost reports whether code for t can run on this machine's
// architecture and operating system. Features are not compared.
func (t Target) MatchesHost() bool {
	arch, bits := hostArch()
	return t.Arch == arch && t.Bits == bits && t.OS == hostOS()
}

// String returns the canonical target string.
func (t Target) String() string {
	parts := []string{t.Arch, strconv.Itoa(t.Bits), t.OS}
	for _, f := range t.Features {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, "-")
}
