// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"os"
	"path/filepath"
	"testing"
)

// Each scenario below is a toy-scale (n=8 or 9, q=23) stand-in for one
// of the four sorting modes plus the FFT and FWHT solvers, sized so the
// whole pipeline runs against kilobytes-to-low-megabytes of store data
// instead of the hundreds of gigabytes a production-scale schedule
// would need.

const scenarioAPlainBKWFFT = `
n: 8
q: 23
alpha: 0.05
numSeedSamples: 8000
steps:
  - sorting: plainBKW
    startIndex: 0
    numPositions: 2
    selection: LF1
    dstCategoryCapacity: 80
  - sorting: plainBKW
    startIndex: 2
    numPositions: 2
    selection: LF1
    dstCategoryCapacity: 80
  - sorting: plainBKW
    startIndex: 4
    numPositions: 2
    selection: LF1
    dstCategoryCapacity: 80
mod2: false
solver:
  kind: fft
  startIndex: 6
  positions: 2
`

const scenarioBCodedBKWFWHT = `
n: 8
q: 23
alpha: 0.03
numSeedSamples: 8000
steps:
  - sorting: codedBKW
    startIndex: 0
    numPositions: 2
    selection: LF1
    codedVariant: "[2,1]"
    dstCategoryCapacity: 80
  - sorting: codedBKW
    startIndex: 2
    numPositions: 2
    selection: LF1
    codedVariant: "[2,1]"
    dstCategoryCapacity: 80
  - sorting: codedBKW
    startIndex: 4
    numPositions: 2
    selection: LF1
    codedVariant: "[2,1]"
    dstCategoryCapacity: 80
  - sorting: codedBKW
    startIndex: 6
    numPositions: 2
    selection: LF1
    codedVariant: "[2,1]"
    dstCategoryCapacity: 80
mod2: true
solver:
  kind: fwht
  startIndex: 0
  positions: 8
`

const scenarioCLMSFWHTBruteForce = `
n: 8
q: 23
alpha: 0.03
numSeedSamples: 8000
steps:
  - sorting: LMS
    startIndex: 0
    numPositions: 4
    selection: LF2
    precision: 5
    dstCategoryCapacity: 150
  - sorting: LMS
    startIndex: 4
    numPositions: 4
    selection: LF2
    precision: 5
    dstCategoryCapacity: 150
mod2: true
solver:
  kind: fwht
  startIndex: 0
  positions: 6
  bruteForcePositions: 2
  numThreads: 2
`

const scenarioDSmoothLMSMetaSkipped = `
n: 9
q: 23
alpha: 0.03
numSeedSamples: 6000
steps:
  - sorting: smoothLMS
    startIndex: 0
    numPositions: 3
    selection: LF2
    precision: 3
    precision1: 5
    metaSkipped: 1
    dstCategoryCapacity: 150
  - sorting: smoothLMS
    startIndex: 3
    numPositions: 3
    selection: LF2
    precision: 3
    precision1: 5
    metaSkipped: 1
    dstCategoryCapacity: 150
  - sorting: smoothLMS
    startIndex: 6
    numPositions: 3
    selection: LF2
    precision: 3
    precision1: 5
    metaSkipped: 1
    dstCategoryCapacity: 150
mod2: true
solver:
  kind: fwht
  startIndex: 0
  positions: 8
  bruteForcePositions: 1
  numThreads: 1
`

const scenarioESmoothLMSSchedule = `
n: 8
q: 23
alpha: 0.05
numSeedSamples: 8000
steps:
  - sorting: smoothLMS
    startIndex: 0
    numPositions: 2
    selection: LF2
    precision: 2
    precision1: 5
    dstCategoryCapacity: 150
  - sorting: smoothLMS
    startIndex: 2
    numPositions: 2
    selection: LF2
    precision: 3
    precision1: 5
    dstCategoryCapacity: 150
  - sorting: smoothLMS
    startIndex: 4
    numPositions: 2
    selection: LF2
    precision: 5
    precision1: 5
    dstCategoryCapacity: 150
  - sorting: smoothLMS
    startIndex: 6
    numPositions: 2
    selection: LF2
    precision: 6
    precision1: 5
    dstCategoryCapacity: 150
mod2: true
solver:
  kind: fwht
  startIndex: 0
  positions: 8
`

func runScenario(t *testing.T, yamlBody string) RunResult {
	t.Helper()
	dir := t.TempDir()
	schedulePath := filepath.Join(dir, "schedule.yaml")
	if err := os.WriteFile(schedulePath, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("writing schedule fixture: %v", err)
	}
	res, err := run(schedulePath, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

// TestScenarioAPlainBKWFFT drives a plainBKW reduction down to 2
// unreduced positions and solves them with the direct FFT peak finder.
func TestScenarioAPlainBKWFFT(t *testing.T) {
	res := runScenario(t, scenarioAPlainBKWFFT)
	if res.SolverKind != "fft" {
		t.Fatalf("SolverKind = %q, want fft", res.SolverKind)
	}
	if len(res.Positions) != 2 {
		t.Fatalf("len(Positions) = %d, want 2", len(res.Positions))
	}
}

// TestScenarioBCodedBKWFWHT drives a codedBKW reduction spanning every
// coordinate, mod-2 projects, and solves the full bit vector with FWHT.
func TestScenarioBCodedBKWFWHT(t *testing.T) {
	res := runScenario(t, scenarioBCodedBKWFWHT)
	if res.SolverKind != "fwht" {
		t.Fatalf("SolverKind = %q, want fwht", res.SolverKind)
	}
	if len(res.Positions) != 8 {
		t.Fatalf("len(Positions) = %d, want 8", len(res.Positions))
	}
}

// TestScenarioCLMSFWHTBruteForce exercises the LMS sorting mode and the
// brute-force hybrid FWHT solver.
func TestScenarioCLMSFWHTBruteForce(t *testing.T) {
	res := runScenario(t, scenarioCLMSFWHTBruteForce)
	if res.SolverKind != "fwht" {
		t.Fatalf("SolverKind = %q, want fwht", res.SolverKind)
	}
	if len(res.Positions) != 6 {
		t.Fatalf("len(Positions) = %d, want 6", len(res.Positions))
	}
	if len(res.BruteForce) != 2 {
		t.Fatalf("len(BruteForce) = %d, want 2", len(res.BruteForce))
	}
}

// TestScenarioDSmoothLMSMetaSkipped exercises smoothLMS with a
// meta-skipped trailing position and a single-position brute force.
func TestScenarioDSmoothLMSMetaSkipped(t *testing.T) {
	res := runScenario(t, scenarioDSmoothLMSMetaSkipped)
	if res.SolverKind != "fwht" {
		t.Fatalf("SolverKind = %q, want fwht", res.SolverKind)
	}
	if len(res.Positions) != 8 {
		t.Fatalf("len(Positions) = %d, want 8", len(res.Positions))
	}
	if len(res.BruteForce) != 1 {
		t.Fatalf("len(BruteForce) = %d, want 1", len(res.BruteForce))
	}
}

// TestScenarioESmoothLMSSchedule exercises a smoothLMS precision ladder
// that widens p from one step to the next.
func TestScenarioESmoothLMSSchedule(t *testing.T) {
	res := runScenario(t, scenarioESmoothLMSSchedule)
	if res.SolverKind != "fwht" {
		t.Fatalf("SolverKind = %q, want fwht", res.SolverKind)
	}
	if len(res.Positions) != 8 {
		t.Fatalf("len(Positions) = %d, want 8", len(res.Positions))
	}
}
