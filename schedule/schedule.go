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

// Package schedule loads the ordered sequence of reduction-step
// descriptors and solver choice that a pipeline run follows, from a
// YAML fixture. Hard-coded parameter schedules for named challenge
// instances are explicitly out of scope for the core pipeline (spec.md
// 1); this package is only the loader for test/demo fixtures that
// describe one such schedule, not a catalogue of real ones.
package schedule

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/fbbl-go/fbbl/category"
)

// Step describes one reduction step's category scheme plus the
// per-category capacity to give its destination store.
type Step struct {
	Sorting              string  `json:"sorting"`
	StartIndex           int     `json:"startIndex"`
	NumPositions         int     `json:"numPositions"`
	Selection            string  `json:"selection"`
	Precision            int     `json:"precision,omitempty"`
	Precision1           int     `json:"precision1,omitempty"`
	MetaSkipped          int     `json:"metaSkipped,omitempty"`
	CodedVariant         string  `json:"codedVariant,omitempty"`
	UnnaturalSelectionTs float64 `json:"unnaturalSelectionTs,omitempty"`
	UtsStartIndex        int     `json:"utsStartIndex,omitempty"`
	UtsNumPositions      int     `json:"utsNumPositions,omitempty"`
	DstCategoryCapacity  uint64  `json:"dstCategoryCapacity"`
	MaxPerPairLF2        int     `json:"maxPerPairLF2,omitempty"`
}

// Solver describes the final peak-finding stage: which transform to run
// and over how many positions.
type Solver struct {
	Kind                string `json:"kind"` // "fft" or "fwht"
	StartIndex          int    `json:"startIndex"`
	Positions           int    `json:"positions"`
	BruteForcePositions int    `json:"bruteForcePositions,omitempty"`
	NumThreads          int    `json:"numThreads,omitempty"`
	SoftInformation      bool   `json:"softInformation,omitempty"`
}

// Schedule is one end-to-end run descriptor: instance parameters, an
// ordered reduction schedule, whether to apply mod-2 projection before
// solving, and the solver to run last.
type Schedule struct {
	N              int     `json:"n"`
	Q              int     `json:"q"`
	Alpha          float64 `json:"alpha"`
	NumSeedSamples uint64  `json:"numSeedSamples"`
	Steps          []Step  `json:"steps"`
	Mod2           bool    `json:"mod2"`
	Solver         Solver  `json:"solver"`

	// ArchivePredecessors, when set, packages each step's source store
	// into a .tar.zst once its successor store has been sealed and
	// removes the original directory (spec.md 3's "original may be
	// deleted after its successor is sealed").
	ArchivePredecessors bool `json:"archivePredecessors,omitempty"`
}

// Load parses a YAML schedule fixture.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: reading %s: %w", path, err)
	}
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schedule: parsing %s: %w", path, err)
	}
	return &s, nil
}

// ToStepParameters converts a Step's YAML-friendly string fields into
// the enums category.StepParameters needs.
func (s Step) ToStepParameters() (category.StepParameters, error) {
	p := category.StepParameters{
		StartIndex:              s.StartIndex,
		NumPositions:            s.NumPositions,
		Precision:               s.Precision,
		Precision1:              s.Precision1,
		MetaSkipped:             s.MetaSkipped,
		UnnaturalSelectionTs:    s.UnnaturalSelectionTs,
		UnnaturalSelectionStart: s.UtsStartIndex,
		NumSelectionPositions:   s.UtsNumPositions,
	}
	switch s.Sorting {
	case "plainBKW":
		p.Sorting = category.PlainBKW
	case "LMS":
		p.Sorting = category.LMS
	case "smoothLMS":
		p.Sorting = category.SmoothLMS
	case "codedBKW":
		p.Sorting = category.CodedBKW
	default:
		return category.StepParameters{}, fmt.Errorf("schedule: unknown sorting %q", s.Sorting)
	}
	switch s.Selection {
	case "LF1":
		p.Selection = category.LF1
	case "LF2", "":
		p.Selection = category.LF2
	default:
		return category.StepParameters{}, fmt.Errorf("schedule: unknown selection %q", s.Selection)
	}
	if s.Sorting == "codedBKW" {
		switch s.CodedVariant {
		case "[2,1]", "":
			p.CodedVariant = category.Coded21
		case "[3,1]":
			p.CodedVariant = category.Coded31
		case "[4,1]":
			p.CodedVariant = category.Coded41
		case "concat[2,1][2,1]":
			p.CodedVariant = category.CodedConcat2121
		default:
			return category.StepParameters{}, fmt.Errorf("schedule: unknown codedBKW variant %q", s.CodedVariant)
		}
	}
	return p, nil
}
