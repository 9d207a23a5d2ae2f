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

// Package category computes the destination category of a sample's
// leading coordinates for each of the four supported BKW sorting modes,
// and provides the textual (de)serialization of a bkw-step-parameters
// descriptor used by the sorting = ... line of samples_info.txt.
package category

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fbbl-go/fbbl/lwe"
)

// Sorting identifies one of the four supported sorting modes.
type Sorting int

const (
	PlainBKW Sorting = iota
	LMS
	SmoothLMS
	CodedBKW

	// Final marks a fully reduced, solve-ready store: every sample
	// lands in the single category 0, so FinalStep and Mod2Projection
	// can hand their flat output to storage.NewReader without a real
	// destination category scheme.
	Final
)

func (s Sorting) String() string {
	switch s {
	case PlainBKW:
		return "plainBKW"
	case LMS:
		return "LMS"
	case SmoothLMS:
		return "smoothLMS"
	case CodedBKW:
		return "codedBKW"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// Selection identifies the LF1 or LF2 sample-combination strategy.
type Selection int

const (
	LF1 Selection = iota
	LF2
)

func (s Selection) String() string {
	if s == LF1 {
		return "LF1"
	}
	return "LF2"
}

// CodedVariant enumerates the codedBKW linear-code decoder variants.
type CodedVariant int

const (
	Coded21 CodedVariant = iota
	Coded31
	Coded41
	CodedConcat2121
)

func (v CodedVariant) String() string {
	switch v {
	case Coded21:
		return "[2,1]"
	case Coded31:
		return "[3,1]"
	case Coded41:
		return "[4,1]"
	case CodedConcat2121:
		return "concat[2,1][2,1]"
	default:
		return "unknown"
	}
}

// StepParameters describes one reduction step's destination category
// scheme: which mode, which coordinate block it sorts on, and the
// LF1/LF2 combination strategy, plus mode-specific fields.
type StepParameters struct {
	Sorting      Sorting
	StartIndex   int
	NumPositions int
	Selection    Selection

	// LMS / smoothLMS
	Precision  int // p
	Precision1 int // p1, smoothLMS only

	// smoothLMS meta-skip bookkeeping
	MetaSkipped int // 0, 1 or 2
	PrevP1      int // bucket width carried from the previous step's last position

	// unnatural-selection quality filter (0 disables it)
	UnnaturalSelectionTs       float64
	UnnaturalSelectionStart    int
	NumSelectionPositions      int

	// codedBKW
	CodedVariant CodedVariant
}

// String renders the descriptor in the "sorting = ..." grammar used by
// samples_info.txt, round-tripped by ParseStepParameters.
func (p StepParameters) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s startIndex=%d numPositions=%d selection=%s",
		p.Sorting, p.StartIndex, p.NumPositions, p.Selection)
	switch p.Sorting {
	case LMS:
		fmt.Fprintf(&sb, " p=%d", p.Precision)
	case SmoothLMS:
		fmt.Fprintf(&sb, " p=%d p1=%d metaSkipped=%d prevP1=%d", p.Precision, p.Precision1, p.MetaSkipped, p.PrevP1)
	case CodedBKW:
		fmt.Fprintf(&sb, " variant=%s", p.CodedVariant)
	}
	if p.UnnaturalSelectionTs > 0 {
		fmt.Fprintf(&sb, " uts=%v utsStart=%d utsNumPos=%d", p.UnnaturalSelectionTs, p.UnnaturalSelectionStart, p.NumSelectionPositions)
	}
	return sb.String()
}

// ParseStepParameters parses the descriptor produced by String.
func ParseStepParameters(s string) (StepParameters, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return StepParameters{}, fmt.Errorf("category: empty step descriptor")
	}
	var p StepParameters
	switch fields[0] {
	case "plainBKW":
		p.Sorting = PlainBKW
	case "LMS":
		p.Sorting = LMS
	case "smoothLMS":
		p.Sorting = SmoothLMS
	case "codedBKW":
		p.Sorting = CodedBKW
	case "final":
		p.Sorting = Final
	default:
		return StepParameters{}, fmt.Errorf("category: unknown sorting mode %q", fields[0])
	}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return StepParameters{}, fmt.Errorf("category: malformed field %q", f)
		}
		var err error
		switch k {
		case "startIndex":
			p.StartIndex, err = strconv.Atoi(v)
		case "numPositions":
			p.NumPositions, err = strconv.Atoi(v)
		case "selection":
			if v == "LF1" {
				p.Selection = LF1
			} else {
				p.Selection = LF2
			}
		case "p":
			p.Precision, err = strconv.Atoi(v)
		case "p1":
			p.Precision1, err = strconv.Atoi(v)
		case "metaSkipped":
			p.MetaSkipped, err = strconv.Atoi(v)
		case "prevP1":
			p.PrevP1, err = strconv.Atoi(v)
		case "variant":
			switch v {
			case "[2,1]":
				p.CodedVariant = Coded21
			case "[3,1]":
				p.CodedVariant = Coded31
			case "[4,1]":
				p.CodedVariant = Coded41
			case "concat[2,1][2,1]":
				p.CodedVariant = CodedConcat2121
			default:
				return StepParameters{}, fmt.Errorf("category: unknown codedBKW variant %q", v)
			}
		case "uts":
			p.UnnaturalSelectionTs, err = strconv.ParseFloat(v, 64)
		case "utsStart":
			p.UnnaturalSelectionStart, err = strconv.Atoi(v)
		case "utsNumPos":
			p.NumSelectionPositions, err = strconv.Atoi(v)
		default:
			return StepParameters{}, fmt.Errorf("category: unknown field %q", k)
		}
		if err != nil {
			return StepParameters{}, err
		}
	}
	return p, nil
}

// CategoryIndex computes the destination category for a full sample
// under this step's parameters, dispatching to the mode-specific
// implementation over the active block of coordinates.
func CategoryIndex(inst *lwe.Instance, s *lwe.Sample, p StepParameters) uint64 {
	return CategoryIndexFromPartial(inst, s.A[:], p)
}

// CategoryIndexFromPartial computes the category index from a bare
// coordinate slice, used by sample combination before a full Sample
// record has been materialized.
func CategoryIndexFromPartial(inst *lwe.Instance, a []int16, p StepParameters) uint64 {
	block := a[p.StartIndex : p.StartIndex+p.NumPositions]
	switch p.Sorting {
	case PlainBKW:
		return categoryIndexPlainBKW(inst.Q, block)
	case LMS:
		return categoryIndexLMS(inst.Q, p.Precision, block)
	case SmoothLMS:
		var next int16
		if p.StartIndex+p.NumPositions < inst.N {
			next = a[p.StartIndex+p.NumPositions]
		}
		return categoryIndexSmoothLMS(inst.Q, p, block, next)
	case CodedBKW:
		return categoryIndexCodedBKW(inst.Q, p.CodedVariant, block)
	case Final:
		return 0
	default:
		panic("category: unknown sorting mode")
	}
}

// NumCategories returns the total category count for a given mode and
// step configuration.
func NumCategories(inst *lwe.Instance, p StepParameters) uint64 {
	switch p.Sorting {
	case PlainBKW:
		return numCategoriesPlainBKW(inst.Q, p.NumPositions)
	case LMS:
		return numCategoriesLMS(inst.Q, p.Precision, p.NumPositions)
	case SmoothLMS:
		return numCategoriesSmoothLMS(inst.Q, p)
	case CodedBKW:
		return numCategoriesCodedBKW(inst.Q, p.CodedVariant)
	case Final:
		return 1
	default:
		panic("category: unknown sorting mode")
	}
}

// IsSingleton reports whether category i pairs only with itself (its
// additive inverse lands in the same category) under this step's mode.
func IsSingleton(inst *lwe.Instance, p StepParameters, categoryIndex, numCategories uint64) bool {
	switch p.Sorting {
	case PlainBKW:
		return isSingletonPlainBKW(inst.Q, p.NumPositions, categoryIndex)
	case LMS:
		return isLMSSingleton(inst.Q, p.Precision, p.NumPositions, categoryIndex)
	case SmoothLMS:
		return isSmoothLMSSingleton(inst.Q, p, categoryIndex)
	case CodedBKW:
		return isCodedBKWSingleton(inst.Q, p.CodedVariant, categoryIndex)
	case Final:
		return true
	default:
		return false
	}
}
