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

package category

import "sync"

// smoothLMSDigitSpecs builds the mixed-radix digit sequence that
// categoryIndexSmoothLMS encodes a sample's kept positions into: cP
// digits (zero point halfP) for every kept position but the last, a cP1
// digit (zero point halfP1) for the last kept position, and — when no
// positions are meta-skipped — one more cP1 digit for the next block's
// first position. Both the index itself and its symmetric-table
// negation (smoothLMSTable) must walk this exact same sequence.
func smoothLMSDigitSpecs(q int, p StepParameters) []digitSpec {
	n := p.NumPositions
	skip := p.MetaSkipped
	if skip > n {
		skip = n
	}
	kept := n - skip

	cP := lmsRange(q, p.Precision)
	cP1 := lmsRange(q, p.Precision1)
	halfP := cP/2 + 1
	halfP1 := cP1/2 + 1

	var specs []digitSpec
	for i := 0; i < kept; i++ {
		if i == kept-1 {
			specs = append(specs, digitSpec{radix: cP1, zero: halfP1})
		} else {
			specs = append(specs, digitSpec{radix: cP, zero: halfP})
		}
	}
	if skip == 0 {
		specs = append(specs, digitSpec{radix: cP1, zero: halfP1})
	}
	return specs
}

// smoothLMSTableKey identifies one smoothLMS symmetric-index table.
type smoothLMSTableKey struct {
	q, precision, precision1, metaSkipped, numPositions int
}

var (
	smoothLMSTableMu sync.Mutex
	smoothLMSTables  = map[smoothLMSTableKey]*symmetricIndex{}
)

func smoothLMSTable(q int, p StepParameters) *symmetricIndex {
	key := smoothLMSTableKey{q, p.Precision, p.Precision1, p.MetaSkipped, p.NumPositions}
	smoothLMSTableMu.Lock()
	defer smoothLMSTableMu.Unlock()
	if t, ok := smoothLMSTables[key]; ok {
		return t
	}
	specs := smoothLMSDigitSpecs(q, p)
	size := 1
	for _, s := range specs {
		size *= s.radix
	}
	t := buildSymmetricIndex(size, func(key int) int { return reflectDigits(key, specs) })
	smoothLMSTables[key] = t
	return t
}

// categoryIndexSmoothLMS is like LMS but applies precision p1 (rather
// than p) to the block's last position, and to the first position of
// the next block (passed in as "next"), following the two-scale scheme
// described in spec.md 4.2. When MetaSkipped > 0, the corresponding
// trailing positions are excluded from the sort-time index entirely —
// they are instead sub-bucketed at combination time (see
// transition.subBucketScheme) to avoid category-count explosion.
// The raw digit-tuple key is remapped through smoothLMSTable so that a
// tuple and its folded negation land at adjacent compact indices, the
// same guarantee plainBKW's constructive table provides (spec.md 4.2,
// 4.4).
func categoryIndexSmoothLMS(q int, p StepParameters, block []int16, next int16) uint64 {
	n := len(block)
	skip := p.MetaSkipped
	if skip > n {
		skip = n
	}
	kept := block[:n-skip]

	cP := lmsRange(q, p.Precision)
	cP1 := lmsRange(q, p.Precision1)
	halfP := cP/2 + 1
	halfP1 := cP1/2 + 1

	raw := 0
	for i, v := range kept {
		isLast := i == len(kept)-1 && skip == 0
		if isLast {
			f := foldLMS(int(v), q, p.Precision1) + halfP1
			raw = raw*cP1 + f
		} else {
			f := foldLMS(int(v), q, p.Precision) + halfP
			raw = raw*cP + f
		}
	}
	if skip == 0 {
		// fold the next block's first position at p1 precision too,
		// carrying the scale forward the way prev_p1 records it.
		f := foldLMS(int(next), q, p.Precision1) + halfP1
		raw = raw*cP1 + f
	}
	return uint64(smoothLMSTable(q, p).compact[raw])
}

func numCategoriesSmoothLMS(q int, p StepParameters) uint64 {
	n := p.NumPositions
	skip := p.MetaSkipped
	if skip > n {
		skip = n
	}
	kept := n - skip
	cP := uint64(lmsRange(q, p.Precision))
	cP1 := uint64(lmsRange(q, p.Precision1))
	total := uint64(1)
	if kept > 0 {
		total *= pow(cP, uint64(kept-1))
		total *= cP1 // last kept position folds at p1
	}
	if skip == 0 {
		total *= cP1 // next block's first position, folded at p1
	}
	return total
}

func pow(base, exp uint64) uint64 {
	r := uint64(1)
	for i := uint64(0); i < exp; i++ {
		r *= base
	}
	return r
}

// isSmoothLMSSingleton reports whether a smoothLMS category is its own
// additive inverse, per the step's table.
func isSmoothLMSSingleton(q int, p StepParameters, categoryIndex uint64) bool {
	return smoothLMSTable(q, p).singleton[categoryIndex]
}
